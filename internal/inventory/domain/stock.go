package domain

import "time"

// StockRecord holds the physical and reserved unit counts of one product
// variant in one warehouse. It is never deleted, only deactivated, and is
// mutated only through reservation and transaction-status flows.
//
// Invariant: 0 <= ReservedQuantity <= Quantity.
type StockRecord struct {
	ID               int64
	VariantID        int64
	WarehouseID      int64
	Quantity         int
	ReservedQuantity int
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Available is the sellable count: physical units minus units held for
// in-flight orders.
func (s *StockRecord) Available() int {
	return s.Quantity - s.ReservedQuantity
}
