package domain

import "time"

type ShipperStatus string

const (
	ShipperOnline   ShipperStatus = "ONLINE"
	ShipperShipping ShipperStatus = "SHIPPING"
	ShipperOffline  ShipperStatus = "OFFLINE"
)

// Shipper is a courier attached to one warehouse. The active-delivery count
// is derived from the delivery table, never stored here.
type Shipper struct {
	ID          int64
	FullName    string
	Phone       string
	Email       string
	Active      bool
	WarehouseID int64
	Status      ShipperStatus
	CreatedAt   time.Time
}

// Available reports whether the shipper may take on new deliveries at all;
// the load cap is checked separately against the derived count.
func (s *Shipper) Available() bool {
	return s.Active && s.Status == ShipperOnline
}
