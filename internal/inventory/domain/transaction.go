package domain

import (
	"fmt"
	"time"
)

type TransactionType string

const (
	TypeReserve TransactionType = "RESERVE"
	TypeRelease TransactionType = "RELEASE"
	TypeExport  TransactionType = "EXPORT"
	TypeImport  TransactionType = "IMPORT"
	TypeAdjust  TransactionType = "ADJUST"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeReserve, TypeRelease, TypeExport, TypeImport, TypeAdjust:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxCompleted TransactionStatus = "COMPLETED"
	TxCancelled TransactionStatus = "CANCELLED"
)

// Final reports whether the status is terminal. Completed and cancelled
// transactions are immutable; corrections are new transactions.
func (s TransactionStatus) Final() bool {
	return s == TxCompleted || s == TxCancelled
}

// Reference types linking a transaction to the document that caused it.
const (
	RefOrder         = "ORDER"
	RefPurchaseOrder = "PURCHASE_ORDER"
)

// Transaction is one append-mostly ledger entry describing a stock-affecting
// event. Quantity carries its sign only for ADJUST; for every other type it
// is an unsigned magnitude and the direction is implied by the type.
type Transaction struct {
	ID            int64
	Code          string
	StockID       int64
	VariantID     int64
	WarehouseID   int64
	Type          TransactionType
	Quantity      int
	PricePerItem  float64
	Note          string
	ReferenceType string
	ReferenceCode string
	Status        TransactionStatus
	CreatedBy     int64
	UpdatedBy     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var codePrefixes = map[TransactionType]string{
	TypeReserve: "RES",
	TypeRelease: "REL",
	TypeExport:  "EXP",
	TypeImport:  "IMP",
	TypeAdjust:  "ADJ",
}

// TransactionCode builds the human-readable ledger code
// <PREFIX>-<ddMMyyyy>-<seq>, where seq is 1-based within the day.
func TransactionCode(t TransactionType, at time.Time, seq int64) string {
	prefix, ok := codePrefixes[t]
	if !ok {
		prefix = "TXN"
	}
	return fmt.Sprintf("%s-%s-%d", prefix, at.Format("02012006"), seq)
}
