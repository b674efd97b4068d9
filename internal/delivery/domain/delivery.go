package domain

import (
	"fmt"
	"time"
)

// DeliveryOrder is one shipment of an order from one warehouse. An order
// split across warehouses yields several sibling deliveries that share its
// order number.
type DeliveryOrder struct {
	ID                int64
	DeliveryNumber    string
	OrderID           int64
	OrderNumber       string
	ShippingName      string
	ShippingAddress   string
	ShippingPhone     string
	PaymentMethod     string
	CODAmount         float64
	WarehouseID       int64
	Status            DeliveryStatus
	AssignedShipperID *int64
	AssignedAt        *time.Time
	DeliveredAt       *time.Time
	DeliveredImageURL string
	FailedReason      string
	Items             []DeliveryItem
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type DeliveryItem struct {
	ID          int64
	DeliveryID  int64
	OrderItemID int64
	VariantID   int64
	VariantName string
	SKU         string
	Quantity    int
	UnitPrice   float64
	ImageURL    string
}

// DeliveryNumber formats the human-readable number, e.g. GH-29082026-14.
// seq restarts at 1 each UTC day.
func DeliveryNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("GH-%s-%d", at.UTC().Format("02012006"), seq)
}
