package application

import (
	"context"
	"time"

	"github.com/orderflow/fulfillment/internal/delivery/domain"
)

// TxRunner scopes a function to one all-or-nothing unit of work.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type DeliveryFilter struct {
	Keyword     string
	Status      domain.DeliveryStatus
	WarehouseID int64
	ShipperID   int64
	Limit       int
	Offset      int
}

type DeliveryRepository interface {
	Create(ctx context.Context, d *domain.DeliveryOrder) error
	// GetByID loads the delivery with its items.
	GetByID(ctx context.Context, id int64, forUpdate bool) (*domain.DeliveryOrder, error)
	ListByOrderID(ctx context.Context, orderID int64) ([]*domain.DeliveryOrder, error)
	ListPending(ctx context.Context) ([]*domain.DeliveryOrder, error)
	// Save persists status, shipper assignment, timestamps, reason and image.
	Save(ctx context.Context, d *domain.DeliveryOrder) error
	CountActiveByShipper(ctx context.Context, shipperID int64) (int, error)
	ListActiveByShipper(ctx context.Context, shipperID int64) ([]*domain.DeliveryOrder, error)
	List(ctx context.Context, f DeliveryFilter) ([]*domain.DeliveryOrder, error)
	NextDailySequence(ctx context.Context, at time.Time) (int64, error)
}

type ShipperFilter struct {
	Keyword     string
	Status      domain.ShipperStatus
	WarehouseID int64
	ActiveOnly  bool
	Limit       int
	Offset      int
}

// ShipperLoad pairs a shipper with its derived active-delivery count.
type ShipperLoad struct {
	Shipper *domain.Shipper
	Active  int
}

type ShipperRepository interface {
	Create(ctx context.Context, s *domain.Shipper) error
	GetByID(ctx context.Context, id int64) (*domain.Shipper, error)
	SetStatus(ctx context.Context, id int64, status domain.ShipperStatus) error
	SetActive(ctx context.Context, id int64, active bool) error
	List(ctx context.Context, f ShipperFilter) ([]*domain.Shipper, error)
	// ListAvailableWithLoad returns every active ONLINE shipper together
	// with its current active-delivery count.
	ListAvailableWithLoad(ctx context.Context) ([]ShipperLoad, error)
}

type ExportItem struct {
	VariantID    int64
	Quantity     int
	PricePerItem float64
}

// InventoryClient drives the stock ledger for shipments and returns.
type InventoryClient interface {
	CreateOrderExports(ctx context.Context, orderNumber string, actorID int64, items []ExportItem) error
	CreateReturnTransactions(ctx context.Context, orderNumber string, actorID int64, note string) error
}

// Order status identifiers understood by the order service.
const (
	OrderStatusProcessing = 3
	OrderStatusShipped    = 4
	OrderStatusDelivered  = 5
	OrderStatusCancelled  = 6
)

type OrderClient interface {
	UpdateOrderStatus(ctx context.Context, orderNumbers []string, actorID int64, statusID int, note string) error
}

// OutboxWriter appends an event to the transactional outbox within the
// current unit of work.
type OutboxWriter interface {
	Enqueue(ctx context.Context, aggregateType, aggregateID, eventType string, payload []byte) error
}
