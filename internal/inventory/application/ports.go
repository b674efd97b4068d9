package application

import (
	"context"
	"time"

	"github.com/orderflow/fulfillment/internal/inventory/domain"
)

// TxRunner scopes a function to one all-or-nothing unit of work. Repository
// calls made with the context passed to fn share the same database
// transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type StockFilter struct {
	VariantID   int64
	WarehouseID int64
	ActiveOnly  bool
}

type StockRepository interface {
	GetByID(ctx context.Context, id int64, forUpdate bool) (*domain.StockRecord, error)
	// FindByVariantAndWarehouse returns ErrNotFound when no record exists.
	FindByVariantAndWarehouse(ctx context.Context, variantID, warehouseID int64, forUpdate bool) (*domain.StockRecord, error)
	// ListByVariant returns records ordered by warehouse id so concurrent
	// reservations lock rows in a stable order.
	ListByVariant(ctx context.Context, variantID int64, forUpdate bool) ([]*domain.StockRecord, error)
	Create(ctx context.Context, rec *domain.StockRecord) error
	SaveQuantities(ctx context.Context, rec *domain.StockRecord) error
	SetActive(ctx context.Context, id int64, active bool) error
	List(ctx context.Context, f StockFilter) ([]*domain.StockRecord, error)
}

type TransactionFilter struct {
	VariantID     int64
	WarehouseID   int64
	Type          domain.TransactionType
	Status        domain.TransactionStatus
	ReferenceType string
	ReferenceCode string
	From          time.Time
	To            time.Time
	Limit         int
	Offset        int
}

type TransactionRepository interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	GetByID(ctx context.Context, id int64, forUpdate bool) (*domain.Transaction, error)
	Save(ctx context.Context, tx *domain.Transaction) error
	// NextDailySequence returns the 1-based ordinal for a transaction created
	// at the given instant, used to build ledger codes.
	NextDailySequence(ctx context.Context, at time.Time) (int64, error)
	ListPendingReserves(ctx context.Context, orderNumber string) ([]*domain.Transaction, error)
	ListByOrder(ctx context.Context, orderNumber string, t domain.TransactionType, statuses ...domain.TransactionStatus) ([]*domain.Transaction, error)
	List(ctx context.Context, f TransactionFilter) ([]*domain.Transaction, error)
}

// CatalogClient is the product catalog collaborator.
type CatalogClient interface {
	ChangeVariantStatus(ctx context.Context, variantID int64, status domain.AvailabilityStatus) error
	UpdateImportPrice(ctx context.Context, variantID int64, oldQty, newQty int, price float64) error
}

// Order status ids understood by the order collaborator.
const (
	OrderStatusProcessing int64 = 3
	OrderStatusShipped    int64 = 4
	OrderStatusDelivered  int64 = 5
	OrderStatusCancelled  int64 = 6
)

// OrderClient is the order service collaborator.
type OrderClient interface {
	UpdateOrderStatus(ctx context.Context, orderNumbers []string, actorID, statusID int64, note string) error
}

// OutboxWriter appends an event row inside the caller's unit of work.
type OutboxWriter interface {
	Enqueue(ctx context.Context, aggregateType, aggregateID, eventType string, payload []byte) error
}
