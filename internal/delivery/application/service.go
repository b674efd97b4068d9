package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/orderflow/fulfillment/internal/delivery/domain"
)

// Service orchestrates delivery lifecycle operations. Every mutating
// operation runs in one unit of work via the TxRunner.
type Service struct {
	log        *slog.Logger
	deliveries DeliveryRepository
	shippers   ShipperRepository
	runner     TxRunner
	inventory  InventoryClient
	orders     OrderClient
	outbox     OutboxWriter
	now        func() time.Time
}

func NewService(
	log *slog.Logger,
	deliveries DeliveryRepository,
	shippers ShipperRepository,
	runner TxRunner,
	inventory InventoryClient,
	orders OrderClient,
	outbox OutboxWriter,
) *Service {
	return &Service{
		log:        log,
		deliveries: deliveries,
		shippers:   shippers,
		runner:     runner,
		inventory:  inventory,
		orders:     orders,
		outbox:     outbox,
		now:        time.Now,
	}
}

type CreateDeliveryInput struct {
	OrderID         int64
	OrderNumber     string
	ShippingName    string
	ShippingAddress string
	ShippingPhone   string
	PaymentMethod   string
	CODAmount       float64
	WarehouseID     int64
	Items           []CreateDeliveryItem
}

type CreateDeliveryItem struct {
	OrderItemID int64
	VariantID   int64
	VariantName string
	SKU         string
	Quantity    int
	UnitPrice   float64
	ImageURL    string
}

// Create registers a new PENDING delivery with its line items.
func (s *Service) Create(ctx context.Context, in CreateDeliveryInput) (*domain.DeliveryOrder, error) {
	if in.OrderID <= 0 || in.OrderNumber == "" || in.WarehouseID <= 0 || len(in.Items) == 0 {
		return nil, ErrValidation
	}
	for _, it := range in.Items {
		if it.VariantID <= 0 || it.Quantity <= 0 {
			return nil, ErrValidation
		}
	}

	var d *domain.DeliveryOrder
	err := s.runner.WithinTx(ctx, func(ctx context.Context) error {
		seq, err := s.deliveries.NextDailySequence(ctx, s.now())
		if err != nil {
			return err
		}
		d = &domain.DeliveryOrder{
			DeliveryNumber:  domain.DeliveryNumber(s.now(), seq),
			OrderID:         in.OrderID,
			OrderNumber:     in.OrderNumber,
			ShippingName:    in.ShippingName,
			ShippingAddress: in.ShippingAddress,
			ShippingPhone:   in.ShippingPhone,
			PaymentMethod:   in.PaymentMethod,
			CODAmount:       in.CODAmount,
			WarehouseID:     in.WarehouseID,
			Status:          domain.DeliveryPending,
		}
		for _, it := range in.Items {
			d.Items = append(d.Items, domain.DeliveryItem{
				OrderItemID: it.OrderItemID,
				VariantID:   it.VariantID,
				VariantName: it.VariantName,
				SKU:         it.SKU,
				Quantity:    it.Quantity,
				UnitPrice:   it.UnitPrice,
				ImageURL:    it.ImageURL,
			})
		}
		return s.deliveries.Create(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) GetDelivery(ctx context.Context, id int64) (*domain.DeliveryOrder, error) {
	return s.deliveries.GetByID(ctx, id, false)
}

func (s *Service) ListDeliveries(ctx context.Context, f DeliveryFilter) ([]*domain.DeliveryOrder, error) {
	return s.deliveries.List(ctx, f)
}

func (s *Service) ListShipperDeliveries(ctx context.Context, shipperID int64) ([]*domain.DeliveryOrder, error) {
	return s.deliveries.ListActiveByShipper(ctx, shipperID)
}

type CreateShipperInput struct {
	FullName    string
	Phone       string
	Email       string
	WarehouseID int64
}

// CreateShipper registers a courier; new shippers start active and OFFLINE.
func (s *Service) CreateShipper(ctx context.Context, in CreateShipperInput) (*domain.Shipper, error) {
	if in.FullName == "" || in.WarehouseID <= 0 {
		return nil, ErrValidation
	}
	sh := &domain.Shipper{
		FullName:    in.FullName,
		Phone:       in.Phone,
		Email:       in.Email,
		Active:      true,
		WarehouseID: in.WarehouseID,
		Status:      domain.ShipperOffline,
	}
	if err := s.shippers.Create(ctx, sh); err != nil {
		return nil, err
	}
	return sh, nil
}

func (s *Service) GetShipper(ctx context.Context, id int64) (*domain.Shipper, error) {
	return s.shippers.GetByID(ctx, id)
}

func (s *Service) ListShippers(ctx context.Context, f ShipperFilter) ([]*domain.Shipper, error) {
	return s.shippers.List(ctx, f)
}

// SetShipperStatus flips a shipper ONLINE or OFFLINE. SHIPPING is derived
// from workload, never set directly.
func (s *Service) SetShipperStatus(ctx context.Context, shipperID int64, status domain.ShipperStatus) error {
	if status != domain.ShipperOnline && status != domain.ShipperOffline {
		return ErrValidation
	}
	return s.shippers.SetStatus(ctx, shipperID, status)
}

func (s *Service) SetShipperActive(ctx context.Context, shipperID int64, active bool) error {
	return s.shippers.SetActive(ctx, shipperID, active)
}

func (s *Service) emit(ctx context.Context, d *domain.DeliveryOrder, eventType string) {
	payload, err := json.Marshal(map[string]any{
		"delivery_number": d.DeliveryNumber,
		"order_number":    d.OrderNumber,
		"warehouse_id":    d.WarehouseID,
		"status":          d.Status,
		"shipper_id":      d.AssignedShipperID,
	})
	if err != nil {
		return
	}
	if err := s.outbox.Enqueue(ctx, "delivery", d.DeliveryNumber, eventType, payload); err != nil {
		s.log.Error("outbox enqueue failed",
			"delivery_number", d.DeliveryNumber, "event_type", eventType, "err", err)
	}
}
