package application

import (
	"context"
	"fmt"

	"github.com/orderflow/fulfillment/internal/delivery/domain"
	"github.com/orderflow/fulfillment/pkg/saga"
)

const EventDeliveryStatusChanged = "delivery.status_changed"

// ChangeStatus moves a delivery through the state machine on behalf of its
// assigned shipper and runs the transition's side effects.
func (s *Service) ChangeStatus(ctx context.Context, deliveryID int64, newStatus domain.DeliveryStatus, reason, imageURL string, shipperID int64) error {
	if !newStatus.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, newStatus)
	}
	return s.runner.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.deliveries.GetByID(ctx, deliveryID, true)
		if err != nil {
			return err
		}
		if d.Status == newStatus {
			return fmt.Errorf("%w: delivery %d is already %s", ErrValidation, deliveryID, newStatus)
		}
		if d.AssignedShipperID == nil || *d.AssignedShipperID != shipperID {
			return fmt.Errorf("%w: delivery %d is not assigned to shipper %d", ErrForbidden, deliveryID, shipperID)
		}
		return s.transition(ctx, d, newStatus, reason, imageURL)
	})
}

// CancelByOrder cancels every delivery of an order. Used by the order
// service when an order is cancelled upstream.
func (s *Service) CancelByOrder(ctx context.Context, orderID int64, reason string) error {
	return s.runner.WithinTx(ctx, func(ctx context.Context) error {
		orders, err := s.deliveries.ListByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			return fmt.Errorf("%w: no deliveries for order %d", ErrNotFound, orderID)
		}
		for _, d := range orders {
			if err := s.transition(ctx, d, domain.DeliveryCancelled, reason, ""); err != nil {
				return err
			}
		}
		return nil
	})
}

// SelfCancel lets the assigned shipper hand a delivery back to the pool.
// Permitted only from ASSIGNED or FAILED; the delivery returns to PENDING
// unassigned, regardless of which of the two states it was in.
func (s *Service) SelfCancel(ctx context.Context, deliveryID, shipperID int64) error {
	return s.runner.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.deliveries.GetByID(ctx, deliveryID, true)
		if err != nil {
			return err
		}
		if d.AssignedShipperID == nil || *d.AssignedShipperID != shipperID {
			return fmt.Errorf("%w: delivery %d is not assigned to shipper %d", ErrForbidden, deliveryID, shipperID)
		}
		if d.Status != domain.DeliveryAssigned && d.Status != domain.DeliveryFailed {
			return fmt.Errorf("%w: cannot hand back a %s delivery", ErrForbidden, d.Status)
		}
		d.AssignedShipperID = nil
		d.AssignedAt = nil
		d.Status = domain.DeliveryPending
		if err := s.deliveries.Save(ctx, d); err != nil {
			return err
		}
		s.emit(ctx, d, EventDeliveryStatusChanged)
		return nil
	})
}

// transition applies one state-machine step with its side effects. Callers
// hold the row lock and the unit of work.
func (s *Service) transition(ctx context.Context, d *domain.DeliveryOrder, newStatus domain.DeliveryStatus, reason, imageURL string) error {
	current := d.Status
	if !current.CanTransition(newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, newStatus)
	}

	switch newStatus {
	case domain.DeliveryPending:
		d.AssignedShipperID = nil
		d.AssignedAt = nil

	case domain.DeliveryShipping:
		// Resuming a FAILED delivery re-runs nothing: the order was already
		// marked shipped and the stock already exported the first time.
		if current != domain.DeliveryFailed {
			if err := s.startShipping(ctx, d); err != nil {
				return err
			}
		}

	case domain.DeliveryCancelled:
		d.FailedReason = reason
		if current == domain.DeliveryShipping || current == domain.DeliveryFailed {
			note := fmt.Sprintf("return for cancelled delivery %s", d.DeliveryNumber)
			if err := s.inventory.CreateReturnTransactions(ctx, d.OrderNumber, s.actor(d), note); err != nil {
				return &RemoteError{Collaborator: "inventory", Op: "CreateReturnTransactions",
					OrderNumber: d.OrderNumber, DeliveryID: d.ID, Err: err}
			}
		}

	case domain.DeliveryFailed:
		d.FailedReason = reason

	case domain.DeliveryDelivered:
		if imageURL == "" {
			return fmt.Errorf("%w: proof-of-delivery image required", ErrValidation)
		}
		d.DeliveredImageURL = imageURL
		now := s.now()
		d.DeliveredAt = &now

		siblings, err := s.deliveries.ListByOrderID(ctx, d.OrderID)
		if err != nil {
			return err
		}
		lastUndelivered := true
		for _, sib := range siblings {
			if sib.ID != d.ID && sib.Status != domain.DeliveryDelivered {
				lastUndelivered = false
				break
			}
		}
		if lastUndelivered {
			note := fmt.Sprintf("delivered by shipper %d", s.actor(d))
			if err := s.orders.UpdateOrderStatus(ctx, []string{d.OrderNumber}, s.actor(d), OrderStatusDelivered, note); err != nil {
				return &RemoteError{Collaborator: "order", Op: "UpdateOrderStatus",
					OrderNumber: d.OrderNumber, DeliveryID: d.ID, Err: err}
			}
		}
	}

	d.Status = newStatus
	if err := s.deliveries.Save(ctx, d); err != nil {
		return err
	}
	s.emit(ctx, d, EventDeliveryStatusChanged)
	return nil
}

// startShipping marks the order shipped, then books the stock export. The
// order-status call registers its inverse so a failed export does not leave
// the order claiming to be shipped.
func (s *Service) startShipping(ctx context.Context, d *domain.DeliveryOrder) error {
	shipperID := s.actor(d)
	items := make([]ExportItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, ExportItem{
			VariantID:    it.VariantID,
			Quantity:     it.Quantity,
			PricePerItem: it.UnitPrice,
		})
	}

	sg := saga.New(s.log, "start-shipping").
		Then(saga.Step{
			Name: "order-status-shipped",
			Run: func(ctx context.Context) error {
				note := fmt.Sprintf("shipped by shipper %d", shipperID)
				return s.orders.UpdateOrderStatus(ctx, []string{d.OrderNumber}, shipperID, OrderStatusShipped, note)
			},
			Compensate: func(ctx context.Context) error {
				return s.orders.UpdateOrderStatus(ctx, []string{d.OrderNumber}, shipperID, OrderStatusProcessing, "")
			},
		}).
		Then(saga.Step{
			Name: "inventory-export",
			Run: func(ctx context.Context) error {
				return s.inventory.CreateOrderExports(ctx, d.OrderNumber, shipperID, items)
			},
		})

	if err := sg.Run(ctx); err != nil {
		return &RemoteError{Collaborator: "order/inventory", Op: "StartShipping",
			OrderNumber: d.OrderNumber, DeliveryID: d.ID, Err: err}
	}
	return nil
}

func (s *Service) actor(d *domain.DeliveryOrder) int64 {
	if d.AssignedShipperID != nil {
		return *d.AssignedShipperID
	}
	return 0
}
