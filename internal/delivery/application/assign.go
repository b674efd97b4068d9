package application

import (
	"context"
	"fmt"

	"github.com/orderflow/fulfillment/internal/delivery/domain"
)

const EventDeliveryAssigned = "delivery.assigned"

// Assign hands a batch of deliveries to one shipper. The shipper must be
// active, ONLINE and under the load cap; every delivery must belong to the
// shipper's warehouse and be in a reassignable status. A delivery taken from
// another shipper is simply re-pointed; FAILED deliveries keep their status
// so the courier can retry them.
func (s *Service) Assign(ctx context.Context, shipperID int64, deliveryIDs []int64) ([]*domain.DeliveryOrder, error) {
	if shipperID <= 0 || len(deliveryIDs) == 0 {
		return nil, ErrValidation
	}

	err := s.runner.WithinTx(ctx, func(ctx context.Context) error {
		shipper, err := s.shippers.GetByID(ctx, shipperID)
		if err != nil {
			return err
		}
		if !shipper.Active {
			return fmt.Errorf("%w: shipper %d is deactivated", ErrValidation, shipperID)
		}
		if shipper.Status != domain.ShipperOnline {
			return fmt.Errorf("%w: shipper %d is not online", ErrValidation, shipperID)
		}
		active, err := s.deliveries.CountActiveByShipper(ctx, shipperID)
		if err != nil {
			return err
		}

		now := s.now()
		for _, deliveryID := range deliveryIDs {
			d, err := s.deliveries.GetByID(ctx, deliveryID, true)
			if err != nil {
				return err
			}
			if !domain.Reassignable(d.Status) {
				return fmt.Errorf("%w: delivery %d is %s", ErrInvalidTransition, deliveryID, d.Status)
			}
			if d.WarehouseID != shipper.WarehouseID {
				return fmt.Errorf("%w: delivery %d belongs to warehouse %d, shipper serves %d",
					ErrValidation, deliveryID, d.WarehouseID, shipper.WarehouseID)
			}
			// Each delivery taken from elsewhere adds to this shipper's load;
			// the whole batch must fit under the cap.
			if d.AssignedShipperID == nil || *d.AssignedShipperID != shipperID {
				if active >= domain.MaxActiveDeliveries {
					return ErrShipperOverloaded
				}
				active++
			}

			d.AssignedShipperID = &shipperID
			d.AssignedAt = &now
			if d.Status == domain.DeliveryPending {
				d.Status = domain.DeliveryAssigned
			}
			if err := s.deliveries.Save(ctx, d); err != nil {
				return err
			}
			s.emit(ctx, d, EventDeliveryAssigned)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.deliveries.ListActiveByShipper(ctx, shipperID)
}

// AutoAssign sweeps all PENDING deliveries and hands each to the
// least-loaded available shipper of its warehouse, skipping deliveries with
// no eligible shipper. Returns the number of deliveries assigned.
func (s *Service) AutoAssign(ctx context.Context) (int, error) {
	assigned := 0
	err := s.runner.WithinTx(ctx, func(ctx context.Context) error {
		pending, err := s.deliveries.ListPending(ctx)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		loads, err := s.shippers.ListAvailableWithLoad(ctx)
		if err != nil {
			return err
		}
		if len(loads) == 0 {
			return nil
		}

		byWarehouse := make(map[int64][]*ShipperLoad)
		for i := range loads {
			l := &loads[i]
			byWarehouse[l.Shipper.WarehouseID] = append(byWarehouse[l.Shipper.WarehouseID], l)
		}

		now := s.now()
		for _, d := range pending {
			var pick *ShipperLoad
			for _, l := range byWarehouse[d.WarehouseID] {
				if l.Active >= domain.MaxActiveDeliveries {
					continue
				}
				if pick == nil || l.Active < pick.Active {
					pick = l
				}
			}
			if pick == nil {
				continue
			}

			d.AssignedShipperID = &pick.Shipper.ID
			d.AssignedAt = &now
			d.Status = domain.DeliveryAssigned
			if err := s.deliveries.Save(ctx, d); err != nil {
				return err
			}
			s.emit(ctx, d, EventDeliveryAssigned)
			pick.Active++
			assigned++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return assigned, nil
}
