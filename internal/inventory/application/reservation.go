package application

import (
	"context"
	"fmt"

	"github.com/orderflow/fulfillment/internal/inventory/domain"
)

// Reserve holds qty units of a variant for an order, spread greedily across
// the warehouses that have sellable stock. One PENDING RESERVE transaction is
// written per warehouse touched. The whole call is its own unit of work,
// intentionally independent of any enclosing order-creation transaction:
// callers undo a successful reservation only by calling Release.
func (s *Service) Reserve(ctx context.Context, variantID int64, qty int, orderNumber string) (map[int64]int, error) {
	if variantID <= 0 || qty <= 0 || orderNumber == "" {
		return nil, fmt.Errorf("%w: variant id, quantity and order number are required", ErrValidation)
	}

	allocation := make(map[int64]int)
	err := s.runner.WithinTx(ctx, func(ctx context.Context) error {
		recs, err := s.stocks.ListByVariant(ctx, variantID, true)
		if err != nil {
			return err
		}

		total := 0
		for _, rec := range recs {
			if rec.Active {
				total += rec.Available()
			}
		}
		if total < qty {
			return fmt.Errorf("%w: variant %d has %d available, %d requested", ErrInsufficientStock, variantID, total, qty)
		}

		pending := qty
		for _, rec := range recs {
			if !rec.Active {
				continue
			}
			available := rec.Available()
			if available <= 0 {
				continue
			}

			add := min(pending, available)
			oldAvailable := rec.Available()
			rec.ReservedQuantity += add
			if err := s.stocks.SaveQuantities(ctx, rec); err != nil {
				return err
			}
			s.publishAvailability(ctx, rec.VariantID, oldAvailable, rec.Available())

			tx, err := s.newTransaction(ctx, rec, domain.TypeReserve, add, domain.TxPending)
			if err != nil {
				return err
			}
			tx.ReferenceType = domain.RefOrder
			tx.ReferenceCode = orderNumber
			if err := s.txs.Create(ctx, tx); err != nil {
				return err
			}

			allocation[rec.WarehouseID] = add
			pending -= add
			if pending == 0 {
				break
			}
		}
		if pending > 0 {
			// A concurrent consumer raced past the sum check; the enclosing
			// transaction rolls back every partial write of this call.
			return fmt.Errorf("%w: variant %d short by %d after allocation", ErrInsufficientStock, variantID, pending)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("stock reserved", "variant_id", variantID, "quantity", qty, "order_number", orderNumber)
	return allocation, nil
}

// Release cancels every PENDING RESERVE transaction of an order. With
// adjustQuantity the reserved counters are handed back to available stock;
// without it the hold is assumed already consumed (an export took it over).
// Releasing an order with no pending reservations is a no-op.
func (s *Service) Release(ctx context.Context, orderNumber, reason string, adjustQuantity bool) error {
	if orderNumber == "" {
		return fmt.Errorf("%w: order number is required", ErrValidation)
	}
	return s.runner.WithinTx(ctx, func(ctx context.Context) error {
		return s.releaseWithin(ctx, orderNumber, reason, adjustQuantity)
	})
}

// releaseWithin is Release without the transaction boundary, so the status
// machine can run it inside its own unit of work.
func (s *Service) releaseWithin(ctx context.Context, orderNumber, reason string, adjustQuantity bool) error {
	reserves, err := s.txs.ListPendingReserves(ctx, orderNumber)
	if err != nil {
		return err
	}
	if len(reserves) == 0 {
		return nil
	}

	for _, reserve := range reserves {
		rec, err := s.stocks.GetByID(ctx, reserve.StockID, true)
		if err != nil {
			return err
		}

		if adjustQuantity {
			oldAvailable := rec.Available()
			rec.ReservedQuantity = max(0, rec.ReservedQuantity-reserve.Quantity)
			if err := s.stocks.SaveQuantities(ctx, rec); err != nil {
				return err
			}
			s.publishAvailability(ctx, rec.VariantID, oldAvailable, rec.Available())
		}

		release, err := s.newTransaction(ctx, rec, domain.TypeRelease, reserve.Quantity, domain.TxCompleted)
		if err != nil {
			return err
		}
		release.ReferenceType = domain.RefOrder
		release.ReferenceCode = orderNumber
		release.Note = reason
		if err := s.txs.Create(ctx, release); err != nil {
			return err
		}

		reserve.Status = domain.TxCancelled
		reserve.UpdatedAt = s.now()
		if err := s.txs.Save(ctx, reserve); err != nil {
			return err
		}
	}

	s.log.Info("reservation released", "order_number", orderNumber, "count", len(reserves), "adjusted", adjustQuantity)
	return nil
}
