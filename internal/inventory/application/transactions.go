package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/orderflow/fulfillment/internal/inventory/domain"
)

// TransactionInput is one requested ledger write. Quantity keeps its sign for
// ADJUST; for every other type the magnitude is stored and the sign is
// implied by the type.
type TransactionInput struct {
	VariantID     int64
	WarehouseID   int64
	Type          domain.TransactionType
	Quantity      int
	PricePerItem  float64
	Note          string
	ReferenceType string
	ReferenceCode string
}

// OrderExportItem is one order line to export on shipment.
type OrderExportItem struct {
	VariantID    int64
	Quantity     int
	PricePerItem float64
}

// CreateTransactions writes a batch of PENDING ledger transactions in one
// unit of work, lazily creating the (variant, warehouse) stock record at
// quantity zero when it does not exist yet. EXPORT pre-validates available
// stock and immediately takes the reservation hold, treating the export as
// already backed by it.
func (s *Service) CreateTransactions(ctx context.Context, inputs []TransactionInput, actorID int64) ([]*domain.Transaction, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no transactions given", ErrValidation)
	}
	for _, in := range inputs {
		if err := validateInput(in); err != nil {
			return nil, err
		}
	}

	var created []*domain.Transaction
	err := s.runner.WithinTx(ctx, func(ctx context.Context) error {
		for _, in := range inputs {
			rec, err := s.stocks.FindByVariantAndWarehouse(ctx, in.VariantID, in.WarehouseID, true)
			if errors.Is(err, ErrNotFound) {
				rec = &domain.StockRecord{
					VariantID:   in.VariantID,
					WarehouseID: in.WarehouseID,
					Active:      true,
					CreatedAt:   s.now(),
					UpdatedAt:   s.now(),
				}
				if err = s.stocks.Create(ctx, rec); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}

			qty := in.Quantity
			if in.Type != domain.TypeAdjust {
				qty = abs(qty)
			}
			tx, err := s.newTransaction(ctx, rec, in.Type, qty, domain.TxPending)
			if err != nil {
				return err
			}
			tx.PricePerItem = in.PricePerItem
			tx.Note = in.Note
			tx.ReferenceType = in.ReferenceType
			tx.ReferenceCode = in.ReferenceCode
			tx.CreatedBy = actorID
			if err := s.txs.Create(ctx, tx); err != nil {
				return err
			}

			if in.Type == domain.TypeExport {
				if rec.Available() < qty {
					return fmt.Errorf("%w: stock %d has %d available, export of %d requested",
						ErrInsufficientStock, rec.ID, rec.Available(), qty)
				}
				oldAvailable := rec.Available()
				rec.ReservedQuantity += qty
				if err := s.stocks.SaveQuantities(ctx, rec); err != nil {
					return err
				}
				s.publishAvailability(ctx, rec.VariantID, oldAvailable, rec.Available())
			}

			created = append(created, tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func validateInput(in TransactionInput) error {
	if !in.Type.Valid() || in.Type == domain.TypeReserve || in.Type == domain.TypeRelease {
		return fmt.Errorf("%w: transaction type %q cannot be created directly", ErrValidation, in.Type)
	}
	if in.VariantID <= 0 || in.WarehouseID <= 0 {
		return fmt.Errorf("%w: variant id and warehouse id are required", ErrValidation)
	}
	if in.Quantity == 0 || (in.Type != domain.TypeAdjust && in.Quantity < 0) {
		return fmt.Errorf("%w: invalid quantity %d for %s", ErrValidation, in.Quantity, in.Type)
	}
	if in.ReferenceType != "" && in.ReferenceCode == "" {
		return fmt.Errorf("%w: reference code is required with reference type %q", ErrValidation, in.ReferenceType)
	}
	return nil
}

// CreateOrderExports writes the PENDING EXPORT batch backing a shipment,
// allocating each order line across the warehouses holding the variant. Holds
// are taken immediately; completing the exports later moves the stock.
func (s *Service) CreateOrderExports(ctx context.Context, orderNumber string, actorID int64, items []OrderExportItem) ([]*domain.Transaction, error) {
	if orderNumber == "" || len(items) == 0 {
		return nil, fmt.Errorf("%w: order number and items are required", ErrValidation)
	}

	var created []*domain.Transaction
	err := s.runner.WithinTx(ctx, func(ctx context.Context) error {
		for _, item := range items {
			if item.VariantID <= 0 || item.Quantity <= 0 {
				return fmt.Errorf("%w: invalid order line (variant %d, qty %d)", ErrValidation, item.VariantID, item.Quantity)
			}
			recs, err := s.stocks.ListByVariant(ctx, item.VariantID, true)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				return fmt.Errorf("%w: no stock records for variant %d", ErrNotFound, item.VariantID)
			}

			pending := item.Quantity
			for _, rec := range recs {
				if pending == 0 {
					break
				}
				if !rec.Active || rec.Available() <= 0 {
					continue
				}

				exportQty := min(pending, rec.Available())
				oldAvailable := rec.Available()
				rec.ReservedQuantity += exportQty
				if err := s.stocks.SaveQuantities(ctx, rec); err != nil {
					return err
				}
				s.publishAvailability(ctx, rec.VariantID, oldAvailable, rec.Available())

				tx, err := s.newTransaction(ctx, rec, domain.TypeExport, exportQty, domain.TxPending)
				if err != nil {
					return err
				}
				tx.PricePerItem = item.PricePerItem
				tx.ReferenceType = domain.RefOrder
				tx.ReferenceCode = orderNumber
				tx.CreatedBy = actorID
				tx.Note = fmt.Sprintf("export for order %s", orderNumber)
				if err := s.txs.Create(ctx, tx); err != nil {
					return err
				}

				created = append(created, tx)
				pending -= exportQty
			}
			if pending > 0 {
				return fmt.Errorf("%w: variant %d short by %d for order %s",
					ErrInsufficientStock, item.VariantID, pending, orderNumber)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order exports created", "order_number", orderNumber, "count", len(created))
	return created, nil
}

// CreateReturnTransactions restores the stock a shipped order exported: one
// immediately-completed IMPORT per COMPLETED EXPORT of the order. Used when a
// shipping delivery is cancelled or fails permanently.
func (s *Service) CreateReturnTransactions(ctx context.Context, orderNumber string, actorID int64, note string) ([]*domain.Transaction, error) {
	if orderNumber == "" {
		return nil, fmt.Errorf("%w: order number is required", ErrValidation)
	}

	var created []*domain.Transaction
	err := s.runner.WithinTx(ctx, func(ctx context.Context) error {
		exports, err := s.txs.ListByOrder(ctx, orderNumber, domain.TypeExport, domain.TxCompleted)
		if err != nil {
			return err
		}
		for _, export := range exports {
			rec, err := s.stocks.GetByID(ctx, export.StockID, true)
			if err != nil {
				return err
			}

			oldAvailable := rec.Available()
			rec.Quantity += export.Quantity
			if err := s.stocks.SaveQuantities(ctx, rec); err != nil {
				return err
			}
			s.publishAvailability(ctx, rec.VariantID, oldAvailable, rec.Available())

			imp, err := s.newTransaction(ctx, rec, domain.TypeImport, export.Quantity, domain.TxCompleted)
			if err != nil {
				return err
			}
			imp.PricePerItem = export.PricePerItem
			imp.ReferenceType = domain.RefOrder
			imp.ReferenceCode = orderNumber
			imp.CreatedBy = actorID
			imp.Note = note
			if err := s.txs.Create(ctx, imp); err != nil {
				return err
			}
			created = append(created, imp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("return imports created", "order_number", orderNumber, "count", len(created))
	return created, nil
}

// orderNotify describes the collaborator call owed after a status update
// commits. The remote call is made outside the unit of work: a failure there
// never rolls back the committed ledger state.
type orderNotify struct {
	orderNumber string
	statusID    int64
	note        string
}

// UpdateTransactionStatus drives a PENDING transaction to COMPLETED or
// CANCELLED and applies its stock effect exactly once. RESERVE transactions
// are off limits; they only transition through Release.
func (s *Service) UpdateTransactionStatus(ctx context.Context, id int64, status domain.TransactionStatus, note string, actorID int64) error {
	if status != domain.TxCompleted && status != domain.TxCancelled {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var notify *orderNotify
	var code string
	err := s.runner.WithinTx(ctx, func(ctx context.Context) error {
		tx, err := s.txs.GetByID(ctx, id, true)
		if err != nil {
			return err
		}
		code = tx.Code

		if tx.Type == domain.TypeReserve {
			return fmt.Errorf("%w: reserve transactions only transition via release", ErrInvalidTransition)
		}
		if tx.Status.Final() {
			return fmt.Errorf("%w: transaction %s is already %s", ErrInvalidTransition, tx.Code, tx.Status)
		}

		rec, err := s.stocks.GetByID(ctx, tx.StockID, true)
		if err != nil {
			return err
		}

		switch status {
		case domain.TxCompleted:
			if err := s.applyCompletion(ctx, tx, rec); err != nil {
				return err
			}
		case domain.TxCancelled:
			if err := s.applyCancellation(ctx, tx, rec); err != nil {
				return err
			}
		}

		tx.Status = status
		tx.Note = note
		tx.UpdatedBy = actorID
		tx.UpdatedAt = s.now()
		if err := s.txs.Save(ctx, tx); err != nil {
			return err
		}

		if tx.ReferenceType == domain.RefOrder {
			notify, err = s.orderFollowUp(ctx, tx, status, actorID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if notify != nil {
		if err := s.orders.UpdateOrderStatus(ctx, []string{notify.orderNumber}, actorID, notify.statusID, notify.note); err != nil {
			remote := &RemoteError{
				Collaborator:    "order-service",
				Op:              "UpdateOrderStatus",
				OrderNumber:     notify.orderNumber,
				TransactionCode: code,
				Err:             err,
			}
			s.log.Error("order status push failed after ledger commit, reconciliation required",
				"order_number", notify.orderNumber, "transaction_code", code, "err", err)
			return remote
		}
	}
	return nil
}

func (s *Service) applyCompletion(ctx context.Context, tx *domain.Transaction, rec *domain.StockRecord) error {
	oldQuantity := rec.Quantity
	oldAvailable := rec.Available()

	switch tx.Type {
	case domain.TypeExport:
		qty := abs(tx.Quantity)
		if rec.Quantity-qty < 0 || rec.ReservedQuantity-qty < 0 {
			return fmt.Errorf("%w: stock %d (qty %d, reserved %d) cannot complete export of %d",
				ErrExcessExport, rec.ID, rec.Quantity, rec.ReservedQuantity, qty)
		}
		rec.Quantity -= qty
		rec.ReservedQuantity -= qty
	case domain.TypeImport:
		rec.Quantity += abs(tx.Quantity)
		if tx.ReferenceType == domain.RefPurchaseOrder && tx.PricePerItem > 0 {
			// Weighted-average costing input for the catalog. Best effort:
			// the import itself is authoritative.
			if err := s.catalog.UpdateImportPrice(ctx, rec.VariantID, oldQuantity, rec.Quantity, tx.PricePerItem); err != nil {
				s.log.Error("import price push failed, reconciliation required",
					"variant_id", rec.VariantID, "transaction_code", tx.Code, "err", err)
			}
		}
	case domain.TypeAdjust:
		if rec.Quantity+tx.Quantity < 0 {
			return fmt.Errorf("%w: adjust of %d would take stock %d below zero", ErrInsufficientStock, tx.Quantity, rec.ID)
		}
		rec.Quantity += tx.Quantity
	default:
		return fmt.Errorf("%w: type %s cannot be completed", ErrInvalidStatus, tx.Type)
	}

	if err := s.stocks.SaveQuantities(ctx, rec); err != nil {
		return err
	}
	s.publishAvailability(ctx, rec.VariantID, oldAvailable, rec.Available())
	return nil
}

func (s *Service) applyCancellation(ctx context.Context, tx *domain.Transaction, rec *domain.StockRecord) error {
	// Only an export holds reservation that must be handed back; cancelling
	// any other type has no stock effect.
	if tx.Type != domain.TypeExport {
		return nil
	}
	qty := abs(tx.Quantity)
	if rec.ReservedQuantity-qty < 0 {
		return fmt.Errorf("%w: cancelling export %s would drop reserved below zero", ErrInvalidState, tx.Code)
	}
	oldAvailable := rec.Available()
	rec.ReservedQuantity -= qty
	if err := s.stocks.SaveQuantities(ctx, rec); err != nil {
		return err
	}
	s.publishAvailability(ctx, rec.VariantID, oldAvailable, rec.Available())
	return nil
}

// orderFollowUp resolves what the paired order must be told once this
// transaction's status change commits.
func (s *Service) orderFollowUp(ctx context.Context, tx *domain.Transaction, status domain.TransactionStatus, actorID int64) (*orderNotify, error) {
	orderNumber := tx.ReferenceCode

	switch status {
	case domain.TxCompleted:
		// The order is shipped only once every export backing it completed.
		exports, err := s.txs.ListByOrder(ctx, orderNumber, domain.TypeExport)
		if err != nil {
			return nil, err
		}
		for _, e := range exports {
			if e.Status != domain.TxCompleted {
				return nil, nil
			}
		}
		return &orderNotify{
			orderNumber: orderNumber,
			statusID:    OrderStatusShipped,
			note:        fmt.Sprintf("stock export %s completed", tx.Code),
		}, nil

	case domain.TxCancelled:
		pending, err := s.txs.ListByOrder(ctx, orderNumber, domain.TypeExport, domain.TxPending)
		if err != nil {
			return nil, err
		}
		for _, p := range pending {
			rec, err := s.stocks.GetByID(ctx, p.StockID, true)
			if err != nil {
				return nil, err
			}
			if err := s.applyCancellation(ctx, p, rec); err != nil {
				return nil, err
			}
			p.Status = domain.TxCancelled
			p.UpdatedBy = actorID
			p.UpdatedAt = s.now()
			if err := s.txs.Save(ctx, p); err != nil {
				return nil, err
			}
		}
		// The export holds were just reversed, so the reservation itself is
		// released without re-adjusting the counters.
		if err := s.releaseWithin(ctx, orderNumber, "order transaction cancelled", false); err != nil {
			return nil, err
		}
		return &orderNotify{
			orderNumber: orderNumber,
			statusID:    OrderStatusCancelled,
			note:        fmt.Sprintf("stock export %s cancelled", tx.Code),
		}, nil
	}
	return nil, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
