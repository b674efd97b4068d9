package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/orderflow/fulfillment/internal/inventory/domain"
)

// Service implements the stock reservation manager, the transaction status
// machine and the variant availability synchronizer over the ledger store.
type Service struct {
	log     *slog.Logger
	stocks  StockRepository
	txs     TransactionRepository
	runner  TxRunner
	catalog CatalogClient
	orders  OrderClient
	outbox  OutboxWriter
	now     func() time.Time
}

func NewService(log *slog.Logger, stocks StockRepository, txs TransactionRepository,
	runner TxRunner, catalog CatalogClient, orders OrderClient, outbox OutboxWriter) *Service {
	return &Service{
		log:     log,
		stocks:  stocks,
		txs:     txs,
		runner:  runner,
		catalog: catalog,
		orders:  orders,
		outbox:  outbox,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetAvailableQuantity sums sellable units for a variant across all
// warehouses.
func (s *Service) GetAvailableQuantity(ctx context.Context, variantID int64) (int, error) {
	recs, err := s.stocks.ListByVariant(ctx, variantID, false)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, r := range recs {
		total += r.Available()
	}
	return total, nil
}

// SetStockActive flips the sellable flag. Stock records are never deleted.
func (s *Service) SetStockActive(ctx context.Context, stockID int64, active bool) error {
	return s.stocks.SetActive(ctx, stockID, active)
}

func (s *Service) ListStocks(ctx context.Context, f StockFilter) ([]*domain.StockRecord, error) {
	return s.stocks.List(ctx, f)
}

func (s *Service) ListTransactions(ctx context.Context, f TransactionFilter) ([]*domain.Transaction, error) {
	return s.txs.List(ctx, f)
}

// RefreshVariantStatus recomputes the availability label from the sum across
// all warehouses and publishes it. Used after coarse-grained updates where
// only the global recompute is cheap to reason about.
func (s *Service) RefreshVariantStatus(ctx context.Context, variantID int64) error {
	recs, err := s.stocks.ListByVariant(ctx, variantID, false)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	total := 0
	for _, r := range recs {
		total += r.Available()
	}
	s.notifyVariantStatus(ctx, variantID, domain.StatusForAvailable(total), total)
	return nil
}

// publishAvailability compares the label before and after a change to one
// stock record and notifies the catalog only when it moved, to avoid
// redundant cross-service chatter.
func (s *Service) publishAvailability(ctx context.Context, variantID int64, oldAvailable, newAvailable int) {
	oldStatus := domain.StatusForAvailable(oldAvailable)
	newStatus := domain.StatusForAvailable(newAvailable)
	if oldStatus == newStatus {
		return
	}
	s.notifyVariantStatus(ctx, variantID, newStatus, newAvailable)
}

// notifyVariantStatus pushes the label to the catalog and records an outbox
// event. The catalog call is best effort: availability is derived data, so a
// failed push is logged for reconciliation instead of failing the ledger
// operation that triggered it.
func (s *Service) notifyVariantStatus(ctx context.Context, variantID int64, status domain.AvailabilityStatus, available int) {
	if err := s.catalog.ChangeVariantStatus(ctx, variantID, status); err != nil {
		s.log.Error("catalog availability push failed, reconciliation required",
			"variant_id", variantID, "status", status, "err", err)
	}
	payload, _ := json.Marshal(map[string]any{
		"variant_id": variantID,
		"status":     status,
		"available":  available,
	})
	if err := s.outbox.Enqueue(ctx, "variant", fmt.Sprint(variantID), "availability.changed", payload); err != nil {
		s.log.Error("availability outbox enqueue failed", "variant_id", variantID, "err", err)
	}
}

// newTransaction fills the generated fields common to every ledger write.
func (s *Service) newTransaction(ctx context.Context, rec *domain.StockRecord, t domain.TransactionType, qty int, status domain.TransactionStatus) (*domain.Transaction, error) {
	now := s.now()
	seq, err := s.txs.NextDailySequence(ctx, now)
	if err != nil {
		return nil, err
	}
	return &domain.Transaction{
		Code:        domain.TransactionCode(t, now, seq),
		StockID:     rec.ID,
		VariantID:   rec.VariantID,
		WarehouseID: rec.WarehouseID,
		Type:        t,
		Quantity:    qty,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
