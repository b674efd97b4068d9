package postgres

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orderflow/fulfillment/internal/inventory/application"
	"github.com/orderflow/fulfillment/internal/inventory/domain"
)

const txColumns = `id, code, stock_id, variant_id, warehouse_id, type, quantity, price_per_item,
	note, reference_type, reference_code, status, created_by, updated_by, created_at, updated_at`

func scanTx(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.Code, &t.StockID, &t.VariantID, &t.WarehouseID, &t.Type,
		&t.Quantity, &t.PricePerItem, &t.Note, &t.ReferenceType, &t.ReferenceCode,
		&t.Status, &t.CreatedBy, &t.UpdatedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, application.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// LedgerRepository stores the append-mostly transaction ledger.
type LedgerRepository struct{ *DB }

func NewLedgerRepository(db *DB) *LedgerRepository { return &LedgerRepository{DB: db} }

func (r *LedgerRepository) Create(ctx context.Context, t *domain.Transaction) error {
	return r.q(ctx).QueryRow(ctx, `
		INSERT INTO stock_transactions
			(code, stock_id, variant_id, warehouse_id, type, quantity, price_per_item,
			 note, reference_type, reference_code, status, created_by, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id, created_at, updated_at`,
		t.Code, t.StockID, t.VariantID, t.WarehouseID, t.Type, t.Quantity, t.PricePerItem,
		t.Note, t.ReferenceType, t.ReferenceCode, t.Status, t.CreatedBy, t.UpdatedBy).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (r *LedgerRepository) GetByID(ctx context.Context, id int64, forUpdate bool) (*domain.Transaction, error) {
	sql := `SELECT ` + txColumns + ` FROM stock_transactions WHERE id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	return scanTx(r.q(ctx).QueryRow(ctx, sql, id))
}

func (r *LedgerRepository) Save(ctx context.Context, t *domain.Transaction) error {
	ct, err := r.q(ctx).Exec(ctx, `
		UPDATE stock_transactions
		SET status=$2, note=$3, updated_by=$4, updated_at=now()
		WHERE id=$1`,
		t.ID, t.Status, t.Note, t.UpdatedBy)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrNotFound
	}
	return nil
}

func (r *LedgerRepository) NextDailySequence(ctx context.Context, at time.Time) (int64, error) {
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	var seq int64
	err := r.q(ctx).QueryRow(ctx, `
		SELECT count(*)+1 FROM stock_transactions WHERE created_at >= $1 AND created_at < $2`,
		day, day.AddDate(0, 0, 1)).Scan(&seq)
	return seq, err
}

func (r *LedgerRepository) ListPendingReserves(ctx context.Context, orderNumber string) ([]*domain.Transaction, error) {
	return r.listTx(ctx, `
		SELECT `+txColumns+` FROM stock_transactions
		WHERE reference_type=$1 AND reference_code=$2 AND type=$3 AND status=$4
		ORDER BY id`,
		domain.RefOrder, orderNumber, domain.TypeReserve, domain.TxPending)
}

func (r *LedgerRepository) ListByOrder(ctx context.Context, orderNumber string, t domain.TransactionType, statuses ...domain.TransactionStatus) ([]*domain.Transaction, error) {
	sql := `SELECT ` + txColumns + ` FROM stock_transactions
		WHERE reference_type=$1 AND reference_code=$2 AND type=$3`
	args := []any{domain.RefOrder, orderNumber, t}
	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, st := range statuses {
			strs[i] = string(st)
		}
		args = append(args, strs)
		sql += ` AND status = ANY($4)`
	}
	sql += ` ORDER BY id`
	return r.listTx(ctx, sql, args...)
}

func (r *LedgerRepository) List(ctx context.Context, f application.TransactionFilter) ([]*domain.Transaction, error) {
	sql := `SELECT ` + txColumns + ` FROM stock_transactions WHERE TRUE`
	args := []any{}
	add := func(clause string, v any) {
		args = append(args, v)
		sql += ` AND ` + clause + `$` + strconv.Itoa(len(args))
	}
	if f.VariantID > 0 {
		add(`variant_id=`, f.VariantID)
	}
	if f.WarehouseID > 0 {
		add(`warehouse_id=`, f.WarehouseID)
	}
	if f.Type != "" {
		add(`type=`, f.Type)
	}
	if f.Status != "" {
		add(`status=`, f.Status)
	}
	if f.ReferenceType != "" {
		add(`reference_type=`, f.ReferenceType)
	}
	if f.ReferenceCode != "" {
		add(`reference_code=`, f.ReferenceCode)
	}
	if !f.From.IsZero() {
		add(`created_at>=`, f.From)
	}
	if !f.To.IsZero() {
		add(`created_at<`, f.To)
	}
	sql += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sql += ` OFFSET $` + strconv.Itoa(len(args))
	}
	return r.listTx(ctx, sql, args...)
}

func (r *LedgerRepository) listTx(ctx context.Context, sql string, args ...any) ([]*domain.Transaction, error) {
	rows, err := r.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
