package postgres

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderflow/fulfillment/internal/inventory/application"
	"github.com/orderflow/fulfillment/internal/inventory/domain"
)

// DB wraps the connection pool and acts as the unit-of-work runner: WithinTx
// carries a pgx.Tx through the context so every repository call in the scope
// shares one database transaction.
type DB struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewDB(log *slog.Logger, pool *pgxpool.Pool) *DB {
	return &DB{log: log, pool: pool}
}

// StockRepository stores stock records.
type StockRepository struct{ *DB }

func NewStockRepository(db *DB) *StockRepository { return &StockRepository{DB: db} }

type txKey struct{}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *DB) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.pool
}

// WithinTx runs fn in one all-or-nothing transaction. Nested scopes join the
// enclosing transaction instead of opening a second one.
func (r *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// EnsureSchema bootstraps the tables on startup.
func (r *DB) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS stocks (
		id BIGSERIAL PRIMARY KEY,
		variant_id BIGINT NOT NULL,
		warehouse_id BIGINT NOT NULL,
		quantity INT NOT NULL DEFAULT 0,
		reserved_quantity INT NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (variant_id, warehouse_id),
		CHECK (reserved_quantity >= 0 AND reserved_quantity <= quantity)
	);
	CREATE TABLE IF NOT EXISTS stock_transactions (
		id BIGSERIAL PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		stock_id BIGINT NOT NULL REFERENCES stocks(id),
		variant_id BIGINT NOT NULL,
		warehouse_id BIGINT NOT NULL,
		type TEXT NOT NULL,
		quantity INT NOT NULL,
		price_per_item DOUBLE PRECISION NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		reference_type TEXT NOT NULL DEFAULT '',
		reference_code TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_by BIGINT NOT NULL DEFAULT 0,
		updated_by BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_stock_tx_reference ON stock_transactions (reference_type, reference_code);
	CREATE INDEX IF NOT EXISTS idx_stock_tx_stock ON stock_transactions (stock_id);
	CREATE INDEX IF NOT EXISTS idx_stock_tx_created ON stock_transactions (created_at);
	CREATE TABLE IF NOT EXISTS outbox (
		id BIGSERIAL PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		type TEXT NOT NULL,
		payload BYTEA NOT NULL,
		headers JSONB,
		traceparent TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		relay_id TEXT,
		lease_until TIMESTAMPTZ,
		retry_count INT NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox (status, id);
	`)
	return err
}

const stockColumns = `id, variant_id, warehouse_id, quantity, reserved_quantity, is_active, created_at, updated_at`

func scanStock(row pgx.Row) (*domain.StockRecord, error) {
	var rec domain.StockRecord
	err := row.Scan(&rec.ID, &rec.VariantID, &rec.WarehouseID, &rec.Quantity,
		&rec.ReservedQuantity, &rec.Active, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, application.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *StockRepository) GetByID(ctx context.Context, id int64, forUpdate bool) (*domain.StockRecord, error) {
	sql := `SELECT ` + stockColumns + ` FROM stocks WHERE id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	return scanStock(r.q(ctx).QueryRow(ctx, sql, id))
}

func (r *StockRepository) FindByVariantAndWarehouse(ctx context.Context, variantID, warehouseID int64, forUpdate bool) (*domain.StockRecord, error) {
	sql := `SELECT ` + stockColumns + ` FROM stocks WHERE variant_id=$1 AND warehouse_id=$2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	return scanStock(r.q(ctx).QueryRow(ctx, sql, variantID, warehouseID))
}

func (r *StockRepository) ListByVariant(ctx context.Context, variantID int64, forUpdate bool) ([]*domain.StockRecord, error) {
	// Stable warehouse order keeps concurrent reservations locking rows in
	// the same sequence.
	sql := `SELECT ` + stockColumns + ` FROM stocks WHERE variant_id=$1 ORDER BY warehouse_id`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := r.q(ctx).Query(ctx, sql, variantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*domain.StockRecord
	for rows.Next() {
		rec, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *StockRepository) Create(ctx context.Context, rec *domain.StockRecord) error {
	return r.q(ctx).QueryRow(ctx, `
		INSERT INTO stocks (variant_id, warehouse_id, quantity, reserved_quantity, is_active)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at, updated_at`,
		rec.VariantID, rec.WarehouseID, rec.Quantity, rec.ReservedQuantity, rec.Active).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

func (r *StockRepository) SaveQuantities(ctx context.Context, rec *domain.StockRecord) error {
	ct, err := r.q(ctx).Exec(ctx, `
		UPDATE stocks SET quantity=$2, reserved_quantity=$3, updated_at=now() WHERE id=$1`,
		rec.ID, rec.Quantity, rec.ReservedQuantity)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrNotFound
	}
	return nil
}

func (r *StockRepository) SetActive(ctx context.Context, id int64, active bool) error {
	ct, err := r.q(ctx).Exec(ctx, `UPDATE stocks SET is_active=$2, updated_at=now() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrNotFound
	}
	return nil
}

func (r *StockRepository) List(ctx context.Context, f application.StockFilter) ([]*domain.StockRecord, error) {
	sql := `SELECT ` + stockColumns + ` FROM stocks WHERE TRUE`
	args := []any{}
	if f.VariantID > 0 {
		args = append(args, f.VariantID)
		sql += ` AND variant_id=$` + strconv.Itoa(len(args))
	}
	if f.WarehouseID > 0 {
		args = append(args, f.WarehouseID)
		sql += ` AND warehouse_id=$` + strconv.Itoa(len(args))
	}
	if f.ActiveOnly {
		sql += ` AND is_active`
	}
	sql += ` ORDER BY variant_id, warehouse_id`

	rows, err := r.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*domain.StockRecord
	for rows.Next() {
		rec, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
