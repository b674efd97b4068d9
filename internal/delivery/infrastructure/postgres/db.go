package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
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

// Enqueue appends an outbox event inside the caller's unit of work.
func (r *DB) Enqueue(ctx context.Context, aggregateType, aggregateID, eventType string, payload []byte) error {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,$6,'pending')`,
		aggregateType, aggregateID, eventType, payload,
		map[string]string(carrier), carrier["traceparent"])
	return err
}

// EnsureSchema bootstraps the tables on startup.
func (r *DB) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS shippers (
		id BIGSERIAL PRIMARY KEY,
		full_name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		warehouse_id BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'OFFLINE',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS delivery_orders (
		id BIGSERIAL PRIMARY KEY,
		delivery_number TEXT NOT NULL UNIQUE,
		order_id BIGINT NOT NULL,
		order_number TEXT NOT NULL,
		shipping_name TEXT NOT NULL DEFAULT '',
		shipping_address TEXT NOT NULL DEFAULT '',
		shipping_phone TEXT NOT NULL DEFAULT '',
		payment_method TEXT NOT NULL DEFAULT '',
		cod_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		warehouse_id BIGINT NOT NULL,
		status TEXT NOT NULL,
		assigned_shipper_id BIGINT REFERENCES shippers(id),
		assigned_at TIMESTAMPTZ,
		delivered_at TIMESTAMPTZ,
		delivered_image_url TEXT NOT NULL DEFAULT '',
		failed_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS delivery_order_items (
		id BIGSERIAL PRIMARY KEY,
		delivery_id BIGINT NOT NULL REFERENCES delivery_orders(id),
		order_item_id BIGINT NOT NULL DEFAULT 0,
		variant_id BIGINT NOT NULL,
		variant_name TEXT NOT NULL DEFAULT '',
		sku TEXT NOT NULL DEFAULT '',
		quantity INT NOT NULL,
		unit_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		image_url TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_delivery_order ON delivery_orders (order_id);
	CREATE INDEX IF NOT EXISTS idx_delivery_shipper ON delivery_orders (assigned_shipper_id, status);
	CREATE INDEX IF NOT EXISTS idx_delivery_status ON delivery_orders (status);
	CREATE INDEX IF NOT EXISTS idx_delivery_items ON delivery_order_items (delivery_id);
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
