package postgres

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Enqueue appends an outbox event inside the caller's unit of work, so the
// event is published only if the state change it describes commits.
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
