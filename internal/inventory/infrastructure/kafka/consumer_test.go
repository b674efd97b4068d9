package kafka

import (
	"context"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

type reserveCall struct {
	variantID   int64
	qty         int
	orderNumber string
}

type releaseCall struct {
	orderNumber    string
	reason         string
	adjustQuantity bool
}

type fakeService struct {
	reserves []reserveCall
	releases []releaseCall
}

func (f *fakeService) Reserve(_ context.Context, variantID int64, qty int, orderNumber string) (map[int64]int, error) {
	f.reserves = append(f.reserves, reserveCall{variantID: variantID, qty: qty, orderNumber: orderNumber})
	return map[int64]int{100: qty}, nil
}

func (f *fakeService) Release(_ context.Context, orderNumber, reason string, adjustQuantity bool) error {
	f.releases = append(f.releases, releaseCall{orderNumber: orderNumber, reason: reason, adjustQuantity: adjustQuantity})
	return nil
}

func newConsumer(svc *fakeService) *Consumer {
	return &Consumer{
		log:    slog.New(slog.DiscardHandler),
		group:  "inventory-service",
		svc:    svc,
		tracer: otel.Tracer("inventory-consumer"),
	}
}

func message(eventType, payload string) kafka.Message {
	return kafka.Message{
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(eventType)}},
		Value:   []byte(payload),
	}
}

func TestOrderCreatedReservesEachItem(t *testing.T) {
	svc := &fakeService{}
	c := newConsumer(svc)

	c.handle(context.Background(), message(EventOrderCreated,
		`{"order_number":"ORD-7","items":[{"variant_id":11,"quantity":2},{"variant_id":12,"quantity":1}]}`))

	if len(svc.reserves) != 2 {
		t.Fatalf("reserve calls = %d, want 2", len(svc.reserves))
	}
	if svc.reserves[0] != (reserveCall{variantID: 11, qty: 2, orderNumber: "ORD-7"}) {
		t.Errorf("first reserve = %+v", svc.reserves[0])
	}
	if svc.reserves[1] != (reserveCall{variantID: 12, qty: 1, orderNumber: "ORD-7"}) {
		t.Errorf("second reserve = %+v", svc.reserves[1])
	}
}

// A cancelled order must hand its hold back to available stock, not merely
// cancel the ledger rows.
func TestOrderCancelledReturnsTheHold(t *testing.T) {
	svc := &fakeService{}
	c := newConsumer(svc)

	c.handle(context.Background(), message(EventOrderCancelled,
		`{"order_number":"ORD-7","reason":"customer cancelled"}`))

	if len(svc.releases) != 1 {
		t.Fatalf("release calls = %d, want 1", len(svc.releases))
	}
	got := svc.releases[0]
	if got.orderNumber != "ORD-7" || got.reason != "customer cancelled" {
		t.Errorf("release = %+v", got)
	}
	if !got.adjustQuantity {
		t.Error("cancelled-order release must adjust quantities so the hold returns to available stock")
	}
}

func TestUnknownEventTypeIgnored(t *testing.T) {
	svc := &fakeService{}
	c := newConsumer(svc)

	c.handle(context.Background(), message("order.updated", `{}`))

	if len(svc.reserves) != 0 || len(svc.releases) != 0 {
		t.Error("unknown event types must not touch stock")
	}
}

func TestMalformedPayloadIgnored(t *testing.T) {
	svc := &fakeService{}
	c := newConsumer(svc)

	c.handle(context.Background(), message(EventOrderCancelled, `{not json`))

	if len(svc.releases) != 0 {
		t.Error("malformed payloads must not release anything")
	}
}
