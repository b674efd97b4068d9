package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/fulfillment/internal/inventory/application"
	"github.com/orderflow/fulfillment/pkg/idempotency"
	"github.com/orderflow/fulfillment/pkg/tracing"
)

const (
	EventOrderCreated   = "order.created"
	EventOrderCancelled = "order.cancelled"
)

// InventoryService is the slice of the application service the consumer
// drives.
type InventoryService interface {
	Reserve(ctx context.Context, variantID int64, qty int, orderNumber string) (map[int64]int, error)
	Release(ctx context.Context, orderNumber, reason string, adjustQuantity bool) error
}

// Consumer reacts to order lifecycle events: a created order reserves stock,
// a cancelled order releases whatever is still held.
type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	group  string
	svc    InventoryService
	idem   *idempotency.Store
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, svc InventoryService, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		group:  group,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("inventory-consumer"),
	}
}

type orderCreatedEvent struct {
	OrderNumber string `json:"order_number"`
	Items       []struct {
		VariantID int64 `json:"variant_id"`
		Quantity  int   `json:"quantity"`
	} `json:"items"`
}

type orderCancelledEvent struct {
	OrderNumber string `json:"order_number"`
	Reason      string `json:"reason"`
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		key := c.idem.Key(c.group, msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.idem.Seen(ctx, key)
		if err != nil {
			c.log.Error("idempotency check failed", "err", err)
			continue
		}
		if seen {
			c.log.Info("duplicate message skipped", "key", key)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		c.handle(msgCtx, msg)
		_ = c.reader.CommitMessages(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	eventType := tracing.HeaderValue(msg.Headers, "event_type")
	ctx, span := c.tracer.Start(ctx, "Consume "+eventType)
	defer span.End()

	switch eventType {
	case EventOrderCreated:
		var ev orderCreatedEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.log.Error("unmarshal failed", "event_type", eventType, "err", err)
			return
		}
		for _, item := range ev.Items {
			_, err := c.svc.Reserve(ctx, item.VariantID, item.Quantity, ev.OrderNumber)
			switch {
			case errors.Is(err, application.ErrInsufficientStock):
				c.log.Warn("reservation rejected",
					"order_number", ev.OrderNumber, "variant_id", item.VariantID, "err", err)
			case err != nil:
				c.log.Error("reserve failed",
					"order_number", ev.OrderNumber, "variant_id", item.VariantID, "err", err)
			default:
				c.log.Info("stock reserved",
					"order_number", ev.OrderNumber, "variant_id", item.VariantID, "quantity", item.Quantity)
			}
		}
	case EventOrderCancelled:
		var ev orderCancelledEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.log.Error("unmarshal failed", "event_type", eventType, "err", err)
			return
		}
		// A cancelled order hands its hold back to available stock.
		if err := c.svc.Release(ctx, ev.OrderNumber, ev.Reason, true); err != nil {
			c.log.Error("release failed", "order_number", ev.OrderNumber, "err", err)
			return
		}
		c.log.Info("reservations released", "order_number", ev.OrderNumber)
	default:
		c.log.Warn("unknown event type skipped", "event_type", eventType)
	}
}
