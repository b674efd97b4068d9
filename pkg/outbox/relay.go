package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// leaseRenewEvery is how many dispatched events sit between lease renewals
// within one batch.
const leaseRenewEvery = 25

type Store interface {
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error
}

// Relay polls the outbox table and pushes pending events through the
// Dispatcher. Rows are leased per relay instance so multiple replicas can run
// against the same table.
type Relay struct {
	log       *slog.Logger
	store     Store
	dispatch  *Dispatcher
	relayID   string
	batchSize int
	interval  time.Duration
	lease     time.Duration
}

// NewRelay builds a relay named after the owning service. The instance ID
// gets a random suffix so replicas of the same service lease disjoint rows.
func NewRelay(log *slog.Logger, store Store, dispatch *Dispatcher, service string) *Relay {
	return &Relay{
		log:       log,
		store:     store,
		dispatch:  dispatch,
		relayID:   service + "-" + uuid.NewString(),
		batchSize: 100,
		interval:  500 * time.Millisecond,
		lease:     5 * time.Second,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping", "relay_id", r.relayID)
			return nil
		case <-t.C:
			events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease)
			if err != nil {
				r.log.Error("relay lock batch error", "err", err)
				continue
			}
			if len(events) == 0 {
				continue
			}

			sent := make([]int64, 0, len(events))
			for i, e := range events {
				// Keep the lease ahead of slow batches so another relay
				// does not reclaim rows we are still working through.
				if i > 0 && i%leaseRenewEvery == 0 {
					remaining := make([]int64, 0, len(events)-i)
					for _, rest := range events[i:] {
						remaining = append(remaining, rest.ID)
					}
					if err := r.store.ExtendLease(ctx, r.relayID, remaining, r.lease); err != nil {
						r.log.Error("relay lease extend error", "err", err)
					}
				}
				if err := r.dispatch.Dispatch(ctx, e); err != nil {
					_ = r.store.MarkFailed(ctx, e.ID, err.Error())
					continue
				}
				sent = append(sent, e.ID)
			}
			if len(sent) > 0 {
				if err := r.store.MarkSent(ctx, sent); err != nil {
					r.log.Error("relay mark sent error", "err", err)
				}
			}
		}
	}
}
