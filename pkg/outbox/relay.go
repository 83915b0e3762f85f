package outbox

import (
	"context"
	"log/slog"
	"time"
)

type Store interface {
	LockBatch(ctx context.Context, relayID string, batchSize, maxAttempts int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error
}

type RelayOption func(*Relay)

func WithBatchSize(n int) RelayOption         { return func(r *Relay) { r.batchSize = n } }
func WithInterval(d time.Duration) RelayOption { return func(r *Relay) { r.interval = d } }
func WithLease(d time.Duration) RelayOption    { return func(r *Relay) { r.lease = d } }
func WithMaxAttempts(n int) RelayOption        { return func(r *Relay) { r.maxAttempts = n } }

// Relay polls the outbox and hands locked rows to the Dispatcher. A failed
// dispatch only marks the row failed; business state is never touched.
type Relay struct {
	log         *slog.Logger
	store       Store
	dispatch    *Dispatcher
	relayID     string
	batchSize   int
	interval    time.Duration
	lease       time.Duration
	maxAttempts int
}

func NewRelay(log *slog.Logger, store Store, dispatch *Dispatcher, relayID string, opts ...RelayOption) *Relay {
	r := &Relay{
		log:         log,
		store:       store,
		dispatch:    dispatch,
		relayID:     relayID,
		batchSize:   100,
		interval:    500 * time.Millisecond,
		lease:       5 * time.Second,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
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
			if _, err := r.Flush(ctx); err != nil {
				r.log.Error("relay flush error", "relay_id", r.relayID, "err", err)
			}
		}
	}
}

// Flush dispatches one locked batch and returns how many rows were sent.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.maxAttempts, r.lease)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(events))
	for i, e := range events {
		if i > 0 && i%20 == 0 {
			r.extend(ctx, events[i:])
		}
		if err := r.dispatch.Dispatch(ctx, e); err != nil {
			if e.RetryCount+1 >= r.maxAttempts {
				r.log.Error("outbox event exhausted its attempts", "event_id", e.EventID, "type", e.Type, "attempts", e.RetryCount+1)
			}
			if mErr := r.store.MarkFailed(ctx, e.ID, err.Error()); mErr != nil {
				r.log.Error("relay mark failed error", "id", e.ID, "err", mErr)
			}
			continue
		}
		ids = append(ids, e.ID)
	}
	if len(ids) > 0 {
		if err := r.store.MarkSent(ctx, ids); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (r *Relay) extend(ctx context.Context, rest []Event) {
	ids := make([]int64, 0, len(rest))
	for _, e := range rest {
		ids = append(ids, e.ID)
	}
	if err := r.store.ExtendLease(ctx, r.relayID, ids, r.lease); err != nil {
		r.log.Warn("relay extend lease error", "err", err)
	}
}
