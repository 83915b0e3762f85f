package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	mu   sync.Mutex
	msgs []kafka.Message
	fail map[string]error
}

func (p *fakeProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		if err := p.fail[m.Topic]; err != nil {
			return err
		}
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

type fakeStore struct {
	rows     []Event
	sent     []int64
	failed   map[int64]string
	extended int
}

func (s *fakeStore) LockBatch(_ context.Context, relayID string, batchSize, maxAttempts int, _ time.Duration) ([]Event, error) {
	var out []Event
	for i := range s.rows {
		r := &s.rows[i]
		eligible := r.Status == StatusPending || (r.Status == StatusFailed && r.RetryCount < maxAttempts)
		if !eligible || len(out) == batchSize {
			continue
		}
		r.Status = StatusInProgress
		r.RelayID = relayID
		out = append(out, *r)
	}
	return out, nil
}

func (s *fakeStore) find(id int64) *Event {
	for i := range s.rows {
		if s.rows[i].ID == id {
			return &s.rows[i]
		}
	}
	return nil
}

func (s *fakeStore) MarkSent(_ context.Context, ids []int64) error {
	for _, id := range ids {
		s.find(id).Status = StatusSent
	}
	s.sent = append(s.sent, ids...)
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id int64, msg string) error {
	r := s.find(id)
	r.Status = StatusFailed
	r.RetryCount++
	if s.failed == nil {
		s.failed = map[int64]string{}
	}
	s.failed[id] = msg
	return nil
}

func (s *fakeStore) ExtendLease(context.Context, string, []int64, time.Duration) error {
	s.extended++
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDispatcher_MessageUsesKindAsTopic(t *testing.T) {
	msg := Message(Event{
		EventID:     "8f14e45f-ea5e-4b3e-9d1c-7a3b2c1d0e9f",
		AggregateID: "42",
		Type:        "devis.validated",
		Payload:     []byte(`{"devis_id":42}`),
		Headers:     map[string]string{"source_service": "devis-service", HeaderEventType: "spoofed"},
		Traceparent: "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
	})

	assert.Equal(t, "devis.validated", msg.Topic)
	assert.Equal(t, "42", string(msg.Key))
	assert.JSONEq(t, `{"devis_id":42}`, string(msg.Value))

	got := map[string]string{}
	for _, h := range msg.Headers {
		got[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{
		"source_service": "devis-service",
		HeaderEventType:  "devis.validated",
		HeaderEventID:    "8f14e45f-ea5e-4b3e-9d1c-7a3b2c1d0e9f",
		"traceparent":    "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
	}, got)
}

func TestRelay_FlushMarksSentAndFailed(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "published"}, []string{"topic", "result"})
	producer := &fakeProducer{fail: map[string]error{"devis.rejected": errors.New("leader not available")}}
	store := &fakeStore{rows: []Event{
		{ID: 1, Type: "devis.generated", Status: StatusPending},
		{ID: 2, Type: "devis.rejected", Status: StatusPending},
		{ID: 3, Type: "devis.validated", Status: StatusPending},
	}}
	relay := NewRelay(discard(), store, NewDispatcher(discard(), producer, WithPublishedCounter(counter)), "test-relay")

	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 3}, store.sent)
	assert.Equal(t, "leader not available", store.failed[2])
	assert.Equal(t, StatusFailed, store.find(2).Status)
	assert.Len(t, producer.msgs, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("devis.rejected", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("devis.validated", "ok")))
}

func TestRelay_StopsRetryingAfterMaxAttempts(t *testing.T) {
	producer := &fakeProducer{fail: map[string]error{"devis.rejected": errors.New("down")}}
	store := &fakeStore{rows: []Event{{ID: 7, Type: "devis.rejected", Status: StatusPending}}}
	relay := NewRelay(discard(), store, NewDispatcher(discard(), producer), "r", WithMaxAttempts(3))

	for i := 0; i < 6; i++ {
		_, err := relay.Flush(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, store.find(7).RetryCount)
	assert.Equal(t, StatusFailed, store.find(7).Status)
}

func TestRelay_FailedRowRecoversOnLaterFlush(t *testing.T) {
	producer := &fakeProducer{fail: map[string]error{"devis.validated": errors.New("down")}}
	store := &fakeStore{rows: []Event{{ID: 9, Type: "devis.validated", Status: StatusPending}}}
	relay := NewRelay(discard(), store, NewDispatcher(discard(), producer), "r")

	_, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, store.find(9).Status)

	producer.fail = nil
	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusSent, store.find(9).Status)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	relay := NewRelay(discard(), &fakeStore{}, NewDispatcher(discard(), &fakeProducer{}), "r", WithInterval(time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
