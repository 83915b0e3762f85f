package application

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/med-el-mrabet/InterConnect/internal/acknowledger/domain"
	"github.com/med-el-mrabet/InterConnect/pkg/apperror"
)

type memRepo struct {
	rows []domain.Acknowledgement
}

func (r *memRepo) Upsert(_ context.Context, a domain.Acknowledgement) (domain.Acknowledgement, error) {
	for i := range r.rows {
		if r.rows[i].EventID == a.EventID && r.rows[i].Target == a.Target {
			r.rows[i].DeliveryCount++
			r.rows[i].LastReceivedAt = a.LastReceivedAt
			return r.rows[i], nil
		}
	}
	a.ID = int64(len(r.rows) + 1)
	r.rows = append(r.rows, a)
	return a, nil
}

func (r *memRepo) MarkApplied(_ context.Context, id int64, at time.Time) error {
	for i := range r.rows {
		if r.rows[i].ID == id && r.rows[i].AppliedAt == nil {
			r.rows[i].AppliedAt = &at
		}
	}
	return nil
}

func (r *memRepo) List(_ context.Context, limit int) ([]domain.Acknowledgement, error) {
	if len(r.rows) > limit {
		return r.rows[:limit], nil
	}
	return r.rows, nil
}

const body = `{"event_type":"devis.validated","event_data":{"devis_id":1},"template":{"action":"START_REPAIR","title":"Devis validated","priority":"HIGH"},"timestamp":"2026-03-02T10:00:00Z"}`

func TestReceiveAppliesEffectOnce(t *testing.T) {
	repo := &memRepo{}
	var applied []domain.Acknowledgement
	clock := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	acks := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "acks"}, []string{"event_type", "result"})
	svc := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), repo, "ERP_WAGL",
		WithEffect(func(_ context.Context, a domain.Acknowledgement) error {
			applied = append(applied, a)
			return nil
		}),
		WithClock(func() time.Time { return clock }),
		WithCounter(acks))
	ctx := context.Background()
	cb := Callback{EventID: "e-1", NotificationID: "7", Target: "ERP_WAGL", Body: json.RawMessage(body)}

	first, err := svc.Receive(ctx, cb)
	require.NoError(t, err)
	assert.False(t, first.Duplicate())
	assert.Equal(t, "START_REPAIR", first.Action)
	assert.Equal(t, "devis.validated", first.EventType)
	assert.Equal(t, "7", first.NotificationID)

	clock = clock.Add(time.Minute)
	second, err := svc.Receive(ctx, cb)
	require.NoError(t, err)
	assert.True(t, second.Duplicate())
	assert.Equal(t, 2, second.DeliveryCount)
	assert.Equal(t, first.FirstReceivedAt, second.FirstReceivedAt)
	assert.Equal(t, clock, second.LastReceivedAt)

	assert.Len(t, applied, 1)
	assert.Len(t, repo.rows, 1)
	require.NotNil(t, second.AppliedAt)
	assert.Equal(t, clock.Add(-time.Minute), *second.AppliedAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(acks.WithLabelValues("devis.validated", "new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(acks.WithLabelValues("devis.validated", "duplicate")))
}

func TestReceiveValidation(t *testing.T) {
	svc := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), &memRepo{}, "ERP_DEMAT")
	ctx := context.Background()

	_, err := svc.Receive(ctx, Callback{Body: json.RawMessage(body)})
	assert.ErrorIs(t, err, domain.ErrMissingEventID)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = svc.Receive(ctx, Callback{EventID: "e", Target: "ERP_WAGL", Body: json.RawMessage(body)})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = svc.Receive(ctx, Callback{EventID: "e", Body: json.RawMessage(`{"event_data":{}}`)})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = svc.Receive(ctx, Callback{EventID: "e", Body: json.RawMessage(`nope`)})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestSameEventDifferentTargets(t *testing.T) {
	repo := &memRepo{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	wagl := NewService(log, repo, "ERP_WAGL")
	demat := NewService(log, repo, "ERP_DEMAT")

	a, err := wagl.Receive(context.Background(), Callback{EventID: "e-1", Body: json.RawMessage(body)})
	require.NoError(t, err)
	b, err := demat.Receive(context.Background(), Callback{EventID: "e-1", Body: json.RawMessage(body)})
	require.NoError(t, err)
	assert.False(t, a.Duplicate())
	assert.False(t, b.Duplicate())
	assert.Len(t, repo.rows, 2)
}

func TestReceive_FailedEffectRunsAgainOnRedelivery(t *testing.T) {
	repo := &memRepo{}
	calls := 0
	fail := true
	svc := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), repo, "ERP_WAGL",
		WithEffect(func(context.Context, domain.Acknowledgement) error {
			calls++
			if fail {
				return errors.New("records unavailable")
			}
			return nil
		}))
	ctx := context.Background()
	cb := Callback{EventID: "e-9", Body: json.RawMessage(body)}

	_, err := svc.Receive(ctx, cb)
	require.Error(t, err)
	assert.Nil(t, repo.rows[0].AppliedAt)

	fail = false
	a, err := svc.Receive(ctx, cb)
	require.NoError(t, err)
	assert.True(t, a.Duplicate())
	assert.True(t, a.Applied())

	_, err = svc.Receive(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
