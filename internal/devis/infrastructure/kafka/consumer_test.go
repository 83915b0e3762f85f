package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/med-el-mrabet/InterConnect/internal/events"
	"github.com/med-el-mrabet/InterConnect/pkg/consumer"
)

type recorder struct {
	got []events.InspectionCompleted
	err error
}

func (r *recorder) HandleInspectionCompleted(_ context.Context, ev events.InspectionCompleted) error {
	r.got = append(r.got, ev)
	return r.err
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHandler_DecodesInspectionCompleted(t *testing.T) {
	rec := &recorder{}
	h := InspectionCompletedHandler(discard(), rec)

	_, err := h(context.Background(), kafka.Message{
		Topic: "inspection.completed",
		Value: []byte(`{"inspection_id": 4, "wagon_id": "WAG-9", "client_company": "WagonLits",
			"parts_needed": [{"reference": "BP-001", "quantity": 2}], "estimated_repair_hours": 3.5}`),
	})
	require.NoError(t, err)
	require.Len(t, rec.got, 1)
	assert.Equal(t, int64(4), rec.got[0].InspectionID)
	assert.Equal(t, "3.5", rec.got[0].EstimatedRepairHours.String())
}

func TestHandler_PoisonOnGarbage(t *testing.T) {
	h := InspectionCompletedHandler(discard(), &recorder{})
	_, err := h(context.Background(), kafka.Message{Topic: "inspection.completed", Value: []byte(`not json`)})
	assert.ErrorIs(t, err, consumer.ErrPoison)
}

func TestHandler_PoisonOnWrongKind(t *testing.T) {
	h := InspectionCompletedHandler(discard(), &recorder{})
	_, err := h(context.Background(), kafka.Message{Topic: "devis.rejected", Value: []byte(`{"devis_id": 1}`)})
	assert.ErrorIs(t, err, consumer.ErrPoison)
}

func TestHandler_PropagatesServiceErrors(t *testing.T) {
	boom := errors.New("db down")
	h := InspectionCompletedHandler(discard(), &recorder{err: boom})
	_, err := h(context.Background(), kafka.Message{Topic: "inspection.completed", Value: []byte(`{"inspection_id": 1}`)})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, consumer.ErrPoison)
}
