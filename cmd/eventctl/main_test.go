package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/med-el-mrabet/InterConnect/internal/events"
)

type captureProducer struct {
	msgs []kafka.Message
	err  error
}

func (p *captureProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	p.msgs = append(p.msgs, msgs...)
	return p.err
}

const completed = `{"inspection_id": 4, "wagon_id": "WAG-9", "client_company": "WagonLits",
	"parts_needed": [{"reference": "BP-001", "quantity": 2}], "estimated_repair_hours": 3}`

func TestPublish(t *testing.T) {
	p := &captureProducer{}
	env, err := publish(context.Background(), p, events.KindInspectionCompleted, []byte(completed), "inspection-workflow", time.Now())
	require.NoError(t, err)
	require.Len(t, p.msgs, 1)

	msg := p.msgs[0]
	assert.Equal(t, "inspection.completed", msg.Topic)
	back, err := events.FromMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, back.EventID)
	assert.Equal(t, "inspection-workflow", back.Source)
	assert.Equal(t, int64(4), back.Event.(events.InspectionCompleted).InspectionID)
}

func TestPublishRejectsBadInput(t *testing.T) {
	p := &captureProducer{}
	_, err := publish(context.Background(), p, "wagon.moved", []byte(`{}`), "x", time.Now())
	assert.ErrorIs(t, err, events.ErrUnknownKind)

	_, err = publish(context.Background(), p, events.KindDevisRejected, []byte(`{"devis_id": "nope"}`), "x", time.Now())
	assert.Error(t, err)
	assert.Empty(t, p.msgs)

	boom := errors.New("broker down")
	_, err = publish(context.Background(), &captureProducer{err: boom}, events.KindDevisRejected, []byte(`{"devis_id": 1}`), "x", time.Now())
	assert.ErrorIs(t, err, boom)
}

func TestPublishCommandReadsStdin(t *testing.T) {
	p := &captureProducer{}
	cmd := newPublishCmd(p)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(completed))
	cmd.SetArgs([]string{"--kind", "inspection.completed"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Len(t, p.msgs, 1)
	assert.Contains(t, out.String(), "published inspection.completed event_id=")
}

func TestKindsCommand(t *testing.T) {
	cmd := newKindsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, 6, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), "devis.validated")
}
