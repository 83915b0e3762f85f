package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves msgs then blocks until ctx is done.
type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	commitErr error
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	if r.commitErr != nil {
		return r.commitErr
	}
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type memDedupe map[string]bool

func (d memDedupe) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("%s:%d:%d", topic, partition, offset)
}

func (d memDedupe) Seen(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return d[key], nil
}

func (d memDedupe) Mark(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d[key] = true
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func msg(offset int64) kafka.Message {
	return kafka.Message{Topic: "devis.validated", Offset: offset, Value: []byte(`{}`)}
}

func TestRun_CommitsAndRunsAfterHooks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{msgs: []kafka.Message{msg(1), msg(2)}}
	var handled, after []int64
	c := New(discard(), "test", func() Reader { return reader }, func(_ context.Context, m kafka.Message) (func(context.Context), error) {
		handled = append(handled, m.Offset)
		return func(context.Context) {
			after = append(after, m.Offset)
			if m.Offset == 2 {
				cancel()
			}
		}, nil
	})

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []int64{1, 2}, handled)
	assert.Equal(t, []int64{1, 2}, reader.committed)
	assert.Equal(t, []int64{1, 2}, after)
	assert.True(t, reader.closed)
}

func TestRun_SkipsDuplicates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dedupe := memDedupe{"devis.validated:0:1": true}
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "consumed"}, []string{"topic", "result"})
	reader := &fakeReader{msgs: []kafka.Message{msg(1), msg(2)}}
	calls := 0
	c := New(discard(), "test", func() Reader { return reader }, func(context.Context, kafka.Message) (func(context.Context), error) {
		calls++
		cancel()
		return nil, nil
	}, WithDedupe(dedupe), WithConsumedCounter(counter))

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, 1, calls)
	assert.Equal(t, []int64{1, 2}, reader.committed)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("devis.validated", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("devis.validated", "ok")))
}

func TestRun_FailureLeavesOffsetUnmarked(t *testing.T) {
	dedupe := memDedupe{}
	reader := &fakeReader{msgs: []kafka.Message{msg(5)}}
	boom := errors.New("db down")
	c := New(discard(), "test", func() Reader { return reader }, func(context.Context, kafka.Message) (func(context.Context), error) {
		return nil, boom
	}, WithDedupe(dedupe))

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, reader.committed)
	assert.Empty(t, dedupe)
	assert.True(t, reader.closed)
}

func TestRun_MarksHandledAfterCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dedupe := memDedupe{}
	reader := &fakeReader{msgs: []kafka.Message{msg(4)}}
	c := New(discard(), "test", func() Reader { return reader }, func(context.Context, kafka.Message) (func(context.Context), error) {
		return func(context.Context) { cancel() }, nil
	}, WithDedupe(dedupe))

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []int64{4}, reader.committed)
	assert.True(t, dedupe["devis.validated:0:4"])
}

func TestRun_FailedCommitIsHandledAgain(t *testing.T) {
	dedupe := memDedupe{}
	reader := &fakeReader{msgs: []kafka.Message{msg(6)}, commitErr: errors.New("rebalance")}
	handled := 0
	handle := func(context.Context, kafka.Message) (func(context.Context), error) {
		handled++
		return nil, nil
	}

	err := New(discard(), "test", func() Reader { return reader }, handle, WithDedupe(dedupe)).Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, dedupe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	again := &fakeReader{msgs: []kafka.Message{msg(6)}}
	c := New(discard(), "test", func() Reader { return again }, func(ctx context.Context, m kafka.Message) (func(context.Context), error) {
		defer cancel()
		return handle(ctx, m)
	}, WithDedupe(dedupe))
	require.NoError(t, c.Run(ctx))
	assert.Equal(t, 2, handled)
	assert.Equal(t, []int64{6}, again.committed)
}

func TestRun_ShutdownMidHandleRedeliversMessage(t *testing.T) {
	dedupe := memDedupe{}
	ctx, cancel := context.WithCancel(context.Background())
	first := &fakeReader{msgs: []kafka.Message{msg(7)}}
	c := New(discard(), "test", func() Reader { return first }, func(ctx context.Context, _ kafka.Message) (func(context.Context), error) {
		cancel()
		return nil, ctx.Err()
	}, WithDedupe(dedupe))

	require.NoError(t, c.Run(ctx))
	assert.Empty(t, first.committed)
	assert.Empty(t, dedupe)

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	redelivered := &fakeReader{msgs: []kafka.Message{msg(7)}}
	var handled []int64
	c = New(discard(), "test", func() Reader { return redelivered }, func(_ context.Context, m kafka.Message) (func(context.Context), error) {
		handled = append(handled, m.Offset)
		cancel()
		return nil, nil
	}, WithDedupe(dedupe))

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []int64{7}, handled)
	assert.Equal(t, []int64{7}, redelivered.committed)
	assert.True(t, dedupe["devis.validated:0:7"])
}

func TestRun_PoisonIsCommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{msgs: []kafka.Message{msg(3)}}
	c := New(discard(), "test", func() Reader { return reader }, func(context.Context, kafka.Message) (func(context.Context), error) {
		cancel()
		return nil, fmt.Errorf("%w: bad json", ErrPoison)
	})

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []int64{3}, reader.committed)
}
