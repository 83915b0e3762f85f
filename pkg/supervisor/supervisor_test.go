package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func constant() Option {
	return WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) })
}

func TestRun_RestartsFailingTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	task := func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("broker unreachable")
		}
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}

	err := New(quietLogger(), "consumer", task, constant()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRun_RecoversPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	task := func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			panic("nil reader")
		}
		cancel()
		return nil
	}

	require.NoError(t, New(quietLogger(), "consumer", task, constant()).Run(ctx))
	assert.Equal(t, int32(2), calls.Load())
}

func TestRun_GivesUpWhenBackOffStops(t *testing.T) {
	boom := errors.New("boom")
	s := New(quietLogger(), "consumer", func(context.Context) error { return boom },
		WithBackOff(func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2)
		}))

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRun_StopsOnCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(quietLogger(), "consumer", func(context.Context) error {
		cancel()
		return errors.New("fail")
	}, WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Hour) }))

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}
