// Package supervisor keeps long-lived background tasks alive: a task that
// fails or panics is restarted with exponential backoff until the context
// is cancelled.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Task func(ctx context.Context) error

type Option func(*Supervisor)

// WithBackOff replaces the restart policy. A policy returning backoff.Stop
// makes Run give up and return the last task error.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Supervisor) { s.newBackOff = newBackOff }
}

// WithStableAfter sets how long a task must run before its backoff resets.
func WithStableAfter(d time.Duration) Option {
	return func(s *Supervisor) { s.stableAfter = d }
}

type Supervisor struct {
	log         *slog.Logger
	name        string
	task        Task
	newBackOff  func() backoff.BackOff
	stableAfter time.Duration
}

func New(log *slog.Logger, name string, task Task, opts ...Option) *Supervisor {
	s := &Supervisor{
		log:  log.With("task", name),
		name: name,
		task: task,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
		stableAfter: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until ctx is done or the backoff policy stops.
func (s *Supervisor) Run(ctx context.Context) error {
	b := s.newBackOff()
	for {
		started := time.Now()
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			s.log.Info("task stopped")
			return nil
		}
		if err == nil {
			err = fmt.Errorf("%s returned without error before shutdown", s.name)
		}
		if time.Since(started) >= s.stableAfter {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			s.log.Error("task gave up", "err", err)
			return err
		}
		s.log.Error("task failed, restarting", "err", err, "backoff", wait.String())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("task stopped")
			return nil
		case <-timer.C:
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", s.name, r)
		}
	}()
	return s.task(ctx)
}
