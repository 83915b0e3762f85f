// Package consumer runs the fetch/dedupe/handle/commit loop shared by the
// queue consumers. Messages are handled strictly one at a time, in order.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/med-el-mrabet/InterConnect/pkg/tracing"
)

// ErrPoison marks a message that can never be handled. It is logged and
// committed so it does not block the partition.
var ErrPoison = errors.New("poison message")

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Dedupe is satisfied by *idempotency.Store. Seen only reads; a key is
// marked once its offset is committed.
type Dedupe interface {
	Key(topic string, partition int, offset int64) string
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// Handler processes one message. The returned func, if any, runs after the
// offset is committed.
type Handler func(ctx context.Context, msg kafka.Message) (after func(context.Context), err error)

type Consumer struct {
	log       *slog.Logger
	name      string
	newReader func() Reader
	dedupe    Dedupe
	handle    Handler
	tracer    trace.Tracer
	consumed  *prometheus.CounterVec
}

type Option func(*Consumer)

// WithConsumedCounter counts messages by topic and result.
func WithConsumedCounter(c *prometheus.CounterVec) Option {
	return func(cn *Consumer) { cn.consumed = c }
}

// WithDedupe skips messages whose offset was already handled.
func WithDedupe(d Dedupe) Option {
	return func(cn *Consumer) { cn.dedupe = d }
}

func New(log *slog.Logger, name string, newReader func() Reader, handle Handler, opts ...Option) *Consumer {
	c := &Consumer{
		log:       log.With("consumer", name),
		name:      name,
		newReader: newReader,
		handle:    handle,
		tracer:    otel.Tracer(name),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GroupReader builds a kafka-go group reader over topics.
func GroupReader(brokers []string, group string, topics ...string) func() Reader {
	return func() Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			GroupID:     group,
			GroupTopics: topics,
			StartOffset: kafka.FirstOffset,
		})
	}
}

// Run consumes until ctx is cancelled (returning nil) or a message fails
// (returning the error, with the offset left uncommitted).
func (c *Consumer) Run(ctx context.Context) error {
	r := c.newReader()
	defer func() {
		if err := r.Close(); err != nil {
			c.log.Warn("closing reader", "err", err)
		}
	}()
	c.log.Info("consumer started")

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch: %w", err)
		}
		if err := c.process(ctx, r, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *Consumer) process(ctx context.Context, r Reader, msg kafka.Message) error {
	log := c.log.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

	var key string
	if c.dedupe != nil {
		key = c.dedupe.Key(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.dedupe.Seen(ctx, key)
		if err != nil {
			return fmt.Errorf("idempotency check: %w", err)
		}
		if seen {
			log.Info("duplicate message skipped", "key", key)
			c.count(msg.Topic, "duplicate")
			return r.CommitMessages(ctx, msg)
		}
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "consume "+msg.Topic, trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		))
	defer span.End()

	after, err := c.handle(msgCtx, msg)
	switch {
	case errors.Is(err, ErrPoison):
		log.Error("poison message skipped", "err", err)
		span.RecordError(err)
		c.count(msg.Topic, "poison")
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.count(msg.Topic, "error")
		return fmt.Errorf("handle %s@%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	default:
		c.count(msg.Topic, "ok")
	}

	if err := r.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if key != "" {
		if err := c.dedupe.Mark(context.WithoutCancel(ctx), key); err != nil {
			log.Warn("marking message handled", "key", key, "err", err)
		}
	}
	if after != nil {
		after(msgCtx)
	}
	return nil
}

func (c *Consumer) count(topic, result string) {
	if c.consumed != nil {
		c.consumed.WithLabelValues(topic, result).Inc()
	}
}
