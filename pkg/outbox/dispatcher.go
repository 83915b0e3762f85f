package outbox

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	"github.com/med-el-mrabet/InterConnect/pkg/tracing"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type DispatcherOption func(*Dispatcher)

// WithPublishedCounter counts dispatches by topic and result ("ok"/"error").
func WithPublishedCounter(c *prometheus.CounterVec) DispatcherOption {
	return func(d *Dispatcher) { d.published = c }
}

// Dispatcher writes outbox rows to the queue. The topic is the event type, so
// every event kind has its own topic.
type Dispatcher struct {
	log       *slog.Logger
	producer  Producer
	published *prometheus.CounterVec
}

func NewDispatcher(log *slog.Logger, producer Producer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{log: log, producer: producer}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Message renders an outbox row as the queue message the Dispatcher writes.
func Message(event Event) kafka.Message {
	headers := make([]kafka.Header, 0, len(event.Headers)+3)
	for k, v := range event.Headers {
		if k == HeaderEventType || k == HeaderEventID || k == tracing.TraceparentHeader {
			continue
		}
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers, kafka.Header{Key: HeaderEventType, Value: []byte(event.Type)})
	if event.EventID != "" {
		headers = append(headers, kafka.Header{Key: HeaderEventID, Value: []byte(event.EventID)})
	}
	if event.Traceparent != "" {
		headers = append(headers, kafka.Header{Key: tracing.TraceparentHeader, Value: []byte(event.Traceparent)})
	}

	return kafka.Message{
		Topic:   event.Type,
		Key:     []byte(event.AggregateID),
		Value:   event.Payload,
		Headers: headers,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	if err := d.producer.WriteMessages(ctx, Message(event)); err != nil {
		d.count(event.Type, "error")
		d.log.Error("outbox dispatch failed", "event_id", event.EventID, "type", event.Type, "err", err)
		return err
	}
	d.count(event.Type, "ok")
	d.log.Info("outbox dispatched", "event_id", event.EventID, "type", event.Type, "aggregate_id", event.AggregateID)
	return nil
}

func (d *Dispatcher) count(topic, result string) {
	if d.published != nil {
		d.published.WithLabelValues(topic, result).Inc()
	}
}
