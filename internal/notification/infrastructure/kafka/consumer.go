package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/med-el-mrabet/InterConnect/internal/events"
	"github.com/med-el-mrabet/InterConnect/internal/notification/domain"
	"github.com/med-el-mrabet/InterConnect/pkg/consumer"
)

type Notifier interface {
	Enqueue(ctx context.Context, env events.Envelope) ([]domain.Notification, error)
	DeliverAll(ctx context.Context, ns []domain.Notification)
}

// EventHandler stores the per-target notifications for every event before the
// offset is committed, and delivers them afterwards.
func EventHandler(log *slog.Logger, svc Notifier) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) (func(context.Context), error) {
		env, err := events.FromMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", consumer.ErrPoison, err)
		}

		ns, err := svc.Enqueue(ctx, env)
		if err != nil {
			return nil, err
		}
		log.Debug("event accepted", "event_type", env.Kind, "event_id", env.EventID, "partition", msg.Partition, "offset", msg.Offset)
		return func(ctx context.Context) { svc.DeliverAll(ctx, ns) }, nil
	}
}

func NewConsumer(log *slog.Logger, brokers []string, group string, svc Notifier, opts ...consumer.Option) *consumer.Consumer {
	return consumer.New(log, "notification-consumer",
		consumer.GroupReader(brokers, group, events.Topics()...),
		EventHandler(log, svc), opts...)
}
