package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/med-el-mrabet/InterConnect/internal/events"
	"github.com/med-el-mrabet/InterConnect/pkg/consumer"
)

type InspectionHandler interface {
	HandleInspectionCompleted(ctx context.Context, ev events.InspectionCompleted) error
}

// InspectionCompletedHandler turns inspection.completed messages into devis
// drafts.
func InspectionCompletedHandler(log *slog.Logger, svc InspectionHandler) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) (func(context.Context), error) {
		env, err := events.FromMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", consumer.ErrPoison, err)
		}
		done, ok := env.Event.(events.InspectionCompleted)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected %s on %s", consumer.ErrPoison, env.Kind, msg.Topic)
		}

		if err := svc.HandleInspectionCompleted(ctx, done); err != nil {
			return nil, err
		}
		log.Info("inspection completion processed", "inspection_id", done.InspectionID, "event_id", env.EventID)
		return nil, nil
	}
}

func NewConsumer(log *slog.Logger, brokers []string, group string, svc InspectionHandler, opts ...consumer.Option) *consumer.Consumer {
	return consumer.New(log, "devis-inspection-consumer",
		consumer.GroupReader(brokers, group, string(events.KindInspectionCompleted)),
		InspectionCompletedHandler(log, svc), opts...)
}
