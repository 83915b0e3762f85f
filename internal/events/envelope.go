package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/med-el-mrabet/InterConnect/pkg/outbox"
	"github.com/med-el-mrabet/InterConnect/pkg/tracing"
)

const HeaderSourceService = "source_service"

var ErrUnknownKind = errors.New("unknown event kind")

// Envelope carries one event with its transport identity. The queue message
// value is the bare event document; the envelope fields travel as headers.
type Envelope struct {
	EventID    uuid.UUID
	Kind       Kind
	Source     string
	OccurredAt time.Time
	Event      Event
}

func NewEnvelope(source string, ev Event, now time.Time) Envelope {
	return Envelope{
		EventID:    uuid.New(),
		Kind:       ev.Kind(),
		Source:     source,
		OccurredAt: now.UTC(),
		Event:      ev,
	}
}

// Outbox renders the envelope as a pending outbox row.
func (e Envelope) Outbox(aggregateType, traceparent string) (outbox.Event, error) {
	payload, err := json.Marshal(e.Event)
	if err != nil {
		return outbox.Event{}, fmt.Errorf("marshal %s: %w", e.Kind, err)
	}
	return outbox.Event{
		EventID:       e.EventID.String(),
		AggregateType: aggregateType,
		AggregateID:   e.Event.AggregateID(),
		Type:          string(e.Kind),
		Payload:       payload,
		Headers:       map[string]string{HeaderSourceService: e.Source},
		Traceparent:   traceparent,
		Status:        outbox.StatusPending,
	}, nil
}

// Decode parses data as the payload of kind.
func Decode(kind Kind, data []byte) (Event, error) {
	switch kind {
	case KindInspectionRequested:
		return decodeAs[InspectionRequested](data)
	case KindInspectionScheduled:
		return decodeAs[InspectionScheduled](data)
	case KindInspectionCompleted:
		return decodeAs[InspectionCompleted](data)
	case KindDevisGenerated:
		return decodeAs[DevisGenerated](data)
	case KindDevisValidated:
		return decodeAs[DevisValidated](data)
	case KindDevisRejected:
		return decodeAs[DevisRejected](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func decodeAs[T Event](data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ev.Kind(), err)
	}
	return ev, nil
}

// FromMessage rebuilds an envelope from a queue message. The kind comes from
// the event_type header and falls back to the topic; a missing event_id
// header yields an id derived from the message position.
func FromMessage(m kafka.Message) (Envelope, error) {
	kind := Kind(tracing.HeaderValue(m.Headers, outbox.HeaderEventType))
	if kind == "" {
		kind = Kind(m.Topic)
	}
	ev, err := Decode(kind, m.Value)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		Kind:       kind,
		Source:     tracing.HeaderValue(m.Headers, HeaderSourceService),
		OccurredAt: m.Time,
		Event:      ev,
	}
	if raw := tracing.HeaderValue(m.Headers, outbox.HeaderEventID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return Envelope{}, fmt.Errorf("event_id header: %w", err)
		}
		env.EventID = id
	} else {
		// Stable per queue position so a redelivered message keeps its id.
		pos := fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
		env.EventID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(pos))
	}
	return env, nil
}

// Message renders the envelope as a queue message, for publishing outside
// the outbox.
func (e Envelope) Message(traceparent string) (kafka.Message, error) {
	row, err := e.Outbox(string(e.Kind), traceparent)
	if err != nil {
		return kafka.Message{}, err
	}
	return outbox.Message(row), nil
}
