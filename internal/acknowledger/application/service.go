package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/med-el-mrabet/InterConnect/internal/acknowledger/domain"
	"github.com/med-el-mrabet/InterConnect/pkg/apperror"
)

type Repository interface {
	// Upsert inserts the acknowledgement or, when (event_id, target) exists,
	// increments its delivery count. It returns the stored row.
	Upsert(ctx context.Context, a domain.Acknowledgement) (domain.Acknowledgement, error)
	MarkApplied(ctx context.Context, id int64, at time.Time) error
	List(ctx context.Context, limit int) ([]domain.Acknowledgement, error)
}

// Effect applies a callback to the target's own records. It runs until it
// succeeds once per acknowledgement key, so it must be idempotent.
type Effect func(ctx context.Context, a domain.Acknowledgement) error

type Callback struct {
	EventID        string
	NotificationID string
	Target         string
	Body           json.RawMessage
}

type document struct {
	EventType string `json:"event_type"`
	Template  struct {
		Action string `json:"action"`
	} `json:"template"`
}

type Service struct {
	log    *slog.Logger
	repo   Repository
	target string
	effect Effect
	now    func() time.Time
	acks   *prometheus.CounterVec
}

type Option func(*Service)

func WithEffect(e Effect) Option { return func(s *Service) { s.effect = e } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithCounter counts callbacks by event type and result (new, duplicate).
func WithCounter(c *prometheus.CounterVec) Option { return func(s *Service) { s.acks = c } }

func NewService(log *slog.Logger, repo Repository, target string, opts ...Option) *Service {
	s := &Service{log: log, repo: repo, target: target, now: time.Now}
	s.effect = s.logEffect
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) logEffect(_ context.Context, a domain.Acknowledgement) error {
	s.log.Info("callback applied", "event_id", a.EventID, "event_type", a.EventType, "action", a.Action)
	return nil
}

func (s *Service) Target() string { return s.target }

// Receive records a callback. The effect runs for the first delivery of an
// event to this target, and again on a repeat only if it had failed.
func (s *Service) Receive(ctx context.Context, cb Callback) (domain.Acknowledgement, error) {
	if cb.EventID == "" {
		return domain.Acknowledgement{}, apperror.Validation(domain.ErrMissingEventID.Error()).Wrap(domain.ErrMissingEventID)
	}
	if cb.Target != "" && cb.Target != s.target {
		return domain.Acknowledgement{}, apperror.Validation(fmt.Sprintf("callback for %s delivered to %s", cb.Target, s.target))
	}
	var doc document
	if err := json.Unmarshal(cb.Body, &doc); err != nil {
		return domain.Acknowledgement{}, apperror.Validation("invalid body").Wrap(err)
	}
	if doc.EventType == "" {
		return domain.Acknowledgement{}, apperror.Validation("event_type is required")
	}

	now := s.now().UTC()
	a, err := s.repo.Upsert(ctx, domain.Acknowledgement{
		EventID:         cb.EventID,
		Target:          s.target,
		EventType:       doc.EventType,
		NotificationID:  cb.NotificationID,
		Action:          doc.Template.Action,
		Payload:         cb.Body,
		DeliveryCount:   1,
		FirstReceivedAt: now,
		LastReceivedAt:  now,
	})
	if err != nil {
		return domain.Acknowledgement{}, fmt.Errorf("record callback %s: %w", cb.EventID, err)
	}

	result := "new"
	if a.Duplicate() {
		result = "duplicate"
		s.log.Info("duplicate callback", "event_id", a.EventID, "delivery_count", a.DeliveryCount)
	}
	if !a.Applied() {
		if err := s.effect(ctx, a); err != nil {
			return domain.Acknowledgement{}, fmt.Errorf("apply callback %s: %w", cb.EventID, err)
		}
		at := s.now().UTC()
		if err := s.repo.MarkApplied(ctx, a.ID, at); err != nil {
			return domain.Acknowledgement{}, fmt.Errorf("mark callback %s applied: %w", cb.EventID, err)
		}
		a.AppliedAt = &at
	}
	if s.acks != nil {
		s.acks.WithLabelValues(a.EventType, result).Inc()
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]domain.Acknowledgement, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	as, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list acknowledgements: %w", err)
	}
	return as, nil
}
