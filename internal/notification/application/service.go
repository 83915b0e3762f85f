package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/med-el-mrabet/InterConnect/internal/events"
	"github.com/med-el-mrabet/InterConnect/internal/notification/domain"
	"github.com/med-el-mrabet/InterConnect/pkg/apperror"
	"github.com/med-el-mrabet/InterConnect/pkg/metrics"
)

type Options struct {
	MaxRetries        int
	RetryPendingLimit int
	// Parallel bounds concurrent deliveries in bulk retry.
	Parallel int
	Now      func() time.Time
	Metrics  *metrics.Metrics
}

type Service struct {
	log       *slog.Logger
	repo      Repository
	deliverer Deliverer
	opts      Options
}

func NewService(log *slog.Logger, repo Repository, deliverer Deliverer, opts Options) *Service {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = domain.DefaultMaxRetries
	}
	if opts.RetryPendingLimit <= 0 {
		opts.RetryPendingLimit = 50
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{log: log, repo: repo, deliverer: deliverer, opts: opts}
}

func (s *Service) build(eventType, eventID, source string, target domain.Target, tpl domain.Template, data json.RawMessage, now time.Time) (domain.Notification, error) {
	doc, err := json.Marshal(domain.Document{EventType: eventType, EventData: data, Template: tpl, Timestamp: now})
	if err != nil {
		return domain.Notification{}, fmt.Errorf("marshal document: %w", err)
	}
	return domain.Notification{
		EventType:     eventType,
		EventID:       eventID,
		SourceService: source,
		Target:        target,
		Payload:       doc,
		Status:        domain.StatusPending,
		MaxRetries:    s.opts.MaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Enqueue stores one pending notification per target for the event. A
// redelivered event yields the rows created the first time.
func (s *Service) Enqueue(ctx context.Context, env events.Envelope) ([]domain.Notification, error) {
	data, err := json.Marshal(env.Event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", env.Kind, err)
	}
	source := env.Source
	if source == "" {
		source = "queue"
	}

	now := s.opts.Now().UTC()
	ns := make([]domain.Notification, 0, len(domain.Targets()))
	for _, target := range domain.Targets() {
		n, err := s.build(string(env.Kind), env.EventID.String(), source, target, domain.TemplateFor(env.Kind, target), data, now)
		if err != nil {
			return nil, err
		}
		ns = append(ns, n)
	}

	stored, err := s.repo.CreateMany(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("store notifications for %s: %w", env.EventID, err)
	}
	s.log.Info("notifications enqueued", "event_type", env.Kind, "event_id", env.EventID, "count", len(stored))
	return stored, nil
}

// Deliver attempts one callback and records the outcome.
func (s *Service) Deliver(ctx context.Context, n domain.Notification) (domain.Notification, domain.Outcome, error) {
	started := time.Now()
	res := s.deliverer.Deliver(ctx, n)
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveDelivery(string(n.Target), string(res.Outcome), time.Since(started))
	}

	log := s.log.With("notification_id", n.ID, "target", n.Target, "event_type", n.EventType, "outcome", res.Outcome)

	n.Record(res, s.opts.Now().UTC())
	if err := s.repo.SaveDelivery(ctx, n); err != nil {
		if !errors.Is(err, domain.ErrAlreadySent) {
			return n, res.Outcome, fmt.Errorf("record delivery %d: %w", n.ID, err)
		}
		// Another attempt got there first; its sent state stands.
		current, gErr := s.repo.Get(ctx, n.ID)
		if gErr != nil {
			return n, res.Outcome, fmt.Errorf("reload notification %d: %w", n.ID, gErr)
		}
		log.Info("notification already sent by a concurrent attempt", "sent_at", current.SentAt)
		return current, domain.OutcomeSent, nil
	}

	if res.Outcome == domain.OutcomeSent {
		log.Info("notification delivered", "http_status", res.StatusCode)
	} else {
		log.Warn("notification delivery failed", "http_status", res.StatusCode, "retry_count", n.RetryCount, "err", n.ErrorMessage)
	}
	return n, res.Outcome, nil
}

// DeliverAll delivers every unsent notification concurrently. Recording
// failures are logged; remote failures are left for retry.
func (s *Service) DeliverAll(ctx context.Context, ns []domain.Notification) {
	var g errgroup.Group
	g.SetLimit(s.opts.Parallel)
	for _, n := range ns {
		if n.Status == domain.StatusSent {
			continue
		}
		g.Go(func() error {
			if _, _, err := s.Deliver(ctx, n); err != nil {
				s.log.Error("delivery not recorded", "notification_id", n.ID, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) Get(ctx context.Context, id int64) (domain.Notification, error) {
	n, err := s.repo.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Notification{}, apperror.NotFound("notification", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return domain.Notification{}, fmt.Errorf("get notification %d: %w", id, err)
	}
	return n, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]domain.Notification, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.Target != "" {
		if _, err := domain.ParseTarget(string(f.Target)); err != nil {
			return nil, apperror.Validation(err.Error())
		}
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	ns, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return ns, nil
}

// Retry redelivers one notification on operator request, regardless of its
// retry count. Sent notifications are refused.
func (s *Service) Retry(ctx context.Context, id int64) (domain.Notification, domain.Outcome, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return domain.Notification{}, "", err
	}
	if n.Status == domain.StatusSent {
		return n, "", apperror.AlreadySent(fmt.Sprintf("notification %d already sent", id)).Wrap(domain.ErrAlreadySent)
	}
	return s.Deliver(ctx, n)
}

type RetrySummary struct {
	Processed int `json:"processed"`
	Success   int `json:"success"`
	Failed    int `json:"failed"`
}

// RetryPending redelivers retryable notifications in parallel. Attempts that
// could not be recorded count as failed.
func (s *Service) RetryPending(ctx context.Context, limit int) (RetrySummary, error) {
	if limit <= 0 {
		limit = s.opts.RetryPendingLimit
	}
	ns, err := s.repo.Retryable(ctx, limit)
	if err != nil {
		return RetrySummary{}, fmt.Errorf("load retryable: %w", err)
	}

	outcomes := make([]domain.Outcome, len(ns))
	var g errgroup.Group
	g.SetLimit(s.opts.Parallel)
	for i, n := range ns {
		g.Go(func() error {
			_, outcome, err := s.Deliver(ctx, n)
			if err != nil {
				s.log.Error("delivery not recorded", "notification_id", n.ID, "err", err)
				return nil
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	sum := RetrySummary{Processed: len(ns)}
	for _, o := range outcomes {
		if o == domain.OutcomeSent {
			sum.Success++
		} else {
			sum.Failed++
		}
	}
	s.log.Info("bulk retry finished", "processed", sum.Processed, "success", sum.Success, "failed", sum.Failed)
	return sum, nil
}

func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	counts, err := s.repo.CountByStatusTarget(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("count notifications: %w", err)
	}
	y, m, d := s.opts.Now().UTC().Date()
	today, err := s.repo.CountSentSince(ctx, time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return domain.Stats{}, fmt.Errorf("count sent today: %w", err)
	}
	return domain.NewStats(counts, today), nil
}

type TestRequest struct {
	EventType string          `json:"event_type"`
	Target    domain.Target   `json:"target_erp"`
	Payload   json.RawMessage `json:"payload"`
}

// SendTest creates and delivers a manual notification to one target.
func (s *Service) SendTest(ctx context.Context, req TestRequest) (domain.Notification, domain.Outcome, error) {
	if req.EventType == "" {
		req.EventType = "test.notification"
	}
	if req.Target == "" {
		req.Target = domain.TargetWagl
	}
	target, err := domain.ParseTarget(string(req.Target))
	if err != nil {
		return domain.Notification{}, "", apperror.Validation(err.Error())
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage(`{"test":true}`)
	}

	now := s.opts.Now().UTC()
	n, err := s.build(req.EventType, uuid.NewString(), "manual", target, domain.TemplateFor(events.Kind(req.EventType), target), req.Payload, now)
	if err != nil {
		return domain.Notification{}, "", err
	}
	stored, err := s.repo.CreateMany(ctx, []domain.Notification{n})
	if err != nil {
		return domain.Notification{}, "", fmt.Errorf("store test notification: %w", err)
	}
	return s.Deliver(ctx, stored[0])
}
