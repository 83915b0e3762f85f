// Package webhook delivers notifications to the ERP callback endpoints.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/med-el-mrabet/InterConnect/internal/notification/domain"
)

const (
	HeaderEventID            = "X-Event-ID"
	HeaderNotificationID     = "X-Notification-ID"
	HeaderNotificationTarget = "X-Notification-Target"

	callbackPath = "/api/notifications"
	maxBody      = 4 << 10
)

var errServerStatus = errors.New("server error status")

type Config struct {
	Bases           map[domain.Target]string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerOpenFor  time.Duration
}

type Client struct {
	log      *slog.Logger
	http     *http.Client
	bases    map[domain.Target]string
	breakers map[domain.Target]*gobreaker.CircuitBreaker
}

type response struct {
	code int
	body string
}

func New(log *slog.Logger, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 30 * time.Second
	}

	c := &Client{
		log:      log,
		http:     &http.Client{Timeout: cfg.Timeout},
		bases:    cfg.Bases,
		breakers: make(map[domain.Target]*gobreaker.CircuitBreaker, len(cfg.Bases)),
	}
	for target := range cfg.Bases {
		c.breakers[target] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(target),
			MaxRequests: 1,
			Timeout:     cfg.BreakerOpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("delivery breaker state changed", "target", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c
}

// Deliver posts the notification document once. Server errors and transport
// failures count against the target's breaker.
func (c *Client) Deliver(ctx context.Context, n domain.Notification) domain.Delivery {
	base, ok := c.bases[n.Target]
	if !ok {
		return domain.Delivery{Outcome: domain.OutcomeUnavailable, Err: fmt.Errorf("%w %q", domain.ErrUnknownTarget, n.Target)}
	}

	res, err := c.breakers[n.Target].Execute(func() (interface{}, error) {
		return c.post(ctx, base+callbackPath, n)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.Delivery{Outcome: domain.OutcomeUnavailable, Err: fmt.Errorf("%s: %w", n.Target, err)}
	}

	r, _ := res.(response)
	if r.code == 0 {
		return domain.Delivery{Outcome: domain.OutcomeUnavailable, Err: err}
	}
	switch r.code {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return domain.Delivery{Outcome: domain.OutcomeSent, StatusCode: r.code, Body: r.body}
	}
	return domain.Delivery{Outcome: domain.OutcomeRejected, StatusCode: r.code, Body: r.body}
}

func (c *Client) post(ctx context.Context, url string, n domain.Notification) (response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(n.Payload))
	if err != nil {
		return response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventID, n.EventID)
	req.Header.Set(HeaderNotificationID, strconv.FormatInt(n.ID, 10))
	req.Header.Set(HeaderNotificationTarget, string(n.Target))
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("post %s: %w", n.Target, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	r := response{code: resp.StatusCode, body: string(body)}
	if resp.StatusCode >= http.StatusInternalServerError {
		return r, errServerStatus
	}
	return r, nil
}
