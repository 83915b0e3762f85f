package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

var (
	ErrNotFound      = errors.New("notification not found")
	ErrAlreadySent   = errors.New("notification already sent")
	ErrUnknownTarget = errors.New("unknown target")
)

type Target string

const (
	TargetWagl  Target = "ERP_WAGL"
	TargetDemat Target = "ERP_DEMAT"
)

// Targets lists every counterparty an event is delivered to.
func Targets() []Target { return []Target{TargetWagl, TargetDemat} }

func ParseTarget(s string) (Target, error) {
	switch t := Target(s); t {
	case TargetWagl, TargetDemat:
		return t, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownTarget, s)
}

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusSent || s == StatusFailed
}

const (
	DefaultMaxRetries  = 3
	maxResponseExcerpt = 500
	maxErrorMessage    = 200
)

type Notification struct {
	ID             int64           `json:"id"`
	EventType      string          `json:"event_type"`
	EventID        string          `json:"event_id"`
	SourceService  string          `json:"source_service"`
	Target         Target          `json:"target_erp"`
	Payload        json.RawMessage `json:"payload"`
	Status         Status          `json:"status"`
	HTTPStatusCode *int            `json:"http_status_code,omitempty"`
	ResponseBody   string          `json:"response_body,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	CreatedAt      time.Time       `json:"created_at"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Retryable reports whether bulk retry should pick the notification up.
func (n Notification) Retryable() bool {
	return n.Status != StatusSent && n.RetryCount < n.MaxRetries
}

type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeRejected    Outcome = "rejected"
	OutcomeUnavailable Outcome = "upstream_unavailable"
)

// Delivery is the result of one callback attempt. StatusCode is zero when no
// response was received.
type Delivery struct {
	Outcome    Outcome
	StatusCode int
	Body       string
	Err        error
}

// Record applies a delivery attempt. A failure increments RetryCount; a
// success stops the counting.
func (n *Notification) Record(d Delivery, now time.Time) {
	n.UpdatedAt = now
	if d.StatusCode != 0 {
		code := d.StatusCode
		n.HTTPStatusCode = &code
	}

	if d.Outcome == OutcomeSent {
		n.Status = StatusSent
		n.ResponseBody = Truncate(d.Body, maxResponseExcerpt)
		n.ErrorMessage = ""
		n.SentAt = &now
		return
	}

	n.Status = StatusFailed
	n.RetryCount++
	switch {
	case d.Outcome == OutcomeRejected:
		n.ErrorMessage = Truncate(fmt.Sprintf("HTTP %d: %s", d.StatusCode, Truncate(d.Body, maxErrorMessage)), maxErrorMessage)
	case d.Err != nil:
		n.ErrorMessage = Truncate(d.Err.Error(), maxErrorMessage)
	default:
		n.ErrorMessage = string(d.Outcome)
	}
}

// Truncate cuts s to at most n bytes without splitting a rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Document is the JSON body posted to a target.
type Document struct {
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
	Template  Template        `json:"template"`
	Timestamp time.Time       `json:"timestamp"`
}

type StatusTargetCount struct {
	Status Status `json:"status"`
	Target Target `json:"target_erp"`
	Count  int    `json:"count"`
}

type Stats struct {
	ByStatusTarget []StatusTargetCount `json:"by_status_and_target"`
	ByStatus       map[Status]int      `json:"by_status"`
	ByTarget       map[Target]int      `json:"by_target"`
	Total          int                 `json:"total"`
	SentToday      int                 `json:"sent_today"`
}

// NewStats folds per-(status, target) counts into totals.
func NewStats(counts []StatusTargetCount, sentToday int) Stats {
	s := Stats{
		ByStatusTarget: counts,
		ByStatus:       map[Status]int{StatusPending: 0, StatusSent: 0, StatusFailed: 0},
		ByTarget:       map[Target]int{TargetWagl: 0, TargetDemat: 0},
		SentToday:      sentToday,
	}
	if s.ByStatusTarget == nil {
		s.ByStatusTarget = []StatusTargetCount{}
	}
	for _, c := range counts {
		s.ByStatus[c.Status] += c.Count
		s.ByTarget[c.Target] += c.Count
		s.Total += c.Count
	}
	return s
}
