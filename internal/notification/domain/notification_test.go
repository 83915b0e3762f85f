package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/med-el-mrabet/InterConnect/internal/events"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func pending() Notification {
	return Notification{Target: TargetWagl, Status: StatusPending, MaxRetries: DefaultMaxRetries}
}

func TestRecord_FailureThenSuccess(t *testing.T) {
	n := pending()

	n.Record(Delivery{Outcome: OutcomeRejected, StatusCode: 500, Body: "boom"}, now)
	assert.Equal(t, StatusFailed, n.Status)
	assert.Equal(t, 1, n.RetryCount)
	assert.Equal(t, "HTTP 500: boom", n.ErrorMessage)
	require.NotNil(t, n.HTTPStatusCode)
	assert.Equal(t, 500, *n.HTTPStatusCode)

	n.Record(Delivery{Outcome: OutcomeUnavailable, Err: errors.New("connection refused")}, now)
	assert.Equal(t, 2, n.RetryCount)
	assert.Equal(t, "connection refused", n.ErrorMessage)

	n.Record(Delivery{Outcome: OutcomeSent, StatusCode: 200, Body: `{"received":true}`}, now)
	assert.Equal(t, StatusSent, n.Status)
	assert.Equal(t, 2, n.RetryCount)
	assert.Empty(t, n.ErrorMessage)
	require.NotNil(t, n.SentAt)
	assert.False(t, n.Retryable())
}

func TestRecord_Truncates(t *testing.T) {
	n := pending()
	n.Record(Delivery{Outcome: OutcomeSent, StatusCode: 202, Body: strings.Repeat("x", 900)}, now)
	assert.Len(t, n.ResponseBody, 500)

	f := pending()
	f.Record(Delivery{Outcome: OutcomeRejected, StatusCode: 400, Body: strings.Repeat("é", 300)}, now)
	assert.LessOrEqual(t, len(f.ErrorMessage), 200)
	assert.True(t, strings.HasPrefix(f.ErrorMessage, "HTTP 400: "))
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "ab", Truncate("abé", 3))
	assert.Equal(t, "abé", Truncate("abé", 4))
}

func TestRetryable(t *testing.T) {
	n := pending()
	assert.True(t, n.Retryable())
	n.Status, n.RetryCount = StatusFailed, 2
	assert.True(t, n.Retryable())
	n.RetryCount = 3
	assert.False(t, n.Retryable())
}

func TestParseTarget(t *testing.T) {
	tg, err := ParseTarget("ERP_DEMAT")
	require.NoError(t, err)
	assert.Equal(t, TargetDemat, tg)

	_, err = ParseTarget("ERP_X")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestTemplates_CoverEveryKindAndTarget(t *testing.T) {
	for _, k := range events.Kinds() {
		for _, tg := range Targets() {
			tpl := TemplateFor(k, tg)
			assert.NotEqual(t, "INFO", tpl.Action, "%s/%s", k, tg)
		}
	}
	assert.Equal(t, "INFO", TemplateFor("test.notification", TargetWagl).Action)
}

func TestNewStats(t *testing.T) {
	s := NewStats([]StatusTargetCount{
		{Status: StatusSent, Target: TargetWagl, Count: 3},
		{Status: StatusFailed, Target: TargetDemat, Count: 2},
		{Status: StatusSent, Target: TargetDemat, Count: 1},
	}, 4)

	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 4, s.ByStatus[StatusSent])
	assert.Equal(t, 0, s.ByStatus[StatusPending])
	assert.Equal(t, 3, s.ByTarget[TargetDemat])
	assert.Equal(t, 4, s.SentToday)
}
