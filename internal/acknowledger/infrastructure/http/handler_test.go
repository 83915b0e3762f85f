package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/med-el-mrabet/InterConnect/internal/acknowledger/application"
	"github.com/med-el-mrabet/InterConnect/internal/acknowledger/domain"
	"github.com/med-el-mrabet/InterConnect/pkg/apperror"
)

type countingRepo struct {
	counts map[string]int
}

func (r *countingRepo) Upsert(_ context.Context, a domain.Acknowledgement) (domain.Acknowledgement, error) {
	r.counts[a.EventID+"/"+a.Target]++
	a.DeliveryCount = r.counts[a.EventID+"/"+a.Target]
	return a, nil
}

func (r *countingRepo) MarkApplied(context.Context, int64, time.Time) error { return nil }

func (r *countingRepo) List(context.Context, int) ([]domain.Acknowledgement, error) {
	return []domain.Acknowledgement{{ID: 1, EventID: "e-1", Target: "ERP_DEMAT"}}, nil
}

func router() http.Handler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := application.NewService(log, &countingRepo{counts: map[string]int{}}, "ERP_DEMAT")
	r := chi.NewRouter()
	NewHandler(log, svc).Routes(r)
	return r
}

func post(h http.Handler, eventID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/notifications", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if eventID != "" {
		req.Header.Set("X-Event-ID", eventID)
	}
	req.Header.Set("X-Notification-ID", "3")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestReceive_FirstThenDuplicate(t *testing.T) {
	h := router()
	doc := `{"event_type":"devis.rejected","event_data":{"devis_id":2},"template":{"action":"CANCEL_REPAIR"}}`

	rec := post(h, "e-1", doc)
	require.Equal(t, http.StatusCreated, rec.Code)
	var first receivedResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, receivedResp{Status: "received", Target: "ERP_DEMAT", EventID: "e-1", DeliveryCount: 1}, first)

	rec = post(h, "e-1", doc)
	require.Equal(t, http.StatusOK, rec.Code)
	var again receivedResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.True(t, again.Duplicate)
	assert.Equal(t, 2, again.DeliveryCount)
}

func TestReceive_MissingEventID(t *testing.T) {
	rec := post(router(), "", `{"event_type":"devis.rejected"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestList(t *testing.T) {
	rec := httptest.NewRecorder()
	router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/acknowledgements?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"target":"ERP_DEMAT"`)
	assert.Contains(t, rec.Body.String(), `"event_id":"e-1"`)
}

type stubRecords map[int64]domain.DevisRecord

func (s stubRecords) Get(_ context.Context, id int64) (domain.DevisRecord, error) {
	rec, ok := s[id]
	if !ok {
		return domain.DevisRecord{}, apperror.NotFound("devis", "x")
	}
	return rec, nil
}

func (s stubRecords) List(context.Context, int) ([]domain.DevisRecord, error) {
	out := []domain.DevisRecord{}
	for _, rec := range s {
		out = append(out, rec)
	}
	return out, nil
}

func TestReceivedDevis(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := application.NewService(log, &countingRepo{counts: map[string]int{}}, "ERP_WAGL")
	records := stubRecords{12: {ID: 1, DevisID: 12, Target: "ERP_WAGL", Status: "validated", FinalAmount: decimal.NewNullDecimal(decimal.NewFromInt(2034))}}
	r := chi.NewRouter()
	NewHandler(log, svc).WithRecords(records).Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/received-devis", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
	assert.Contains(t, rec.Body.String(), `"status":"validated"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/received-devis/12", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"final_amount":"2034"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/received-devis/99", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/received-devis/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
