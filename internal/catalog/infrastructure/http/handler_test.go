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

	"github.com/med-el-mrabet/InterConnect/internal/catalog/application"
	"github.com/med-el-mrabet/InterConnect/internal/catalog/domain"
)

type stubParts map[string]domain.Part

func (s stubParts) List(context.Context, string) ([]domain.Part, error) {
	out := make([]domain.Part, 0, len(s))
	for _, p := range s {
		out = append(out, p)
	}
	return out, nil
}

func (s stubParts) Get(_ context.Context, ref string) (domain.Part, error) {
	p, ok := s[ref]
	if !ok {
		return domain.Part{}, domain.ErrPartNotFound
	}
	return p, nil
}

func (s stubParts) FindByReferences(_ context.Context, refs []string) (map[string]domain.Part, error) {
	out := map[string]domain.Part{}
	for _, r := range refs {
		if p, ok := s[r]; ok {
			out[r] = p
		}
	}
	return out, nil
}

func (s stubParts) Categories(context.Context) ([]string, error) { return []string{"brakes"}, nil }

func (s stubParts) Movements(context.Context, string, int) ([]domain.StockMovement, error) {
	return nil, nil
}

func (s stubParts) Restock(_ context.Context, ref string, qty int, _ string) (domain.Part, error) {
	p, ok := s[ref]
	if !ok {
		return domain.Part{}, domain.ErrPartNotFound
	}
	p.StockQuantity += qty
	s[ref] = p
	return p, nil
}

func newRouter() http.Handler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := stubParts{"BP-001": {Reference: "BP-001", Name: "Brake pad set", Category: "brakes", CatalogPrice: decimal.NewFromInt(45), StockQuantity: 4, LeadTimeDays: 5}}
	now := func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }

	r := chi.NewRouter()
	NewHandler(log, application.NewService(log, repo), application.NewArbiter(repo, now, nil)).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestCheck(t *testing.T) {
	rec, body := do(t, newRouter(), http.MethodPost, "/stock/check", `{"parts":[{"reference":"BP-001","quantity":6}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, false, body["can_proceed"])
	line := body["parts_status"].([]any)[0].(map[string]any)
	assert.Equal(t, "INSUFFICIENT_STOCK", line["status"])
	assert.Equal(t, 2.0, line["shortage"])
	mod := body["modifications_required"].([]any)[0].(map[string]any)
	assert.Equal(t, "REDUCE_QUANTITY", mod["action"])
	assert.Equal(t, 4.0, mod["suggested_quantity"])
}

func TestCheck_EmptyParts(t *testing.T) {
	rec, body := do(t, newRouter(), http.MethodPost, "/stock/check", `{"parts":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestCheck_MissingReference(t *testing.T) {
	rec, body := do(t, newRouter(), http.MethodPost, "/stock/check", `{"parts":[{"quantity":2}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "reference is required", body["error"])
}

func TestGetPart_NotFound(t *testing.T) {
	rec, body := do(t, newRouter(), http.MethodGet, "/stock/parts/XX-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestRestock(t *testing.T) {
	h := newRouter()
	rec, body := do(t, h, http.MethodPost, "/stock/parts/BP-001/restock", `{"quantity":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7.0, body["stock_quantity"])

	rec, _ = do(t, h, http.MethodPost, "/stock/parts/BP-001/restock", `{"quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
