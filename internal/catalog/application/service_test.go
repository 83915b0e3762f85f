package application

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/med-el-mrabet/InterConnect/internal/catalog/domain"
	"github.com/med-el-mrabet/InterConnect/pkg/apperror"
)

type memParts struct {
	parts     map[string]domain.Part
	movements []domain.StockMovement
}

func newMemParts(parts ...domain.Part) *memParts {
	m := &memParts{parts: map[string]domain.Part{}}
	for _, p := range parts {
		m.parts[p.Reference] = p
	}
	return m
}

func (m *memParts) List(_ context.Context, category string) ([]domain.Part, error) {
	var out []domain.Part
	for _, p := range m.parts {
		if category == "" || p.Category == category {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference < out[j].Reference })
	return out, nil
}

func (m *memParts) Get(_ context.Context, ref string) (domain.Part, error) {
	p, ok := m.parts[ref]
	if !ok {
		return domain.Part{}, domain.ErrPartNotFound
	}
	return p, nil
}

func (m *memParts) FindByReferences(_ context.Context, refs []string) (map[string]domain.Part, error) {
	out := map[string]domain.Part{}
	for _, r := range refs {
		if p, ok := m.parts[r]; ok {
			out[r] = p
		}
	}
	return out, nil
}

func (m *memParts) Categories(context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, p := range m.parts {
		if !seen[p.Category] {
			seen[p.Category] = true
			out = append(out, p.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memParts) Movements(_ context.Context, ref string, _ int) ([]domain.StockMovement, error) {
	var out []domain.StockMovement
	for _, mv := range m.movements {
		if mv.PartReference == ref {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (m *memParts) Restock(_ context.Context, ref string, qty int, notes string) (domain.Part, error) {
	p, ok := m.parts[ref]
	if !ok {
		return domain.Part{}, domain.ErrPartNotFound
	}
	p.StockQuantity += qty
	m.parts[ref] = p
	m.movements = append(m.movements, domain.StockMovement{PartReference: ref, MovementType: domain.MovementRestock, Quantity: qty, Notes: notes})
	return p, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func seed() *memParts {
	return newMemParts(
		domain.Part{Reference: "BP-001", Name: "Brake pad set", Category: "brakes", CatalogPrice: decimal.NewFromInt(45), StockQuantity: 4, ReorderThreshold: 8, LeadTimeDays: 5},
		domain.Part{Reference: "HL-002", Name: "Hydraulic line", Category: "hydraulics", CatalogPrice: decimal.NewFromInt(40), StockQuantity: 10, ReorderThreshold: 4, LeadTimeDays: 7},
	)
}

func TestArbiter_CheckCountsClassifications(t *testing.T) {
	lines := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "lines"}, []string{"classification"})
	now := func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }
	a := NewArbiter(seed(), now, lines)

	rep, err := a.Check(context.Background(), []domain.Request{
		{Reference: "BP-001", Quantity: 6},
		{Reference: "HL-002", Quantity: 1},
		{Reference: "ZZ-404", Quantity: 1},
	})
	require.NoError(t, err)

	assert.False(t, rep.CanProceed)
	assert.Equal(t, "2026-03-07", rep.Lines[0].EstimatedRestockDate)
	assert.Equal(t, 1.0, testutil.ToFloat64(lines.WithLabelValues("AVAILABLE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(lines.WithLabelValues("INSUFFICIENT_STOCK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(lines.WithLabelValues("NOT_IN_CATALOG")))
}

func TestService_GetPart(t *testing.T) {
	svc := NewService(discard(), seed())

	detail, err := svc.GetPart(context.Background(), "BP-001")
	require.NoError(t, err)
	assert.True(t, detail.LowStock)

	_, err = svc.GetPart(context.Background(), "nope")
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}

func TestService_Restock(t *testing.T) {
	repo := seed()
	svc := NewService(discard(), repo)

	part, err := svc.Restock(context.Background(), "BP-001", 6, "supplier delivery")
	require.NoError(t, err)
	assert.Equal(t, 10, part.StockQuantity)
	require.Len(t, repo.movements, 1)
	assert.Equal(t, domain.MovementRestock, repo.movements[0].MovementType)

	_, err = svc.Restock(context.Background(), "BP-001", 0, "")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = svc.Restock(context.Background(), "nope", 1, "")
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}

func TestService_ListAndCategories(t *testing.T) {
	svc := NewService(discard(), seed())

	parts, err := svc.ListParts(context.Background(), "brakes")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "BP-001", parts[0].Reference)

	cats, err := svc.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"brakes", "hydraulics"}, cats)
}
