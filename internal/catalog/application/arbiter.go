package application

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/med-el-mrabet/InterConnect/internal/catalog/domain"
)

// Arbiter checks requested parts against current stock. It never writes.
type Arbiter struct {
	repo  PartRepository
	now   func() time.Time
	lines *prometheus.CounterVec
}

func NewArbiter(repo PartRepository, now func() time.Time, lines *prometheus.CounterVec) *Arbiter {
	if now == nil {
		now = time.Now
	}
	return &Arbiter{repo: repo, now: now, lines: lines}
}

func (a *Arbiter) Check(ctx context.Context, reqs []domain.Request) (domain.Report, error) {
	refs := make([]string, 0, len(reqs))
	for _, r := range reqs {
		refs = append(refs, r.Reference)
	}
	parts, err := a.repo.FindByReferences(ctx, refs)
	if err != nil {
		return domain.Report{}, fmt.Errorf("load parts: %w", err)
	}

	rep := domain.Arbitrate(reqs, parts, a.now())
	if a.lines != nil {
		for _, l := range rep.Lines {
			a.lines.WithLabelValues(string(l.Status)).Inc()
		}
	}
	return rep, nil
}
