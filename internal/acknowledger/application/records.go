package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/med-el-mrabet/InterConnect/internal/acknowledger/domain"
	"github.com/med-el-mrabet/InterConnect/pkg/apperror"
)

type DevisStore interface {
	// UpsertDevis stores rec keyed by (devis_id, target) unless the stored
	// record is at a later stage. It returns the row as stored.
	UpsertDevis(ctx context.Context, rec domain.DevisRecord) (domain.DevisRecord, error)
	GetDevis(ctx context.Context, devisID int64, target string) (domain.DevisRecord, error)
	ListDevis(ctx context.Context, target string, limit int) ([]domain.DevisRecord, error)
}

// DevisRecorder keeps the target's received-devis records current. Its Apply
// method is the receiver's Effect.
type DevisRecorder struct {
	log    *slog.Logger
	store  DevisStore
	target string
}

func NewDevisRecorder(log *slog.Logger, store DevisStore, target string) *DevisRecorder {
	return &DevisRecorder{log: log, store: store, target: target}
}

func (r *DevisRecorder) Apply(ctx context.Context, a domain.Acknowledgement) error {
	rec, ok, err := domain.DevisRecordFrom(a)
	if err != nil {
		return err
	}
	if !ok {
		r.log.Info("callback applied", "event_id", a.EventID, "event_type", a.EventType, "action", a.Action)
		return nil
	}
	stored, err := r.store.UpsertDevis(ctx, rec)
	if err != nil {
		return fmt.Errorf("upsert devis %d: %w", rec.DevisID, err)
	}
	if stored.LastEventID != a.EventID {
		r.log.Info("stale devis callback ignored", "devis_id", rec.DevisID, "event_type", a.EventType, "status", stored.Status)
		return nil
	}
	r.log.Info("devis recorded", "devis_id", stored.DevisID, "status", stored.Status, "action", a.Action)
	return nil
}

func (r *DevisRecorder) Get(ctx context.Context, devisID int64) (domain.DevisRecord, error) {
	rec, err := r.store.GetDevis(ctx, devisID, r.target)
	if err != nil {
		if errors.Is(err, domain.ErrDevisNotFound) {
			return domain.DevisRecord{}, apperror.NotFound("devis", strconv.FormatInt(devisID, 10))
		}
		return domain.DevisRecord{}, fmt.Errorf("get devis %d: %w", devisID, err)
	}
	return rec, nil
}

func (r *DevisRecorder) List(ctx context.Context, limit int) ([]domain.DevisRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	recs, err := r.store.ListDevis(ctx, r.target, limit)
	if err != nil {
		return nil, fmt.Errorf("list devis: %w", err)
	}
	return recs, nil
}
