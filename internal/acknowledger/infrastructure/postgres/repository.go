package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/med-el-mrabet/InterConnect/internal/acknowledger/domain"
)

const columns = `id, event_id, target, event_type, notification_id, action, payload, delivery_count,
	first_received_at, last_received_at, applied_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scan(row pgx.Row) (domain.Acknowledgement, error) {
	var a domain.Acknowledgement
	err := row.Scan(&a.ID, &a.EventID, &a.Target, &a.EventType, &a.NotificationID, &a.Action, &a.Payload,
		&a.DeliveryCount, &a.FirstReceivedAt, &a.LastReceivedAt, &a.AppliedAt)
	return a, err
}

// Upsert relies on the (event_id, target) unique key; the first payload wins.
func (r *Repository) Upsert(ctx context.Context, a domain.Acknowledgement) (domain.Acknowledgement, error) {
	return scan(r.pool.QueryRow(ctx, `INSERT INTO acknowledgements (event_id, target, event_type, notification_id,
			action, payload, delivery_count, first_received_at, last_received_at)
		VALUES ($1,$2,$3,$4,$5,$6,1,$7,$7)
		ON CONFLICT (event_id, target) DO UPDATE
			SET delivery_count = acknowledgements.delivery_count + 1,
				last_received_at = EXCLUDED.last_received_at
		RETURNING `+columns,
		a.EventID, a.Target, a.EventType, a.NotificationID, a.Action, a.Payload, a.LastReceivedAt))
}

func (r *Repository) MarkApplied(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE acknowledgements SET applied_at=$2 WHERE id=$1 AND applied_at IS NULL`, id, at)
	return err
}

func (r *Repository) List(ctx context.Context, limit int) ([]domain.Acknowledgement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM acknowledgements
		ORDER BY last_received_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Acknowledgement{}
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const devisColumns = `id, devis_id, target, wagon_id, client_company, final_amount, intervention_date, status, reason,
	stage, last_event_id, last_event_type, updated_at`

func scanDevis(row pgx.Row) (domain.DevisRecord, error) {
	var d domain.DevisRecord
	err := row.Scan(&d.ID, &d.DevisID, &d.Target, &d.WagonID, &d.ClientCompany, &d.FinalAmount, &d.InterventionDate,
		&d.Status, &d.Reason, &d.Stage, &d.LastEventID, &d.LastEventType, &d.UpdatedAt)
	return d, err
}

// UpsertDevis keeps the first non-empty wagon, client, amount and date seen,
// and never moves a record back to an earlier stage.
func (r *Repository) UpsertDevis(ctx context.Context, d domain.DevisRecord) (domain.DevisRecord, error) {
	stored, err := scanDevis(r.pool.QueryRow(ctx, `INSERT INTO received_devis (devis_id, target, wagon_id, client_company,
			final_amount, intervention_date, status, reason, stage, last_event_id, last_event_type, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (devis_id, target) DO UPDATE
			SET wagon_id = COALESCE(NULLIF(EXCLUDED.wagon_id, ''), received_devis.wagon_id),
				client_company = COALESCE(NULLIF(EXCLUDED.client_company, ''), received_devis.client_company),
				final_amount = COALESCE(EXCLUDED.final_amount, received_devis.final_amount),
				intervention_date = COALESCE(NULLIF(EXCLUDED.intervention_date, ''), received_devis.intervention_date),
				status = EXCLUDED.status,
				reason = EXCLUDED.reason,
				stage = EXCLUDED.stage,
				last_event_id = EXCLUDED.last_event_id,
				last_event_type = EXCLUDED.last_event_type,
				updated_at = EXCLUDED.updated_at
			WHERE received_devis.stage <= EXCLUDED.stage
		RETURNING `+devisColumns,
		d.DevisID, d.Target, d.WagonID, d.ClientCompany, d.FinalAmount, d.InterventionDate, d.Status, d.Reason,
		d.Stage, d.LastEventID, d.LastEventType, d.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return r.GetDevis(ctx, d.DevisID, d.Target)
	}
	return stored, err
}

func (r *Repository) GetDevis(ctx context.Context, devisID int64, target string) (domain.DevisRecord, error) {
	d, err := scanDevis(r.pool.QueryRow(ctx, `SELECT `+devisColumns+` FROM received_devis
		WHERE devis_id=$1 AND target=$2`, devisID, target))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DevisRecord{}, domain.ErrDevisNotFound
	}
	return d, err
}

func (r *Repository) ListDevis(ctx context.Context, target string, limit int) ([]domain.DevisRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+devisColumns+` FROM received_devis
		WHERE target=$1 ORDER BY updated_at DESC, id DESC LIMIT $2`, target, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.DevisRecord{}
	for rows.Next() {
		d, err := scanDevis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
