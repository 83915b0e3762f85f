package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	catalog "github.com/med-el-mrabet/InterConnect/internal/catalog/domain"
	catalogpg "github.com/med-el-mrabet/InterConnect/internal/catalog/infrastructure/postgres"
	"github.com/med-el-mrabet/InterConnect/internal/devis/application"
	"github.com/med-el-mrabet/InterConnect/internal/devis/domain"
	"github.com/med-el-mrabet/InterConnect/internal/events"
	"github.com/med-el-mrabet/InterConnect/pkg/outbox"
	"github.com/med-el-mrabet/InterConnect/pkg/tracing"
)

const aggregateType = "devis"

const devisColumns = `id, inspection_id, wagon_id, client_company, intervention_hours, hourly_rate, inspection_forfait,
	total_parts_cost, total_labor_cost, discount_percentage, final_amount, proposed_intervention_date, urgency,
	status, confirmed_by, notes, created_at, updated_at, validated_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func scanDevis(row pgx.Row) (domain.Devis, error) {
	var d domain.Devis
	var proposed *time.Time
	err := row.Scan(&d.ID, &d.InspectionID, &d.WagonID, &d.ClientCompany, &d.InterventionHours, &d.HourlyRate,
		&d.InspectionForfait, &d.TotalPartsCost, &d.TotalLaborCost, &d.DiscountPercentage, &d.FinalAmount,
		&proposed, &d.Urgency, &d.Status, &d.ConfirmedBy, &d.Notes, &d.CreatedAt, &d.UpdatedAt, &d.ValidatedAt)
	if proposed != nil {
		d.ProposedInterventionDate = *proposed
	}
	return d, err
}

func (r *Repository) Create(ctx context.Context, d *domain.Devis, event func(domain.Devis) (events.Envelope, error)) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = tx.QueryRow(ctx, `INSERT INTO devis (inspection_id, wagon_id, client_company, intervention_hours, hourly_rate,
			inspection_forfait, total_parts_cost, total_labor_cost, discount_percentage, final_amount,
			proposed_intervention_date, urgency, status, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING id`,
		d.InspectionID, d.WagonID, d.ClientCompany, d.InterventionHours, d.HourlyRate, d.InspectionForfait,
		d.TotalPartsCost, d.TotalLaborCost, d.DiscountPercentage, d.FinalAmount, d.ProposedInterventionDate,
		d.Urgency, d.Status, d.Notes, d.CreatedAt, d.UpdatedAt).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("insert devis: %w", err)
	}

	for i := range d.Items {
		it := &d.Items[i]
		it.DevisID = d.ID
		err := tx.QueryRow(ctx, `INSERT INTO devis_items (devis_id, part_reference, part_name, quantity, catalog_price, negotiated_price, line_total, stock_available)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			d.ID, it.PartReference, it.PartName, it.Quantity, it.CatalogPrice, it.NegotiatedPrice, it.LineTotal, it.StockAvailable).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.PartReference, err)
		}
	}

	env, err := event(*d)
	if err != nil {
		return err
	}
	if err := r.insertEvent(ctx, tx, env); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) insertEvent(ctx context.Context, tx pgx.Tx, env events.Envelope) error {
	row, err := env.Outbox(aggregateType, tracing.Traceparent(ctx))
	if err != nil {
		return err
	}
	return outbox.Insert(ctx, tx, row)
}

func (r *Repository) Get(ctx context.Context, id int64) (domain.Devis, error) {
	return r.get(ctx, r.pool, id, false)
}

func (r *Repository) get(ctx context.Context, q querier, id int64, forUpdate bool) (domain.Devis, error) {
	sql := `SELECT ` + devisColumns + ` FROM devis WHERE id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	d, err := scanDevis(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Devis{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Devis{}, err
	}

	items, err := r.items(ctx, q, []int64{id})
	if err != nil {
		return domain.Devis{}, err
	}
	d.Items = items[id]
	return d, nil
}

func (r *Repository) items(ctx context.Context, q querier, ids []int64) (map[int64][]domain.Item, error) {
	rows, err := q.Query(ctx, `SELECT id, devis_id, part_reference, part_name, quantity, catalog_price, negotiated_price, line_total, stock_available
		FROM devis_items WHERE devis_id = ANY($1) ORDER BY devis_id, id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]domain.Item, len(ids))
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.ID, &it.DevisID, &it.PartReference, &it.PartName, &it.Quantity, &it.CatalogPrice,
			&it.NegotiatedPrice, &it.LineTotal, &it.StockAvailable); err != nil {
			return nil, err
		}
		out[it.DevisID] = append(out[it.DevisID], it)
	}
	return out, rows.Err()
}

func (r *Repository) List(ctx context.Context, f application.Filter) ([]domain.Devis, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+devisColumns+` FROM devis
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR client_company = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, string(f.Status), f.ClientCompany, f.Limit)
	if err != nil {
		return nil, err
	}

	var list []domain.Devis
	var ids []int64
	for rows.Next() {
		d, err := scanDevis(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, d)
		ids = append(ids, d.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return list, nil
	}

	items, err := r.items(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Items = items[list[i].ID]
	}
	return list, nil
}

func (r *Repository) ExistsForInspection(ctx context.Context, inspectionID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM devis WHERE inspection_id=$1)`, inspectionID).Scan(&exists)
	return exists, err
}

// Transition runs fn against the row-locked devis and persists the result,
// its stock effects and its event atomically.
func (r *Repository) Transition(ctx context.Context, id int64, fn application.TransitionFunc) (domain.Devis, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Devis{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	d, err := r.get(ctx, tx, id, true)
	if err != nil {
		return domain.Devis{}, err
	}

	env, err := fn(ctx, &d, &stockLedger{tx: tx})
	if err != nil {
		return domain.Devis{}, err
	}

	_, err = tx.Exec(ctx, `UPDATE devis SET total_parts_cost=$2, total_labor_cost=$3, discount_percentage=$4,
			final_amount=$5, proposed_intervention_date=$6, status=$7, confirmed_by=$8, notes=$9,
			updated_at=$10, validated_at=$11
		WHERE id=$1`,
		d.ID, d.TotalPartsCost, d.TotalLaborCost, d.DiscountPercentage, d.FinalAmount, d.ProposedInterventionDate,
		d.Status, d.ConfirmedBy, d.Notes, d.UpdatedAt, d.ValidatedAt)
	if err != nil {
		return domain.Devis{}, fmt.Errorf("update devis: %w", err)
	}

	batch := &pgx.Batch{}
	for _, it := range d.Items {
		batch.Queue(`UPDATE devis_items SET negotiated_price=$2, line_total=$3, stock_available=$4 WHERE id=$1`,
			it.ID, it.NegotiatedPrice, it.LineTotal, it.StockAvailable)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return domain.Devis{}, fmt.Errorf("update items: %w", err)
	}

	if env != nil {
		if err := r.insertEvent(ctx, tx, *env); err != nil {
			return domain.Devis{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Devis{}, err
	}
	return d, nil
}

type stockLedger struct {
	tx pgx.Tx
}

func (l *stockLedger) Lock(ctx context.Context, refs []string) (map[string]int, error) {
	parts, err := catalogpg.LockParts(ctx, l.tx, refs)
	if err != nil {
		return nil, err
	}
	levels := make(map[string]int, len(parts))
	for ref, p := range parts {
		levels[ref] = p.StockQuantity
	}
	return levels, nil
}

func (l *stockLedger) Reserve(ctx context.Context, devisID int64, res domain.Reservation) error {
	if err := catalogpg.Decrement(ctx, l.tx, res.PartReference, res.Quantity); err != nil {
		if errors.Is(err, catalog.ErrInsufficientStock) {
			return &domain.ShortageError{References: []string{res.PartReference}}
		}
		return err
	}
	return catalogpg.InsertMovement(ctx, l.tx, catalog.StockMovement{
		PartReference: res.PartReference,
		MovementType:  catalog.MovementReservation,
		Quantity:      -res.Quantity,
		ReferenceType: "devis",
		ReferenceID:   fmt.Sprint(devisID),
		Notes:         fmt.Sprintf("Reserved for devis %d", devisID),
	})
}
