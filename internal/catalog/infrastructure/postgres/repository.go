package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/med-el-mrabet/InterConnect/internal/catalog/domain"
)

const partColumns = `id, reference, name, description, category, catalog_price, stock_quantity, reorder_threshold, lead_time_days, created_at, updated_at`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func scanPart(row pgx.Row) (domain.Part, error) {
	var p domain.Part
	err := row.Scan(&p.ID, &p.Reference, &p.Name, &p.Description, &p.Category, &p.CatalogPrice,
		&p.StockQuantity, &p.ReorderThreshold, &p.LeadTimeDays, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repository) List(ctx context.Context, category string) ([]domain.Part, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+partColumns+` FROM parts WHERE ($1 = '' OR category = $1) ORDER BY category, reference`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []domain.Part
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

func (r *Repository) Get(ctx context.Context, reference string) (domain.Part, error) {
	p, err := scanPart(r.pool.QueryRow(ctx, `SELECT `+partColumns+` FROM parts WHERE reference=$1`, reference))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Part{}, domain.ErrPartNotFound
	}
	return p, err
}

func (r *Repository) FindByReferences(ctx context.Context, refs []string) (map[string]domain.Part, error) {
	out := make(map[string]domain.Part, len(refs))
	if len(refs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+partColumns+` FROM parts WHERE reference = ANY($1)`, refs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		out[p.Reference] = p
	}
	return out, rows.Err()
}

func (r *Repository) Categories(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT category FROM parts ORDER BY category`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *Repository) Movements(ctx context.Context, reference string, limit int) ([]domain.StockMovement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, part_reference, movement_type, quantity, reference_type, reference_id, notes, created_at
		FROM stock_movements WHERE part_reference=$1
		ORDER BY created_at DESC, id DESC LIMIT $2`, reference, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StockMovement
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.PartReference, &m.MovementType, &m.Quantity, &m.ReferenceType, &m.ReferenceID, &m.Notes, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) Restock(ctx context.Context, reference string, quantity int, notes string) (domain.Part, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Part{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	p, err := scanPart(tx.QueryRow(ctx, `UPDATE parts SET stock_quantity = stock_quantity + $2, updated_at = now()
		WHERE reference=$1 RETURNING `+partColumns, reference, quantity))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Part{}, domain.ErrPartNotFound
	}
	if err != nil {
		return domain.Part{}, err
	}

	if err := InsertMovement(ctx, tx, domain.StockMovement{
		PartReference: reference,
		MovementType:  domain.MovementRestock,
		Quantity:      quantity,
		ReferenceType: "manual",
		Notes:         notes,
	}); err != nil {
		return domain.Part{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Part{}, err
	}
	return p, nil
}

// InsertMovement appends a ledger entry inside tx.
func InsertMovement(ctx context.Context, tx pgx.Tx, m domain.StockMovement) error {
	_, err := tx.Exec(ctx, `INSERT INTO stock_movements (part_reference, movement_type, quantity, reference_type, reference_id, notes)
		VALUES ($1,$2,$3,$4,$5,$6)`, m.PartReference, m.MovementType, m.Quantity, m.ReferenceType, m.ReferenceID, m.Notes)
	return err
}

// LockParts selects the given parts FOR UPDATE in reference order inside tx.
func LockParts(ctx context.Context, tx pgx.Tx, refs []string) (map[string]domain.Part, error) {
	out := make(map[string]domain.Part, len(refs))
	if len(refs) == 0 {
		return out, nil
	}
	rows, err := tx.Query(ctx, `SELECT `+partColumns+` FROM parts WHERE reference = ANY($1) ORDER BY reference FOR UPDATE`, refs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		out[p.Reference] = p
	}
	return out, rows.Err()
}

// Decrement removes quantity pieces of reference inside tx. It fails rather
// than letting stock go negative.
func Decrement(ctx context.Context, tx pgx.Tx, reference string, quantity int) error {
	ct, err := tx.Exec(ctx, `UPDATE parts SET stock_quantity = stock_quantity - $2, updated_at = now()
		WHERE reference=$1 AND stock_quantity >= $2`, reference, quantity)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrInsufficientStock, reference)
	}
	return nil
}
