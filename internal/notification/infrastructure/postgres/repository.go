package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/med-el-mrabet/InterConnect/internal/notification/application"
	"github.com/med-el-mrabet/InterConnect/internal/notification/domain"
)

const columns = `id, event_type, event_id::text, source_service, target_erp, payload, status, http_status_code,
	response_body, error_message, retry_count, max_retries, created_at, sent_at, updated_at`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func scan(row pgx.Row) (domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(&n.ID, &n.EventType, &n.EventID, &n.SourceService, &n.Target, &n.Payload, &n.Status,
		&n.HTTPStatusCode, &n.ResponseBody, &n.ErrorMessage, &n.RetryCount, &n.MaxRetries, &n.CreatedAt,
		&n.SentAt, &n.UpdatedAt)
	return n, err
}

func collect(rows pgx.Rows) ([]domain.Notification, error) {
	defer rows.Close()
	out := []domain.Notification{}
	for rows.Next() {
		n, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) CreateMany(ctx context.Context, ns []domain.Notification) ([]domain.Notification, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	out := make([]domain.Notification, 0, len(ns))
	for _, n := range ns {
		stored, err := scan(tx.QueryRow(ctx, `INSERT INTO notifications (event_type, event_id, source_service,
				target_erp, payload, status, max_retries, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (event_id, target_erp) DO NOTHING
			RETURNING `+columns,
			n.EventType, n.EventID, n.SourceService, n.Target, n.Payload, n.Status, n.MaxRetries, n.CreatedAt, n.UpdatedAt))
		if errors.Is(err, pgx.ErrNoRows) {
			stored, err = scan(tx.QueryRow(ctx, `SELECT `+columns+` FROM notifications
				WHERE event_id=$1 AND target_erp=$2`, n.EventID, n.Target))
		}
		if err != nil {
			return nil, fmt.Errorf("store %s for %s: %w", n.Target, n.EventID, err)
		}
		out = append(out, stored)
	}
	return out, tx.Commit(ctx)
}

func (r *Repository) Get(ctx context.Context, id int64) (domain.Notification, error) {
	n, err := scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM notifications WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Notification{}, domain.ErrNotFound
	}
	return n, err
}

func (r *Repository) List(ctx context.Context, f application.Filter) ([]domain.Notification, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status=$%d", f.Status)
	}
	if f.Target != "" {
		add("target_erp=$%d", f.Target)
	}
	if f.EventType != "" {
		add("event_type=$%d", f.EventType)
	}

	sql := `SELECT ` + columns + ` FROM notifications`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit)
	sql += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *Repository) Retryable(ctx context.Context, limit int) ([]domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM notifications
		WHERE status IN ('pending', 'failed') AND retry_count < max_retries
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// SaveDelivery records an attempt. A row already marked sent is left as is
// and ErrAlreadySent is returned.
func (r *Repository) SaveDelivery(ctx context.Context, n domain.Notification) error {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications
		SET status=$2, http_status_code=$3, response_body=$4, error_message=$5, retry_count=$6, sent_at=$7, updated_at=$8
		WHERE id=$1 AND status <> 'sent'`,
		n.ID, n.Status, n.HTTPStatusCode, n.ResponseBody, n.ErrorMessage, n.RetryCount, n.SentAt, n.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM notifications WHERE id=$1)`, n.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrAlreadySent
}

func (r *Repository) CountByStatusTarget(ctx context.Context) ([]domain.StatusTargetCount, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, target_erp, count(*) FROM notifications
		GROUP BY status, target_erp ORDER BY status, target_erp`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StatusTargetCount
	for rows.Next() {
		var c domain.StatusTargetCount
		if err := rows.Scan(&c.Status, &c.Target, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) CountSentSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM notifications WHERE status='sent' AND sent_at >= $1`, since).Scan(&n)
	return n, err
}
