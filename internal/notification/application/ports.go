package application

import (
	"context"
	"time"

	"github.com/med-el-mrabet/InterConnect/internal/notification/domain"
)

type Filter struct {
	Status    domain.Status
	Target    domain.Target
	EventType string
	Limit     int
}

type Repository interface {
	// CreateMany inserts the notifications, keeping any existing row with the
	// same (event_id, target), and returns the stored rows.
	CreateMany(ctx context.Context, ns []domain.Notification) ([]domain.Notification, error)
	Get(ctx context.Context, id int64) (domain.Notification, error)
	List(ctx context.Context, f Filter) ([]domain.Notification, error)
	// Retryable returns unsent notifications below their retry limit, oldest first.
	Retryable(ctx context.Context, limit int) ([]domain.Notification, error)
	SaveDelivery(ctx context.Context, n domain.Notification) error
	CountByStatusTarget(ctx context.Context) ([]domain.StatusTargetCount, error)
	CountSentSince(ctx context.Context, since time.Time) (int, error)
}

// Deliverer posts one notification to its target. It never retries inline.
type Deliverer interface {
	Deliver(ctx context.Context, n domain.Notification) domain.Delivery
}
