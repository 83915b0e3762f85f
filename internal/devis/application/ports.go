package application

import (
	"context"

	catalog "github.com/med-el-mrabet/InterConnect/internal/catalog/domain"
	"github.com/med-el-mrabet/InterConnect/internal/devis/domain"
	"github.com/med-el-mrabet/InterConnect/internal/events"
)

type StockChecker interface {
	Check(ctx context.Context, reqs []catalog.Request) (catalog.Report, error)
}

// StockLedger is scoped to the transaction of a Transition.
type StockLedger interface {
	// Lock takes row locks on the parts in reference order and returns
	// their current stock.
	Lock(ctx context.Context, refs []string) (map[string]int, error)
	// Reserve decrements stock and appends a reservation movement.
	Reserve(ctx context.Context, devisID int64, r domain.Reservation) error
}

// TransitionFunc mutates the locked devis. A non-nil envelope is written to
// the outbox in the same transaction; any error rolls everything back.
type TransitionFunc func(ctx context.Context, d *domain.Devis, stock StockLedger) (*events.Envelope, error)

type Filter struct {
	Status        domain.Status
	ClientCompany string
	Limit         int
}

type DevisRepository interface {
	// Create inserts d with its items, assigning ids, then writes the
	// envelope built from the stored devis to the outbox, atomically.
	Create(ctx context.Context, d *domain.Devis, event func(domain.Devis) (events.Envelope, error)) error
	Get(ctx context.Context, id int64) (domain.Devis, error)
	List(ctx context.Context, f Filter) ([]domain.Devis, error)
	ExistsForInspection(ctx context.Context, inspectionID int64) (bool, error)
	Transition(ctx context.Context, id int64, fn TransitionFunc) (domain.Devis, error)
}
