package application

import (
	"context"

	"github.com/med-el-mrabet/InterConnect/internal/catalog/domain"
)

type PartRepository interface {
	List(ctx context.Context, category string) ([]domain.Part, error)
	Get(ctx context.Context, reference string) (domain.Part, error)
	FindByReferences(ctx context.Context, refs []string) (map[string]domain.Part, error)
	Categories(ctx context.Context) ([]string, error)
	Movements(ctx context.Context, reference string, limit int) ([]domain.StockMovement, error)
	Restock(ctx context.Context, reference string, quantity int, notes string) (domain.Part, error)
}
