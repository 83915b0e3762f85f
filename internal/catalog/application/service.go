package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/med-el-mrabet/InterConnect/internal/catalog/domain"
	"github.com/med-el-mrabet/InterConnect/pkg/apperror"
)

type Service struct {
	log  *slog.Logger
	repo PartRepository
}

func NewService(log *slog.Logger, repo PartRepository) *Service {
	return &Service{log: log, repo: repo}
}

type PartDetail struct {
	Part      domain.Part            `json:"part"`
	LowStock  bool                   `json:"low_stock"`
	Movements []domain.StockMovement `json:"recent_movements"`
}

func (s *Service) ListParts(ctx context.Context, category string) ([]domain.Part, error) {
	parts, err := s.repo.List(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	return parts, nil
}

func (s *Service) GetPart(ctx context.Context, reference string) (PartDetail, error) {
	part, err := s.repo.Get(ctx, reference)
	if errors.Is(err, domain.ErrPartNotFound) {
		return PartDetail{}, apperror.NotFound("part", reference)
	}
	if err != nil {
		return PartDetail{}, fmt.Errorf("get part %s: %w", reference, err)
	}
	movements, err := s.repo.Movements(ctx, reference, 20)
	if err != nil {
		return PartDetail{}, fmt.Errorf("part movements %s: %w", reference, err)
	}
	return PartDetail{Part: part, LowStock: part.LowStock(), Movements: movements}, nil
}

func (s *Service) Categories(ctx context.Context) ([]string, error) {
	cats, err := s.repo.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return cats, nil
}

// Restock adds quantity pieces and records a restock movement.
func (s *Service) Restock(ctx context.Context, reference string, quantity int, notes string) (domain.Part, error) {
	if quantity <= 0 {
		return domain.Part{}, apperror.Validation("quantity must be positive")
	}
	part, err := s.repo.Restock(ctx, reference, quantity, notes)
	if errors.Is(err, domain.ErrPartNotFound) {
		return domain.Part{}, apperror.NotFound("part", reference)
	}
	if err != nil {
		return domain.Part{}, fmt.Errorf("restock %s: %w", reference, err)
	}
	s.log.Info("part restocked", "reference", reference, "quantity", quantity, "stock", part.StockQuantity)
	return part, nil
}
