package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrPartNotFound      = errors.New("part not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type Part struct {
	ID               int64           `json:"id"`
	Reference        string          `json:"reference"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Category         string          `json:"category"`
	CatalogPrice     decimal.Decimal `json:"catalog_price"`
	StockQuantity    int             `json:"stock_quantity"`
	ReorderThreshold int             `json:"reorder_threshold"`
	LeadTimeDays     int             `json:"lead_time_days"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (p Part) LowStock() bool { return p.StockQuantity <= p.ReorderThreshold }

// RestockDate is the day new stock is expected when ordering today.
func (p Part) RestockDate(today time.Time) time.Time {
	y, m, d := today.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, p.LeadTimeDays)
}

type MovementType string

const (
	MovementRestock     MovementType = "restock"
	MovementReservation MovementType = "reservation"
	MovementAdjustment  MovementType = "adjustment"
)

// StockMovement is an append-only ledger entry. Quantity is signed:
// reservations are negative.
type StockMovement struct {
	ID            int64        `json:"id"`
	PartReference string       `json:"part_reference"`
	MovementType  MovementType `json:"movement_type"`
	Quantity      int          `json:"quantity"`
	ReferenceType string       `json:"reference_type"`
	ReferenceID   string       `json:"reference_id"`
	Notes         string       `json:"notes"`
	CreatedAt     time.Time    `json:"created_at"`
}
