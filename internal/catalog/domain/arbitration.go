package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Classification string

const (
	Available         Classification = "AVAILABLE"
	InsufficientStock Classification = "INSUFFICIENT_STOCK"
	NotInCatalog      Classification = "NOT_IN_CATALOG"
)

type Action string

const (
	ActionRemove         Action = "REMOVE"
	ActionReduceQuantity Action = "REDUCE_QUANTITY"
)

type Request struct {
	Reference string `json:"reference" validate:"required"`
	Quantity  int    `json:"quantity"`
}

// Line is the verdict for one requested part. Message is for humans only;
// callers branch on Status.
type Line struct {
	Reference            string          `json:"reference"`
	Name                 string          `json:"name"`
	QuantityRequested    int             `json:"quantity_requested"`
	QuantityAvailable    int             `json:"quantity_available"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	LineTotal            decimal.Decimal `json:"line_total"`
	FoundInCatalog       bool            `json:"found_in_catalog"`
	InStock              bool            `json:"in_stock"`
	Status               Classification  `json:"status"`
	Shortage             int             `json:"shortage,omitempty"`
	EstimatedRestockDate string          `json:"estimated_restock_date,omitempty"`
	Message              string          `json:"message"`
}

// Modification quantities are set only for REDUCE_QUANTITY, where a
// suggestion of 0 is still reported.
type Modification struct {
	Action            Action `json:"action"`
	Reference         string `json:"reference"`
	CurrentQuantity   *int   `json:"current_quantity,omitempty"`
	SuggestedQuantity *int   `json:"suggested_quantity,omitempty"`
	AlternativeDate   string `json:"alternative_date,omitempty"`
	Reason            string `json:"reason"`
}

type Summary struct {
	TotalPartsRequested int `json:"total_parts_requested"`
	PartsAvailable      int `json:"parts_available"`
	PartsInsufficient   int `json:"parts_insufficient"`
	PartsNotFound       int `json:"parts_not_found"`
}

type Report struct {
	Lines               []Line          `json:"parts_status"`
	Summary             Summary         `json:"summary"`
	CanProceed          bool            `json:"can_proceed"`
	TotalAvailableValue decimal.Decimal `json:"total_available_value"`
	Modifications       []Modification  `json:"modifications_required,omitempty"`
	Message             string          `json:"message"`
}

// Normalized returns the requested quantity, defaulting non-positive values to 1.
func (r Request) Normalized() int {
	if r.Quantity <= 0 {
		return 1
	}
	return r.Quantity
}

// Classify judges one request against the catalog entry, nil when the
// reference is unknown.
func Classify(req Request, part *Part, today time.Time) (Line, *Modification) {
	qty := req.Normalized()
	line := Line{Reference: req.Reference, Name: "Unknown", QuantityRequested: qty, UnitPrice: decimal.Zero, LineTotal: decimal.Zero}

	if part == nil {
		line.Status = NotInCatalog
		line.Message = fmt.Sprintf("reference %s does not exist in the catalog", req.Reference)
		return line, &Modification{
			Action:    ActionRemove,
			Reference: req.Reference,
			Reason:    "reference not found in the catalog",
		}
	}

	line.Name = part.Name
	line.FoundInCatalog = true
	line.QuantityAvailable = part.StockQuantity
	line.UnitPrice = part.CatalogPrice

	if part.StockQuantity < qty {
		stock := part.StockQuantity
		restock := part.RestockDate(today).Format("2006-01-02")
		line.Status = InsufficientStock
		line.Shortage = qty - part.StockQuantity
		line.EstimatedRestockDate = restock
		line.Message = fmt.Sprintf("insufficient stock: %d available out of %d requested", part.StockQuantity, qty)
		return line, &Modification{
			Action:            ActionReduceQuantity,
			Reference:         req.Reference,
			CurrentQuantity:   &qty,
			SuggestedQuantity: &stock,
			AlternativeDate:   restock,
			Reason:            fmt.Sprintf("only %d pieces available; reduce to %d or wait until %s", part.StockQuantity, part.StockQuantity, restock),
		}
	}

	line.Status = Available
	line.InStock = true
	line.LineTotal = part.CatalogPrice.Mul(decimal.NewFromInt(int64(qty)))
	line.Message = fmt.Sprintf("available: %d in stock", part.StockQuantity)
	return line, nil
}

// Arbitrate classifies every request in order. parts maps reference to its
// catalog entry; references missing from the map are not in the catalog.
func Arbitrate(reqs []Request, parts map[string]Part, today time.Time) Report {
	rep := Report{
		Lines:               make([]Line, 0, len(reqs)),
		TotalAvailableValue: decimal.Zero,
		Summary:             Summary{TotalPartsRequested: len(reqs)},
	}
	for _, req := range reqs {
		var part *Part
		if p, ok := parts[req.Reference]; ok {
			part = &p
		}
		line, mod := Classify(req, part, today)
		rep.Lines = append(rep.Lines, line)
		if mod != nil {
			rep.Modifications = append(rep.Modifications, *mod)
		}

		switch line.Status {
		case Available:
			rep.Summary.PartsAvailable++
			rep.TotalAvailableValue = rep.TotalAvailableValue.Add(line.LineTotal)
		case InsufficientStock:
			rep.Summary.PartsInsufficient++
		case NotInCatalog:
			rep.Summary.PartsNotFound++
		}
	}

	rep.CanProceed = rep.Summary.PartsInsufficient == 0 && rep.Summary.PartsNotFound == 0
	if rep.CanProceed {
		rep.Message = "all parts are available; the quote can be validated"
	} else {
		rep.Message = "changes are required before the quote can be validated; see modifications_required"
	}
	return rep
}
