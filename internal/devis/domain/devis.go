package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft       Status = "draft"
	StatusNegotiating Status = "negotiating"
	StatusValidated   Status = "validated"
	StatusRejected    Status = "rejected"
)

func (s Status) Terminal() bool { return s == StatusValidated || s == StatusRejected }

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusNegotiating, StatusValidated, StatusRejected:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

var hundred = decimal.NewFromInt(100)

type Item struct {
	ID              int64           `json:"id"`
	DevisID         int64           `json:"devis_id"`
	PartReference   string          `json:"part_reference"`
	PartName        string          `json:"part_name"`
	Quantity        int             `json:"quantity"`
	CatalogPrice    decimal.Decimal `json:"catalog_price"`
	NegotiatedPrice decimal.Decimal `json:"negotiated_price"`
	LineTotal       decimal.Decimal `json:"line_total"`
	StockAvailable  bool            `json:"stock_available"`
}

func NewItem(reference, name string, quantity int, price decimal.Decimal, available bool) Item {
	it := Item{
		PartReference:   reference,
		PartName:        name,
		Quantity:        quantity,
		CatalogPrice:    price,
		NegotiatedPrice: price,
		StockAvailable:  available,
	}
	it.LineTotal = lineTotal(price, quantity)
	return it
}

func lineTotal(price decimal.Decimal, qty int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

type Devis struct {
	ID                       int64           `json:"id"`
	InspectionID             *int64          `json:"inspection_id"`
	WagonID                  string          `json:"wagon_id"`
	ClientCompany            string          `json:"client_company"`
	InterventionHours        decimal.Decimal `json:"intervention_hours"`
	HourlyRate               decimal.Decimal `json:"hourly_rate"`
	InspectionForfait        decimal.Decimal `json:"inspection_forfait"`
	TotalPartsCost           decimal.Decimal `json:"total_parts_cost"`
	TotalLaborCost           decimal.Decimal `json:"total_labor_cost"`
	DiscountPercentage       decimal.Decimal `json:"discount_percentage"`
	FinalAmount              decimal.Decimal `json:"final_amount"`
	ProposedInterventionDate time.Time       `json:"proposed_intervention_date"`
	Urgency                  Urgency         `json:"urgency"`
	Status                   Status          `json:"status"`
	ConfirmedBy              string          `json:"confirmed_by,omitempty"`
	Notes                    string          `json:"notes,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at"`
	ValidatedAt              *time.Time      `json:"validated_at,omitempty"`
	Items                    []Item          `json:"items"`
}

// Subtotal is the amount before discount.
func (d Devis) Subtotal() decimal.Decimal {
	return d.TotalPartsCost.Add(d.TotalLaborCost).Add(d.InspectionForfait)
}

// Recalculate derives every total from the items, hours, rate, forfait and
// discount. Amounts are rounded half-up to cents.
func (d *Devis) Recalculate() {
	parts := decimal.Zero
	for i := range d.Items {
		d.Items[i].LineTotal = lineTotal(d.Items[i].NegotiatedPrice, d.Items[i].Quantity)
		parts = parts.Add(d.Items[i].LineTotal)
	}
	d.TotalPartsCost = parts.Round(2)
	d.TotalLaborCost = d.InterventionHours.Mul(d.HourlyRate).Round(2)
	factor := decimal.NewFromInt(1).Sub(d.DiscountPercentage.Div(hundred))
	d.FinalAmount = d.Subtotal().Mul(factor).Round(2)
}

func ValidDiscount(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(hundred)
}

// HasStockIssues reports whether any item was short when last checked.
func (d Devis) HasStockIssues() bool {
	for _, it := range d.Items {
		if !it.StockAvailable {
			return true
		}
	}
	return false
}

func (d Devis) guard(op string) error {
	switch d.Status {
	case StatusValidated:
		if op == "validate" {
			return &TransitionError{Op: op, Current: d.Status, Err: ErrAlreadyValidated}
		}
		return &TransitionError{Op: op, Current: d.Status, Err: ErrInvalidTransition}
	case StatusRejected:
		if op == "validate" {
			return &TransitionError{Op: op, Current: d.Status, Err: ErrCannotValidateRejected}
		}
		return &TransitionError{Op: op, Current: d.Status, Err: ErrInvalidTransition}
	}
	return nil
}

type Negotiation struct {
	PartPrices       map[string]decimal.Decimal
	Discount         *decimal.Decimal
	InterventionDate *time.Time
}

// Negotiate applies price overrides and an optional discount or date, then
// recomputes totals. Nothing changes when an error is returned.
func (d *Devis) Negotiate(n Negotiation, now time.Time) error {
	if err := d.guard("negotiate"); err != nil {
		return err
	}
	if n.Discount != nil && !ValidDiscount(*n.Discount) {
		return ErrInvalidDiscount
	}

	index := make(map[string]int, len(d.Items))
	for i, it := range d.Items {
		index[it.PartReference] = i
	}
	refs := make([]string, 0, len(n.PartPrices))
	for ref, price := range n.PartPrices {
		if _, ok := index[ref]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownItem, ref)
		}
		if price.IsNegative() {
			return fmt.Errorf("%w: %s", ErrInvalidPrice, ref)
		}
		refs = append(refs, ref)
	}

	sort.Strings(refs)
	for _, ref := range refs {
		d.Items[index[ref]].NegotiatedPrice = n.PartPrices[ref]
	}
	if n.Discount != nil {
		d.DiscountPercentage = *n.Discount
	}
	if n.InterventionDate != nil {
		d.ProposedInterventionDate = *n.InterventionDate
	}
	d.Recalculate()
	d.Status = StatusNegotiating
	d.UpdatedAt = now
	return nil
}

// Reservation is one stock decrement performed at validation.
type Reservation struct {
	PartReference string
	Quantity      int
}

// PlanReservations checks locked stock for every item marked available.
// Lines sharing a reference draw from the same level in item order.
// With partial set, lines that no longer fit are flipped to unavailable and
// skipped; otherwise any shortage fails with a ShortageError.
func (d *Devis) PlanReservations(stock map[string]int, partial bool) ([]Reservation, error) {
	if err := d.guard("validate"); err != nil {
		return nil, err
	}

	left := make(map[string]int, len(stock))
	for ref, qty := range stock {
		left[ref] = qty
	}

	var out []Reservation
	var short []string
	var shortIdx []int
	seen := map[string]bool{}
	for i, it := range d.Items {
		if !it.StockAvailable {
			continue
		}
		if left[it.PartReference] < it.Quantity {
			shortIdx = append(shortIdx, i)
			if !seen[it.PartReference] {
				seen[it.PartReference] = true
				short = append(short, it.PartReference)
			}
			continue
		}
		left[it.PartReference] -= it.Quantity
		out = append(out, Reservation{PartReference: it.PartReference, Quantity: it.Quantity})
	}
	if len(short) == 0 {
		return out, nil
	}
	if !partial {
		return nil, &ShortageError{References: short}
	}

	for _, i := range shortIdx {
		d.Items[i].StockAvailable = false
	}
	d.appendNote("not reserved at validation (insufficient stock): " + strings.Join(short, ", "))
	return out, nil
}

func (d *Devis) Validate(confirmedBy, notes string, now time.Time) error {
	if err := d.guard("validate"); err != nil {
		return err
	}
	d.Status = StatusValidated
	d.ConfirmedBy = confirmedBy
	if notes != "" {
		d.appendNote(notes)
	}
	d.ValidatedAt = &now
	d.UpdatedAt = now
	return nil
}

func (d *Devis) Reject(reason string, now time.Time) error {
	if err := d.guard("reject"); err != nil {
		return err
	}
	d.Status = StatusRejected
	if reason != "" {
		d.appendNote("Rejected: " + reason)
	}
	d.UpdatedAt = now
	return nil
}

func (d *Devis) appendNote(note string) {
	if d.Notes == "" {
		d.Notes = note
		return
	}
	d.Notes += "\n" + note
}
