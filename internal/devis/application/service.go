package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	catalog "github.com/med-el-mrabet/InterConnect/internal/catalog/domain"
	"github.com/med-el-mrabet/InterConnect/internal/devis/domain"
	"github.com/med-el-mrabet/InterConnect/internal/events"
	"github.com/med-el-mrabet/InterConnect/pkg/apperror"
)

const SourceService = "devis-service"

type Pricing struct {
	HourlyRate        decimal.Decimal
	InspectionForfait decimal.Decimal
}

type Options struct {
	Pricing Pricing
	// PartialReservation reserves what is still in stock instead of failing
	// validation when a line went short.
	PartialReservation bool
	Now                func() time.Time
	Transitions        *prometheus.CounterVec
}

type Service struct {
	log   *slog.Logger
	repo  DevisRepository
	stock StockChecker
	opts  Options
}

func NewService(log *slog.Logger, repo DevisRepository, stock StockChecker, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Pricing.HourlyRate.IsZero() {
		opts.Pricing.HourlyRate = decimal.NewFromInt(85)
	}
	if opts.Pricing.InspectionForfait.IsZero() {
		opts.Pricing.InspectionForfait = decimal.NewFromInt(1360)
	}
	return &Service{log: log, repo: repo, stock: stock, opts: opts}
}

type CreateRequest struct {
	InspectionID             *int64            `json:"inspection_id"`
	WagonID                  string            `json:"wagon_id" validate:"required"`
	ClientCompany            string            `json:"client_company" validate:"required"`
	Parts                    []catalog.Request `json:"parts" validate:"dive"`
	InterventionHours        decimal.Decimal   `json:"intervention_hours"`
	HourlyRate               *decimal.Decimal  `json:"hourly_rate"`
	InspectionForfait        *decimal.Decimal  `json:"inspection_forfait"`
	DiscountPercentage       *decimal.Decimal  `json:"discount_percentage"`
	ProposedInterventionDate string            `json:"proposed_intervention_date"`
	Urgency                  domain.Urgency    `json:"urgency" validate:"omitempty,oneof=normal high"`
	Notes                    string            `json:"notes"`
}

type Breakdown struct {
	TotalPartsCost     decimal.Decimal `json:"total_parts_cost"`
	TotalLaborCost     decimal.Decimal `json:"total_labor_cost"`
	InspectionForfait  decimal.Decimal `json:"inspection_forfait"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	FinalAmount        decimal.Decimal `json:"final_amount"`
}

type CreateResult struct {
	Devis         domain.Devis           `json:"devis"`
	StockCheck    catalog.Report         `json:"stock_check"`
	Pricing       Breakdown              `json:"pricing"`
	CanValidate   bool                   `json:"can_validate"`
	Modifications []catalog.Modification `json:"modifications_required,omitempty"`
	Message       string                 `json:"message"`
}

func breakdown(d domain.Devis) Breakdown {
	return Breakdown{
		TotalPartsCost:     d.TotalPartsCost,
		TotalLaborCost:     d.TotalLaborCost,
		InspectionForfait:  d.InspectionForfait,
		Subtotal:           d.Subtotal(),
		DiscountPercentage: d.DiscountPercentage,
		FinalAmount:        d.FinalAmount,
	}
}

func today(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Create prices a new draft from the stock check. Stock problems do not block
// creation; they are reported through the result.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	req.WagonID = strings.TrimSpace(req.WagonID)
	req.ClientCompany = strings.TrimSpace(req.ClientCompany)
	if req.WagonID == "" {
		return CreateResult{}, apperror.Validation("wagon_id is required")
	}
	if req.ClientCompany == "" {
		return CreateResult{}, apperror.Validation("client_company is required")
	}
	if req.InterventionHours.IsNegative() {
		return CreateResult{}, apperror.Validation("intervention_hours must not be negative")
	}
	if req.HourlyRate != nil && req.HourlyRate.IsNegative() {
		return CreateResult{}, apperror.Validation("hourly_rate must not be negative")
	}
	if req.InspectionForfait != nil && req.InspectionForfait.IsNegative() {
		return CreateResult{}, apperror.Validation("inspection_forfait must not be negative")
	}
	if req.DiscountPercentage != nil && !domain.ValidDiscount(*req.DiscountPercentage) {
		return CreateResult{}, apperror.Validation(domain.ErrInvalidDiscount.Error())
	}

	now := s.opts.Now().UTC()
	urgency := req.Urgency
	if urgency == "" {
		urgency = domain.UrgencyNormal
	}
	proposed, err := s.proposedDate(req.ProposedInterventionDate, urgency, now)
	if err != nil {
		return CreateResult{}, err
	}

	report, err := s.stock.Check(ctx, req.Parts)
	if err != nil {
		return CreateResult{}, fmt.Errorf("stock check: %w", err)
	}

	d := domain.Devis{
		InspectionID:             req.InspectionID,
		WagonID:                  req.WagonID,
		ClientCompany:            req.ClientCompany,
		InterventionHours:        req.InterventionHours,
		HourlyRate:               s.opts.Pricing.HourlyRate,
		InspectionForfait:        s.opts.Pricing.InspectionForfait,
		DiscountPercentage:       decimal.Zero,
		ProposedInterventionDate: proposed,
		Urgency:                  urgency,
		Status:                   domain.StatusDraft,
		Notes:                    req.Notes,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if req.HourlyRate != nil {
		d.HourlyRate = *req.HourlyRate
	}
	if req.InspectionForfait != nil {
		d.InspectionForfait = *req.InspectionForfait
	}
	if req.DiscountPercentage != nil {
		d.DiscountPercentage = *req.DiscountPercentage
	}
	for _, line := range report.Lines {
		if !line.FoundInCatalog {
			continue
		}
		d.Items = append(d.Items, domain.NewItem(line.Reference, line.Name, line.QuantityRequested, line.UnitPrice, line.Status == catalog.Available))
	}
	d.Recalculate()

	err = s.repo.Create(ctx, &d, func(stored domain.Devis) (events.Envelope, error) {
		return events.NewEnvelope(SourceService, generatedEvent(stored, !report.CanProceed), now), nil
	})
	if err != nil {
		return CreateResult{}, fmt.Errorf("create devis: %w", err)
	}
	s.count(domain.StatusDraft)
	s.log.Info("devis created", "devis_id", d.ID, "wagon_id", d.WagonID, "final_amount", d.FinalAmount.StringFixed(2), "can_validate", report.CanProceed)

	res := CreateResult{
		Devis:         d,
		StockCheck:    report,
		Pricing:       breakdown(d),
		CanValidate:   report.CanProceed,
		Modifications: report.Modifications,
	}
	if report.CanProceed {
		res.Message = "all parts are available; the devis can be validated"
	} else {
		res.Message = "the devis was created but needs changes before validation; see modifications_required"
	}
	return res, nil
}

func (s *Service) proposedDate(raw string, urgency domain.Urgency, now time.Time) (time.Time, error) {
	if raw != "" {
		t, err := time.Parse(events.DateLayout, raw)
		if err != nil {
			return time.Time{}, apperror.Validation("proposed_intervention_date must be YYYY-MM-DD")
		}
		return t, nil
	}
	if urgency == domain.UrgencyHigh {
		return today(now).AddDate(0, 0, 3), nil
	}
	return today(now).AddDate(0, 0, 7), nil
}

type PartPrice struct {
	Reference       string           `json:"reference" validate:"required"`
	NegotiatedPrice *decimal.Decimal `json:"negotiated_price" validate:"required"`
}

type NegotiateRequest struct {
	Parts               []PartPrice      `json:"parts" validate:"dive"`
	DiscountPercentage  *decimal.Decimal `json:"discount_percentage"`
	NewInterventionDate string           `json:"new_intervention_date"`
}

func (s *Service) Negotiate(ctx context.Context, id int64, req NegotiateRequest) (domain.Devis, error) {
	n := domain.Negotiation{PartPrices: make(map[string]decimal.Decimal, len(req.Parts)), Discount: req.DiscountPercentage}
	for _, p := range req.Parts {
		if p.NegotiatedPrice == nil {
			return domain.Devis{}, apperror.Validation("negotiated_price is required for " + p.Reference)
		}
		n.PartPrices[p.Reference] = *p.NegotiatedPrice
	}
	if req.NewInterventionDate != "" {
		t, err := time.Parse(events.DateLayout, req.NewInterventionDate)
		if err != nil {
			return domain.Devis{}, apperror.Validation("new_intervention_date must be YYYY-MM-DD")
		}
		n.InterventionDate = &t
	}

	d, err := s.repo.Transition(ctx, id, func(_ context.Context, d *domain.Devis, _ StockLedger) (*events.Envelope, error) {
		return nil, d.Negotiate(n, s.opts.Now().UTC())
	})
	if err != nil {
		return domain.Devis{}, s.mapErr(id, err)
	}
	s.count(domain.StatusNegotiating)
	s.log.Info("devis negotiated", "devis_id", id, "final_amount", d.FinalAmount.StringFixed(2), "discount", d.DiscountPercentage.String())
	return d, nil
}

// Validate reserves stock for every available item and marks the devis
// validated, together with its devis.validated event, in one transaction.
func (s *Service) Validate(ctx context.Context, id int64, confirmedBy, notes string) (domain.Devis, error) {
	confirmedBy = strings.TrimSpace(confirmedBy)
	if confirmedBy == "" {
		return domain.Devis{}, apperror.Validation("confirmed_by is required")
	}

	var reserved int
	d, err := s.repo.Transition(ctx, id, func(ctx context.Context, d *domain.Devis, stock StockLedger) (*events.Envelope, error) {
		// Guard before taking part locks.
		if d.Status.Terminal() {
			return nil, d.Validate(confirmedBy, notes, time.Time{})
		}

		refs := make([]string, 0, len(d.Items))
		for _, it := range d.Items {
			if it.StockAvailable {
				refs = append(refs, it.PartReference)
			}
		}
		levels, err := stock.Lock(ctx, refs)
		if err != nil {
			return nil, fmt.Errorf("lock parts: %w", err)
		}
		plan, err := d.PlanReservations(levels, s.opts.PartialReservation)
		if err != nil {
			return nil, err
		}
		for _, r := range plan {
			if err := stock.Reserve(ctx, d.ID, r); err != nil {
				return nil, fmt.Errorf("reserve %s: %w", r.PartReference, err)
			}
		}
		reserved = len(plan)

		now := s.opts.Now().UTC()
		if err := d.Validate(confirmedBy, notes, now); err != nil {
			return nil, err
		}
		env := events.NewEnvelope(SourceService, validatedEvent(*d), now)
		return &env, nil
	})
	if err != nil {
		return domain.Devis{}, s.mapErr(id, err)
	}
	s.count(domain.StatusValidated)
	s.log.Info("devis validated", "devis_id", id, "confirmed_by", confirmedBy, "reservations", reserved, "final_amount", d.FinalAmount.StringFixed(2))
	return d, nil
}

func (s *Service) Reject(ctx context.Context, id int64, reason string) (domain.Devis, error) {
	d, err := s.repo.Transition(ctx, id, func(_ context.Context, d *domain.Devis, _ StockLedger) (*events.Envelope, error) {
		now := s.opts.Now().UTC()
		if err := d.Reject(reason, now); err != nil {
			return nil, err
		}
		env := events.NewEnvelope(SourceService, events.DevisRejected{
			DevisID:       d.ID,
			WagonID:       d.WagonID,
			ClientCompany: d.ClientCompany,
			Reason:        reason,
			Status:        events.StatusRejected,
			RejectedAt:    now,
		}, now)
		return &env, nil
	})
	if err != nil {
		return domain.Devis{}, s.mapErr(id, err)
	}
	s.count(domain.StatusRejected)
	s.log.Info("devis rejected", "devis_id", id, "reason", reason)
	return d, nil
}

func (s *Service) Get(ctx context.Context, id int64) (domain.Devis, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Devis{}, s.mapErr(id, err)
	}
	return d, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]domain.Devis, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	list, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list devis: %w", err)
	}
	return list, nil
}

// HandleInspectionCompleted drafts a devis from the parts and hours found
// during inspection. An inspection that already has a devis is ignored.
func (s *Service) HandleInspectionCompleted(ctx context.Context, ev events.InspectionCompleted) error {
	exists, err := s.repo.ExistsForInspection(ctx, ev.InspectionID)
	if err != nil {
		return fmt.Errorf("lookup inspection %d: %w", ev.InspectionID, err)
	}
	if exists {
		s.log.Info("devis already drafted for inspection", "inspection_id", ev.InspectionID)
		return nil
	}

	inspectionID := ev.InspectionID
	req := CreateRequest{
		InspectionID:      &inspectionID,
		WagonID:           ev.WagonID,
		ClientCompany:     ev.ClientCompany,
		InterventionHours: ev.EstimatedRepairHours,
		Notes:             ev.Findings,
	}
	for _, p := range ev.PartsNeeded {
		req.Parts = append(req.Parts, catalog.Request{Reference: p.Reference, Quantity: p.Quantity})
	}
	_, err = s.Create(ctx, req)
	return err
}

func (s *Service) mapErr(id int64, err error) error {
	var te *domain.TransitionError
	var se *domain.ShortageError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return apperror.NotFound("devis", strconv.FormatInt(id, 10))
	case errors.As(err, &te):
		return apperror.InvalidTransition(te.Error(), string(te.Current)).Wrap(err)
	case errors.As(err, &se):
		return apperror.StockConflict(se.Error()).WithDetail("parts", strings.Join(se.References, ",")).Wrap(err)
	case errors.Is(err, catalog.ErrInsufficientStock):
		return apperror.StockConflict(err.Error()).Wrap(err)
	case errors.Is(err, domain.ErrUnknownItem), errors.Is(err, domain.ErrInvalidDiscount), errors.Is(err, domain.ErrInvalidPrice):
		return apperror.Validation(err.Error()).Wrap(err)
	}
	return err
}

func (s *Service) count(st domain.Status) {
	if s.opts.Transitions != nil {
		s.opts.Transitions.WithLabelValues(string(st)).Inc()
	}
}

func generatedEvent(d domain.Devis, stockIssues bool) events.DevisGenerated {
	return events.DevisGenerated{
		DevisID:                  d.ID,
		InspectionID:             d.InspectionID,
		WagonID:                  d.WagonID,
		ClientCompany:            d.ClientCompany,
		FinalAmount:              d.FinalAmount,
		ProposedInterventionDate: d.ProposedInterventionDate.Format(events.DateLayout),
		HasStockIssues:           stockIssues,
		Status:                   events.StatusDraft,
		CreatedAt:                d.CreatedAt,
	}
}

func validatedEvent(d domain.Devis) events.DevisValidated {
	ev := events.DevisValidated{
		DevisID:          d.ID,
		InspectionID:     d.InspectionID,
		WagonID:          d.WagonID,
		ClientCompany:    d.ClientCompany,
		FinalAmount:      d.FinalAmount,
		InterventionDate: d.ProposedInterventionDate.Format(events.DateLayout),
		ConfirmedBy:      d.ConfirmedBy,
		Parts:            make([]events.ValidatedPart, 0, len(d.Items)),
		Status:           events.StatusValidated,
	}
	if d.ValidatedAt != nil {
		ev.ValidatedAt = *d.ValidatedAt
	}
	for _, it := range d.Items {
		ev.Parts = append(ev.Parts, events.ValidatedPart{
			Reference: it.PartReference,
			Name:      it.PartName,
			Quantity:  it.Quantity,
			UnitPrice: it.NegotiatedPrice,
			Total:     it.LineTotal,
		})
	}
	return ev
}
