package events

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Event is implemented only by the payload types of this package.
type Event interface {
	Kind() Kind
	AggregateID() string
	sealed()
}

const (
	StatusRequested = "requested"
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusDraft     = "draft"
	StatusValidated = "validated"
	StatusRejected  = "rejected"
)

// Dates without a time of day travel as YYYY-MM-DD.
const DateLayout = "2006-01-02"

type InspectionRequested struct {
	InspectionID     int64  `json:"inspection_id"`
	WagonID          string `json:"wagon_id"`
	ClientCompany    string `json:"client_company"`
	IssueDescription string `json:"issue_description"`
	Urgency          string `json:"urgency"`
	RequestedDate    string `json:"requested_date"`
	Status           string `json:"status"`
}

type InspectionScheduled struct {
	InspectionID   int64     `json:"inspection_id"`
	WagonID        string    `json:"wagon_id"`
	ClientCompany  string    `json:"client_company"`
	ScheduledDate  time.Time `json:"scheduled_date"`
	Location       string    `json:"location"`
	TechnicianID   string    `json:"technician_id"`
	TechnicianName string    `json:"technician_name"`
	Status         string    `json:"status"`
}

type PartNeed struct {
	Reference string `json:"reference"`
	Quantity  int    `json:"quantity"`
}

type InspectionCompleted struct {
	InspectionID         int64           `json:"inspection_id"`
	WagonID              string          `json:"wagon_id"`
	ClientCompany        string          `json:"client_company"`
	Findings             string          `json:"findings"`
	PartsNeeded          []PartNeed      `json:"parts_needed"`
	EstimatedRepairHours decimal.Decimal `json:"estimated_repair_hours"`
	Status               string          `json:"status"`
	CompletedAt          time.Time       `json:"completed_at"`
}

type DevisGenerated struct {
	DevisID                  int64           `json:"devis_id"`
	InspectionID             *int64          `json:"inspection_id"`
	WagonID                  string          `json:"wagon_id"`
	ClientCompany            string          `json:"client_company"`
	FinalAmount              decimal.Decimal `json:"final_amount"`
	ProposedInterventionDate string          `json:"proposed_intervention_date"`
	HasStockIssues           bool            `json:"has_stock_issues"`
	Status                   string          `json:"status"`
	CreatedAt                time.Time       `json:"created_at"`
}

type ValidatedPart struct {
	Reference string          `json:"reference"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
}

type DevisValidated struct {
	DevisID          int64           `json:"devis_id"`
	InspectionID     *int64          `json:"inspection_id"`
	WagonID          string          `json:"wagon_id"`
	ClientCompany    string          `json:"client_company"`
	FinalAmount      decimal.Decimal `json:"final_amount"`
	InterventionDate string          `json:"intervention_date"`
	ConfirmedBy      string          `json:"confirmed_by"`
	Parts            []ValidatedPart `json:"parts"`
	Status           string          `json:"status"`
	ValidatedAt      time.Time       `json:"validated_at"`
}

type DevisRejected struct {
	DevisID       int64     `json:"devis_id"`
	WagonID       string    `json:"wagon_id"`
	ClientCompany string    `json:"client_company"`
	Reason        string    `json:"reason"`
	Status        string    `json:"status"`
	RejectedAt    time.Time `json:"rejected_at"`
}

func (InspectionRequested) Kind() Kind { return KindInspectionRequested }
func (InspectionScheduled) Kind() Kind { return KindInspectionScheduled }
func (InspectionCompleted) Kind() Kind { return KindInspectionCompleted }
func (DevisGenerated) Kind() Kind      { return KindDevisGenerated }
func (DevisValidated) Kind() Kind      { return KindDevisValidated }
func (DevisRejected) Kind() Kind       { return KindDevisRejected }

func (e InspectionRequested) AggregateID() string { return id(e.InspectionID) }
func (e InspectionScheduled) AggregateID() string { return id(e.InspectionID) }
func (e InspectionCompleted) AggregateID() string { return id(e.InspectionID) }
func (e DevisGenerated) AggregateID() string      { return id(e.DevisID) }
func (e DevisValidated) AggregateID() string      { return id(e.DevisID) }
func (e DevisRejected) AggregateID() string       { return id(e.DevisID) }

func (InspectionRequested) sealed() {}
func (InspectionScheduled) sealed() {}
func (InspectionCompleted) sealed() {}
func (DevisGenerated) sealed()      {}
func (DevisValidated) sealed()      {}
func (DevisRejected) sealed()       {}

func id(n int64) string { return strconv.FormatInt(n, 10) }
