package domain

import "github.com/med-el-mrabet/InterConnect/internal/events"

type Template struct {
	Action   string `json:"action"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
}

type templateKey struct {
	kind   events.Kind
	target Target
}

// WagonLits owns the wagons; DevMateriels performs the repair.
var templates = map[templateKey]Template{
	{events.KindInspectionRequested, TargetWagl}:  {Action: "TRACK_REQUEST", Title: "Inspection requested", Priority: "normal"},
	{events.KindInspectionRequested, TargetDemat}: {Action: "PLAN_INSPECTION", Title: "New inspection request", Priority: "high"},
	{events.KindInspectionScheduled, TargetWagl}:  {Action: "CONFIRM_AVAILABILITY", Title: "Inspection scheduled", Priority: "normal"},
	{events.KindInspectionScheduled, TargetDemat}: {Action: "ASSIGN_TECHNICIAN", Title: "Inspection slot booked", Priority: "normal"},
	{events.KindInspectionCompleted, TargetWagl}:  {Action: "REVIEW_FINDINGS", Title: "Inspection completed", Priority: "normal"},
	{events.KindInspectionCompleted, TargetDemat}: {Action: "PREPARE_QUOTE", Title: "Inspection report available", Priority: "high"},
	{events.KindDevisGenerated, TargetWagl}:       {Action: "REVIEW_QUOTE", Title: "Quote available", Priority: "high"},
	{events.KindDevisGenerated, TargetDemat}:      {Action: "TRACK_QUOTE", Title: "Quote issued", Priority: "normal"},
	{events.KindDevisValidated, TargetWagl}:       {Action: "RECORD_ORDER", Title: "Quote validated", Priority: "high"},
	{events.KindDevisValidated, TargetDemat}:      {Action: "SCHEDULE_REPAIR", Title: "Repair order confirmed", Priority: "high"},
	{events.KindDevisRejected, TargetWagl}:        {Action: "ARCHIVE_QUOTE", Title: "Quote rejected", Priority: "normal"},
	{events.KindDevisRejected, TargetDemat}:       {Action: "RELEASE_PLANNING", Title: "Quote declined by client", Priority: "normal"},
}

// TemplateFor returns the fixed template of (kind, target); unknown pairs get
// a generic informational template.
func TemplateFor(kind events.Kind, target Target) Template {
	if t, ok := templates[templateKey{kind, target}]; ok {
		return t
	}
	return Template{Action: "INFO", Title: string(kind), Priority: "low"}
}
