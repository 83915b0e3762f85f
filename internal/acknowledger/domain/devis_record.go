package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/med-el-mrabet/InterConnect/internal/events"
)

// DevisRecord is a target's local copy of a devis, keyed by (DevisID, Target).
// It is built from the devis.* callbacks and only moves forward: a late
// devis.generated never overwrites a validated or rejected record.
type DevisRecord struct {
	ID               int64               `json:"id"`
	DevisID          int64               `json:"devis_id"`
	Target           string              `json:"target"`
	WagonID          string              `json:"wagon_id"`
	ClientCompany    string              `json:"client_company"`
	FinalAmount      decimal.NullDecimal `json:"final_amount"`
	InterventionDate string              `json:"intervention_date,omitempty"`
	Status           string              `json:"status"`
	Reason           string              `json:"reason,omitempty"`
	Stage            int                 `json:"-"`
	LastEventID      string              `json:"last_event_id"`
	LastEventType    string              `json:"last_event_type"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

const (
	stageGenerated = 1
	stageDecided   = 2
)

type callbackDocument struct {
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
}

// DevisRecordFrom extracts the devis record carried by a callback. ok is false
// for callbacks that are not about a devis.
func DevisRecordFrom(a Acknowledgement) (rec DevisRecord, ok bool, err error) {
	var doc callbackDocument
	if err := json.Unmarshal(a.Payload, &doc); err != nil {
		return DevisRecord{}, false, fmt.Errorf("decode callback: %w", err)
	}
	rec = DevisRecord{Target: a.Target, LastEventID: a.EventID, LastEventType: a.EventType, UpdatedAt: a.LastReceivedAt}

	switch events.Kind(a.EventType) {
	case events.KindDevisGenerated:
		var ev events.DevisGenerated
		if err := json.Unmarshal(doc.EventData, &ev); err != nil {
			return DevisRecord{}, false, fmt.Errorf("decode %s: %w", a.EventType, err)
		}
		rec.DevisID, rec.WagonID, rec.ClientCompany = ev.DevisID, ev.WagonID, ev.ClientCompany
		rec.FinalAmount = decimal.NewNullDecimal(ev.FinalAmount)
		rec.InterventionDate = ev.ProposedInterventionDate
		rec.Status = statusOr(ev.Status, "received")
		rec.Stage = stageGenerated
	case events.KindDevisValidated:
		var ev events.DevisValidated
		if err := json.Unmarshal(doc.EventData, &ev); err != nil {
			return DevisRecord{}, false, fmt.Errorf("decode %s: %w", a.EventType, err)
		}
		rec.DevisID, rec.WagonID, rec.ClientCompany = ev.DevisID, ev.WagonID, ev.ClientCompany
		rec.FinalAmount = decimal.NewNullDecimal(ev.FinalAmount)
		rec.InterventionDate = ev.InterventionDate
		rec.Status = statusOr(ev.Status, "validated")
		rec.Stage = stageDecided
	case events.KindDevisRejected:
		var ev events.DevisRejected
		if err := json.Unmarshal(doc.EventData, &ev); err != nil {
			return DevisRecord{}, false, fmt.Errorf("decode %s: %w", a.EventType, err)
		}
		rec.DevisID, rec.WagonID, rec.ClientCompany = ev.DevisID, ev.WagonID, ev.ClientCompany
		rec.Reason = ev.Reason
		rec.Status = statusOr(ev.Status, "rejected")
		rec.Stage = stageDecided
	default:
		return DevisRecord{}, false, nil
	}
	if rec.DevisID <= 0 {
		return DevisRecord{}, false, fmt.Errorf("%s callback without devis_id", a.EventType)
	}
	return rec, true, nil
}

func statusOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
