// Package events defines the closed set of integration events exchanged
// between the inspection workflow, the devis service and the ERPs.
package events

type Kind string

const (
	KindInspectionRequested Kind = "inspection.requested"
	KindInspectionScheduled Kind = "inspection.scheduled"
	KindInspectionCompleted Kind = "inspection.completed"
	KindDevisGenerated      Kind = "devis.generated"
	KindDevisValidated      Kind = "devis.validated"
	KindDevisRejected       Kind = "devis.rejected"
)

var kinds = []Kind{
	KindInspectionRequested,
	KindInspectionScheduled,
	KindInspectionCompleted,
	KindDevisGenerated,
	KindDevisValidated,
	KindDevisRejected,
}

// Kinds returns every event kind; each one is also a queue topic.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

func Topics() []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) String() string { return string(k) }
