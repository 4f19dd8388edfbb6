package types

import "time"

// Result states.
const (
	StateOK       = "ok"
	StateWarning  = "warning"
	StateCritical = "critical"
	StateUnknown  = "unknown"
)

// Finding severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Result is the outcome of one job run.
type Result struct {
	JobID     string    `json:"job_id"`
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state"`

	// Summary holds the job's headline numbers, e.g. "confidence_ctr" for
	// an A/B test or "projected_spend" for budget monitoring.
	Summary  map[string]float64 `json:"summary,omitempty"`
	Findings []Finding          `json:"findings,omitempty"`
	Changes  []Change           `json:"changes,omitempty"`

	RowsRead     int    `json:"rows_read"`
	RowsSkipped  int    `json:"rows_skipped"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Finding is one observation worth a human's attention.
type Finding struct {
	Severity string  `json:"severity"`
	Entity   string  `json:"entity"`
	Rule     string  `json:"rule"`
	Message  string  `json:"message"`
	Value    float64 `json:"value,omitempty"`
}

// Change is a proposed or applied mutation to an ad entity. ParentID holds
// the ad group of a keyword, whose criterion ID is only unique within it.
type Change struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id,omitempty"`
	ParentID   string `json:"parent_id,omitempty"`
	Entity     string `json:"entity"`
	Field      string `json:"field"`
	Old        string `json:"old,omitempty"`
	New        string `json:"new"`
	Applied    bool   `json:"applied"`
}

// CountBySeverity returns how many findings carry the given severity.
func (r *Result) CountBySeverity(sev string) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == sev {
			n++
		}
	}
	return n
}
