package api

import (
	"testing"

	"github.com/adlens/adlens/pkg/types"
)

func keys(hints []DiagnosticHint) []string {
	out := make([]string, len(hints))
	for i, h := range hints {
		out[i] = h.Key
	}
	return out
}

func hasKey(hints []DiagnosticHint, key string) bool {
	for _, h := range hints {
		if h.Key == key {
			return true
		}
	}
	return false
}

func TestDiagnostics_RunFailedShortCircuits(t *testing.T) {
	hints := computeDiagnostics(&types.Result{Kind: "budget", ErrorMessage: "read report: no such file", RowsSkipped: 3})
	if len(hints) != 1 || hints[0].Key != "run_failed" || hints[0].Level != "critical" {
		t.Errorf("hints: %v", keys(hints))
	}
}

func TestDiagnostics_Healthy(t *testing.T) {
	hints := computeDiagnostics(&types.Result{Kind: "budget", RowsRead: 10, Summary: map[string]float64{"success_pct": 100}})
	if len(hints) != 1 || hints[0].Key != "healthy" {
		t.Errorf("hints: %v", keys(hints))
	}
}

func TestDiagnostics_EmptyReport(t *testing.T) {
	if !hasKey(computeDiagnostics(&types.Result{Kind: "ngram"}), "no_rows") {
		t.Error("expected no_rows for an empty report")
	}
	if hasKey(computeDiagnostics(&types.Result{Kind: "holiday"}), "no_rows") {
		t.Error("holiday jobs read no report and must not warn")
	}
}

func TestDiagnostics_SkippedRows(t *testing.T) {
	tests := []struct {
		read, skipped int
		level         string
	}{
		{99, 1, "info"},
		{80, 20, "warning"},
	}
	for _, tt := range tests {
		hints := computeDiagnostics(&types.Result{Kind: "budget", RowsRead: tt.read, RowsSkipped: tt.skipped})
		var found *DiagnosticHint
		for i := range hints {
			if hints[i].Key == "rows_skipped" {
				found = &hints[i]
			}
		}
		if found == nil || found.Level != tt.level {
			t.Errorf("read %d skipped %d: hints %v", tt.read, tt.skipped, keys(hints))
		}
	}
}

func TestDiagnostics_ChangesAndOrdering(t *testing.T) {
	res := &types.Result{
		Kind:     "position_bid",
		RowsRead: 5,
		Summary:  map[string]float64{"success_pct": 50, "findings_delta": 2},
		Findings: []types.Finding{
			{Severity: types.SeverityCritical, Rule: "mutation_failed", Message: "HTTP 500"},
			{Severity: types.SeverityWarning, Rule: "bid_at_max"},
		},
		Changes: []types.Change{{Applied: true}, {Applied: false}, {Applied: false}},
	}
	hints := computeDiagnostics(res)
	for _, k := range []string{"apply_failed", "changes_applied", "changes_pending", "flaky", "findings_rising", "bid_ceiling_tip"} {
		if !hasKey(hints, k) {
			t.Errorf("missing %q in %v", k, keys(hints))
		}
	}
	if hints[0].Key != "apply_failed" {
		t.Errorf("critical hint must come first: %v", keys(hints))
	}
	for i := 1; i < len(hints); i++ {
		if levelRank[hints[i-1].Level] > levelRank[hints[i].Level] {
			t.Errorf("hints out of order: %v", keys(hints))
		}
	}
}
