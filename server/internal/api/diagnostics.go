package api

import (
	"fmt"
	"sort"

	"github.com/adlens/adlens/pkg/types"
)

// DiagnosticHint is one human-readable insight about a job's last run.
// A dashboard shows these as chips on the job card; Detail explains the
// problem and what to do about it.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier (used for dedup/ordering).
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label shown on the chip.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from a result, ordered critical first,
// then warnings, then info.
func computeDiagnostics(res *types.Result) []DiagnosticHint {
	if res.ErrorMessage != "" {
		return []DiagnosticHint{{
			Key:   "run_failed",
			Level: "critical",
			Title: "Run failed",
			Detail: fmt.Sprintf(
				"The job did not finish: %q. Nothing was analysed and no changes were made. "+
					"Check that the report source is reachable and the job's fields exist in the report.",
				res.ErrorMessage),
		}}
	}

	var hints []DiagnosticHint
	add := func(h DiagnosticHint) { hints = append(hints, h) }

	if res.RowsRead == 0 && res.Kind != "holiday" {
		add(DiagnosticHint{
			Key:   "no_rows",
			Level: "warning",
			Title: "Empty report",
			Detail: "The report returned no rows. Check the DURING range and the job filter; " +
				"a paused account or a too narrow filter both look like this.",
		})
	}

	if total := res.RowsRead + res.RowsSkipped; res.RowsSkipped > 0 && total > 0 {
		pct := float64(res.RowsSkipped) / float64(total) * 100
		level := "info"
		if pct >= 10 {
			level = "warning"
		}
		add(DiagnosticHint{
			Key:   "rows_skipped",
			Level: level,
			Title: fmt.Sprintf("%.0f%% rows unreadable", pct),
			Detail: fmt.Sprintf("%d of %d report rows could not be parsed and were left out of the analysis. "+
				"Totals rows and locale-formatted numbers are the usual cause.", res.RowsSkipped, total),
			Value: &pct,
		})
	}

	pending, applied := 0, 0
	for _, c := range res.Changes {
		if c.Applied {
			applied++
		} else {
			pending++
		}
	}
	for _, f := range res.Findings {
		if f.Rule == "mutation_failed" {
			add(DiagnosticHint{
				Key:    "apply_failed",
				Level:  "critical",
				Title:  "Changes not applied",
				Detail: "The mutation endpoint rejected the batch: " + f.Message,
			})
			break
		}
	}
	if applied > 0 {
		v := float64(applied)
		add(DiagnosticHint{
			Key:    "changes_applied",
			Level:  "info",
			Title:  fmt.Sprintf("%d changes applied", applied),
			Detail: "The job changed live entities in this run. The change list shows each old and new value.",
			Value:  &v,
		})
	}
	if pending > 0 {
		v := float64(pending)
		add(DiagnosticHint{
			Key:   "changes_pending",
			Level: "info",
			Title: fmt.Sprintf("%d changes proposed", pending),
			Detail: "The job proposed changes but did not apply them. " +
				"Review them and set apply: true on the job to let it act.",
			Value: &v,
		})
	}

	if pct, ok := res.Summary["success_pct"]; ok && pct < 100 {
		add(DiagnosticHint{
			Key:    "flaky",
			Level:  "warning",
			Title:  "Recent runs failed",
			Detail: fmt.Sprintf("Only %.0f%% of the recent runs of this job succeeded.", pct),
			Value:  &pct,
		})
	}
	if d, ok := res.Summary["findings_delta"]; ok && d > 0 {
		add(DiagnosticHint{
			Key:    "findings_rising",
			Level:  "warning",
			Title:  "More findings than last run",
			Detail: fmt.Sprintf("This run produced %.0f more findings than the previous one.", d),
			Value:  &d,
		})
	}

	hints = append(hints, kindHints(res)...)

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "All good",
			Detail: "The job ran cleanly and found nothing that needs attention.",
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}

// kindHints returns tips specific to the job kind, keyed off its findings.
func kindHints(res *types.Result) []DiagnosticHint {
	var hints []DiagnosticHint
	for _, rule := range distinctRules(res.Findings) {
		switch {
		case res.Kind == "abtest" && rule == "insufficient_data":
			hints = append(hints, DiagnosticHint{
				Key:   "abtest_wait_tip",
				Level: "info",
				Title: "Test needs more traffic",
				Detail: "One of the groups has too few impressions for a confident answer. " +
					"Let the test run longer before acting on the lift.",
			})
		case res.Kind == "budget" && rule == "projected_overspend":
			hints = append(hints, DiagnosticHint{
				Key:   "budget_pacing_tip",
				Level: "info",
				Title: "Pacing ahead of budget",
				Detail: "At the current run rate the period budget will be exceeded. " +
					"Lower bids or daily budgets on the flagged campaigns.",
			})
		case res.Kind == "position_bid" && rule == "bid_at_max":
			hints = append(hints, DiagnosticHint{
				Key:   "bid_ceiling_tip",
				Level: "info",
				Title: "Bids hit the ceiling",
				Detail: "Some keywords reached max_bid and still miss the target position. " +
					"Raise max_bid or accept the lower position.",
			})
		}
	}
	return hints
}

func distinctRules(findings []types.Finding) []string {
	seen := make(map[string]bool, len(findings))
	var out []string
	for _, f := range findings {
		if !seen[f.Rule] {
			seen[f.Rule] = true
			out = append(out, f.Rule)
		}
	}
	return out
}
