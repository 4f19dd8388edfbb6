// Package budget compares campaign spend against daily or monthly budgets
// and projects the spend at the end of the period from the pace so far.
package budget

import (
	"fmt"
	"sort"
	"time"

	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/agent/internal/report"
	"github.com/adlens/adlens/pkg/types"
)

// minElapsed keeps projections finite in the first minute of a period.
const minElapsed = 1.0 / (24 * 60)

// Pace is the budget position of one campaign.
type Pace struct {
	CampaignID string  `json:"campaign_id,omitempty"`
	Campaign   string  `json:"campaign"`
	Spend      float64 `json:"spend"`
	Budget     float64 `json:"budget"`
	Projected  float64 `json:"projected"`
	Pacing     float64 `json:"pacing"`
}

// Elapsed returns the fraction of the period containing now that has
// passed, in now's location.
func Elapsed(period string, now time.Time) float64 {
	var start, end time.Time
	y, m, d := now.Date()
	if period == "monthly" {
		start = time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 1, 0)
	} else {
		start = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 0, 1)
	}
	f := float64(now.Sub(start)) / float64(end.Sub(start))
	if f < minElapsed {
		return minElapsed
	}
	return f
}

// daysInMonth returns the length of t's month.
func daysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// Analyze sums spend per campaign and projects it to the end of the period.
// Report budgets are daily; for a monthly period they are multiplied by the
// days of the month. opts.Budgets overrides the period budget by campaign
// name. Campaigns without any budget are not paced and are counted in
// unbudgeted.
func Analyze(rows []report.Row, opts config.BudgetOptions, now time.Time) (paces []Pace, unbudgeted int) {
	type agg struct {
		id, name string
		spend    float64
		daily    float64
	}
	byKey := make(map[string]*agg)
	for _, r := range rows {
		k := report.EntityCampaign.Key(r)
		a, ok := byKey[k]
		if !ok {
			a = &agg{id: r.CampaignID, name: r.CampaignName}
			byKey[k] = a
		}
		a.spend += r.Cost
		if r.Budget > a.daily {
			a.daily = r.Budget
		}
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	elapsed := Elapsed(opts.Period, now)
	for _, k := range keys {
		a := byKey[k]
		budget := a.daily
		if opts.Period == "monthly" {
			budget *= float64(daysInMonth(now))
		}
		if b, ok := opts.Budgets[a.name]; ok {
			budget = b
		}
		if budget <= 0 {
			unbudgeted++
			continue
		}
		projected := a.spend / elapsed
		paces = append(paces, Pace{
			CampaignID: a.id,
			Campaign:   a.name,
			Spend:      a.spend,
			Budget:     budget,
			Projected:  projected,
			Pacing:     projected / budget,
		})
	}
	return paces, unbudgeted
}

// Findings classifies each pace: spend at or over budget is critical, a
// projection above 1+tolerance of budget is a warning and one below
// 1-tolerance is reported as underdelivery.
func Findings(paces []Pace, tolerance float64) []types.Finding {
	var out []types.Finding
	for _, p := range paces {
		switch {
		case p.Spend >= p.Budget:
			out = append(out, types.Finding{
				Severity: types.SeverityCritical,
				Entity:   p.Campaign,
				Rule:     "overspend",
				Message:  fmt.Sprintf("spent %.2f of %.2f budget", p.Spend, p.Budget),
				Value:    p.Spend,
			})
		case p.Pacing > 1+tolerance:
			out = append(out, types.Finding{
				Severity: types.SeverityWarning,
				Entity:   p.Campaign,
				Rule:     "projected_overspend",
				Message:  fmt.Sprintf("projected %.2f against %.2f budget (%.0f%%)", p.Projected, p.Budget, p.Pacing*100),
				Value:    p.Pacing,
			})
		case p.Pacing < 1-tolerance:
			out = append(out, types.Finding{
				Severity: types.SeverityInfo,
				Entity:   p.Campaign,
				Rule:     "underdelivery",
				Message:  fmt.Sprintf("projected %.2f against %.2f budget (%.0f%%)", p.Projected, p.Budget, p.Pacing*100),
				Value:    p.Pacing,
			})
		}
	}
	return out
}

// Summary totals paces into the result summary.
func Summary(paces []Pace, period string, now time.Time) map[string]float64 {
	sum := map[string]float64{
		"campaigns":   float64(len(paces)),
		"elapsed_pct": Elapsed(period, now) * 100,
	}
	for _, p := range paces {
		sum["total_spend"] += p.Spend
		sum["total_budget"] += p.Budget
		sum["projected_spend"] += p.Projected
	}
	if sum["total_budget"] > 0 {
		sum["pacing_pct"] = sum["projected_spend"] / sum["total_budget"] * 100
	}
	return sum
}

// MonthTotal is the cost of one calendar month.
type MonthTotal struct {
	Month string  `json:"month"` // yyyy-mm
	Cost  float64 `json:"cost"`
}

// MonthlyCost totals cost by calendar month of the row date, oldest first.
// Rows without a date are ignored.
func MonthlyCost(rows []report.Row) []MonthTotal {
	totals := make(map[string]float64)
	for _, r := range rows {
		if r.Date.IsZero() {
			continue
		}
		totals[r.Date.Format("2006-01")] += r.Cost
	}
	out := make([]MonthTotal, 0, len(totals))
	for m, c := range totals {
		out = append(out, MonthTotal{Month: m, Cost: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}
