package compute

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/adlens/adlens/agent/internal/adcopy"
	"github.com/adlens/adlens/agent/internal/bidding"
	"github.com/adlens/adlens/agent/internal/budget"
	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/agent/internal/heatmap"
	"github.com/adlens/adlens/agent/internal/holiday"
	"github.com/adlens/adlens/agent/internal/labels"
	"github.com/adlens/adlens/agent/internal/memo"
	"github.com/adlens/adlens/agent/internal/ngram"
	"github.com/adlens/adlens/agent/internal/report"
	"github.com/adlens/adlens/agent/internal/stats"
	"github.com/adlens/adlens/pkg/types"
)

func counts(rows []report.Row) stats.Counts {
	var c stats.Counts
	for _, r := range rows {
		c.Add(stats.Counts{
			Impressions: float64(r.Impressions),
			Clicks:      float64(r.Clicks),
			Conversions: r.Conversions,
			Cost:        r.Cost,
		})
	}
	return c
}

// runABTest compares the control and experiment groups selected by their
// filters. A significant difference is reported as info when the
// experiment wins and as a warning when it loses.
func runABTest(rows []report.Row, opts config.ABTestOptions) outcome {
	control := report.NewFilter(opts.Control).Apply(rows)
	experiment := report.NewFilter(opts.Experiment).Apply(rows)
	cc, ec := counts(control), counts(experiment)

	o := outcome{summary: map[string]float64{
		"control_rows":           float64(len(control)),
		"experiment_rows":        float64(len(experiment)),
		"control_impressions":    cc.Impressions,
		"experiment_impressions": ec.Impressions,
		"control_clicks":         cc.Clicks,
		"experiment_clicks":      ec.Clicks,
		"control_conversions":    cc.Conversions,
		"experiment_conversions": ec.Conversions,
	}}
	if len(control) == 0 || len(experiment) == 0 {
		o.findings = append(o.findings, types.Finding{
			Severity: types.SeverityWarning,
			Entity:   "abtest",
			Rule:     "empty_group",
			Message:  fmt.Sprintf("control matched %d rows, experiment %d", len(control), len(experiment)),
		})
		return o
	}

	for _, mt := range stats.Compare(cc, ec, opts.Threshold) {
		if mt.Err != nil {
			o.findings = append(o.findings, types.Finding{
				Severity: types.SeverityInfo,
				Entity:   mt.Metric,
				Rule:     "insufficient_data",
				Message:  fmt.Sprintf("%s: %v", mt.Metric, mt.Err),
			})
			continue
		}
		o.summary["confidence_"+mt.Metric] = mt.Confidence
		o.summary["lift_"+mt.Metric] = mt.Lift
		o.summary["z_"+mt.Metric] = mt.Z
		if !mt.Significant {
			continue
		}
		f := types.Finding{
			Severity: types.SeverityInfo,
			Entity:   mt.Metric,
			Rule:     "experiment_wins",
			Message:  fmt.Sprintf("%s %.4f vs %.4f (lift %+.1f%%) at %.1f%% confidence", mt.Metric, mt.R2, mt.R1, mt.Lift, mt.Confidence),
			Value:    mt.Confidence,
		}
		if mt.R2 < mt.R1 {
			f.Severity = types.SeverityWarning
			f.Rule = "experiment_loses"
		}
		o.findings = append(o.findings, f)
	}
	return o
}

// runNGram mines search query n-grams. Besides the rule findings, the top
// grams by opts.SortBy are listed as info findings.
func runNGram(rows []report.Row, opts config.NGramOptions) outcome {
	m := ngram.NewMiner(opts)
	for _, r := range rows {
		m.Add(r)
	}
	grams := m.Grams()
	o := outcome{
		summary:  ngram.Summary(m, grams),
		findings: ngram.Findings(grams, opts.CostThreshold, opts.TargetCPA),
	}
	for _, g := range ngram.Top(grams, opts.Top, opts.SortBy) {
		entity := g.Text
		if g.Campaign != "" {
			entity = g.Campaign + " > " + g.Text
		}
		o.findings = append(o.findings, types.Finding{
			Severity: types.SeverityInfo,
			Entity:   entity,
			Rule:     "top_gram",
			Message: fmt.Sprintf("imp %d clicks %d cost %.2f conv %.2f ctr %.2f%%",
				g.Impressions, g.Clicks, g.Cost, g.Conversions, g.CTR()*100),
			Value: g.Cost,
		})
	}
	return o
}

func runHeatmap(rows []report.Row, opts config.HeatmapOptions) (outcome, error) {
	campaigns, skipped, err := heatmap.Analyze(rows, opts)
	if err != nil {
		return outcome{}, fmt.Errorf("compute: heatmap: %w", err)
	}
	o := outcome{summary: map[string]float64{"campaigns": float64(len(campaigns))}, skipped: skipped}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range campaigns {
		if c.Grid.Sum() == 0 {
			o.findings = append(o.findings, types.Finding{
				Severity: types.SeverityInfo,
				Entity:   c.Name,
				Rule:     "no_data",
				Message:  fmt.Sprintf("no %s recorded; schedule left flat", opts.Metric),
			})
		}
		for _, w := range c.Windows {
			lo = math.Min(lo, w.Modifier)
			hi = math.Max(hi, w.Modifier)
		}
		o.changes = append(o.changes, heatmap.Changes(c)...)
	}
	o.summary["windows"] = float64(len(o.changes))
	if len(o.changes) > 0 {
		o.summary["min_modifier"] = lo
		o.summary["max_modifier"] = hi
	}
	return o, nil
}

// runPositionBid loads the job's memo for today, plans bid changes and
// saves the new memo for the job's next run.
func (e *Engine) runPositionBid(ctx context.Context, jobID string, rows []report.Row, opts config.PositionBidOptions, now time.Time) (outcome, error) {
	if e.opts.Memo == nil {
		return outcome{}, errors.New("compute: position bidding needs a memo store")
	}
	prev, err := e.opts.Memo.Load(ctx, jobID, now)
	if errors.Is(err, memo.ErrNotFound) {
		prev = nil
	} else if err != nil {
		return outcome{}, fmt.Errorf("compute: load memo: %w", err)
	}

	plan := bidding.Build(rows, prev, opts)
	if err := e.opts.Memo.Save(ctx, jobID, now, plan.Memo); err != nil {
		return outcome{}, fmt.Errorf("compute: save memo: %w", err)
	}
	return outcome{
		summary: map[string]float64{
			"keywords":      float64(len(plan.Memo)),
			"raised":        float64(plan.Raised),
			"lowered":       float64(plan.Lowered),
			"skipped":       float64(plan.Skipped),
			"memo_previous": float64(len(prev)),
		},
		findings: plan.Findings(opts),
		changes:  plan.Changes,
	}, nil
}

func runBudget(rows []report.Row, opts config.BudgetOptions, now time.Time) outcome {
	paces, unbudgeted := budget.Analyze(rows, opts, now)
	o := outcome{
		summary:  budget.Summary(paces, opts.Period, now),
		findings: budget.Findings(paces, opts.Tolerance),
	}
	o.summary["unbudgeted"] = float64(unbudgeted)
	for _, m := range budget.MonthlyCost(rows) {
		o.summary["cost_"+strings.ReplaceAll(m.Month, "-", "_")] = m.Cost
	}
	return o
}

func runAdCopy(rows []report.Row, opts config.AdCopyOptions) outcome {
	c := adcopy.NewChecker(opts)
	o := outcome{}
	flagged := 0
	for _, r := range rows {
		f := c.Check(r)
		if len(f) > 0 {
			flagged++
		}
		o.findings = append(o.findings, f...)
	}
	o.summary = map[string]float64{
		"ads":         float64(len(rows)),
		"ads_flagged": float64(flagged),
	}
	return o
}

func runLabels(rows []report.Row, opts config.LabelsOptions) outcome {
	res := labels.Propagate(rows, opts)
	o := outcome{summary: make(map[string]float64), changes: res.Changes}
	for _, l := range opts.Labels {
		o.summary["qualified_"+l] = float64(res.Qualified[l])
	}
	return o
}

// runHoliday pauses or enables campaigns for tomorrow. An empty holiday
// list stops the job without changes.
func (e *Engine) runHoliday(rows []report.Row, opts config.HolidayOptions, now time.Time) (outcome, error) {
	list, err := e.opts.LoadHolidays(opts.ListPath, opts.DateColumn)
	if err != nil {
		return outcome{}, fmt.Errorf("compute: %w", err)
	}
	o := outcome{summary: map[string]float64{"holidays": float64(len(list))}}
	if len(list) == 0 {
		o.findings = append(o.findings, types.Finding{
			Severity: types.SeverityWarning,
			Entity:   opts.ListPath,
			Rule:     "empty_holiday_list",
			Message:  "holiday list has no dates; campaign statuses left unchanged",
		})
		return o, nil
	}
	d := holiday.Plan(list, rows, opts, now)
	if d.Holiday {
		o.summary["holiday_tomorrow"] = 1
	} else {
		o.summary["holiday_tomorrow"] = 0
	}
	o.changes = d.Changes
	return o, nil
}
