package config

import (
	"fmt"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Tolerances applied when a job's options leave the key out.
const (
	DefaultBidTolerance    = 0.2
	DefaultBudgetTolerance = 0.1
)

// Kind names an analysis.
type Kind string

const (
	KindABTest      Kind = "abtest"
	KindNGram       Kind = "ngram"
	KindHeatmap     Kind = "heatmap"
	KindPositionBid Kind = "position_bid"
	KindBudget      Kind = "budget"
	KindAdCopy      Kind = "adcopy"
	KindLabels      Kind = "labels"
	KindHoliday     Kind = "holiday"
)

// Kinds lists every supported job kind.
var Kinds = []Kind{KindABTest, KindNGram, KindHeatmap, KindPositionBid, KindBudget, KindAdCopy, KindLabels, KindHoliday}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	for _, v := range Kinds {
		if k == v {
			return true
		}
	}
	return false
}

// Job is one scheduled analysis. Only the options block matching Kind is read.
type Job struct {
	ID     string `yaml:"id"`
	Kind   Kind   `yaml:"kind"`
	Source string `yaml:"source"`

	// Entity is the report level queried: campaign | ad_group | keyword |
	// ad | search_query. Each kind has a default.
	Entity string `yaml:"entity"`

	// Fields are the AWQL columns requested from HTTP sources.
	Fields []string `yaml:"fields"`

	// During is an AWQL date range: LAST_7_DAYS, or yyyymmdd,yyyymmdd.
	During string `yaml:"during"`

	Filter Filter `yaml:"filter"`

	// Apply sends the job's changes through the configured mutator.
	// Without it changes are only reported.
	Apply bool `yaml:"apply"`

	ABTest      ABTestOptions      `yaml:"abtest"`
	NGram       NGramOptions       `yaml:"ngram"`
	Heatmap     HeatmapOptions     `yaml:"heatmap"`
	PositionBid PositionBidOptions `yaml:"position_bid"`
	Budget      BudgetOptions      `yaml:"budget"`
	AdCopy      AdCopyOptions      `yaml:"adcopy"`
	Labels      LabelsOptions      `yaml:"labels"`
	Holiday     HolidayOptions     `yaml:"holiday"`
}

// ABTestOptions splits rows into a control and an experiment group.
type ABTestOptions struct {
	Control    Filter `yaml:"control"`
	Experiment Filter `yaml:"experiment"`

	// Threshold is the confidence (percent) at which a difference is
	// reported as significant.
	Threshold float64 `yaml:"threshold"`
}

// NGramOptions configures search query mining.
type NGramOptions struct {
	MaxN           int     `yaml:"max_n"`
	MinImpressions int64   `yaml:"min_impressions"`
	PerCampaign    bool    `yaml:"per_campaign"`
	CostThreshold  float64 `yaml:"cost_threshold"`
	TargetCPA      float64 `yaml:"target_cpa"`
	Top            int     `yaml:"top"`
	SortBy         string  `yaml:"sort_by"`
}

// HeatmapOptions configures the day/hour heat map and ad schedule.
type HeatmapOptions struct {
	Metric      string  `yaml:"metric"`
	Window      int     `yaml:"window"`
	MinModifier float64 `yaml:"min_modifier"`
	MaxModifier float64 `yaml:"max_modifier"`
}

// PositionBidOptions configures average-position bidding.
type PositionBidOptions struct {
	TargetPosition float64 `yaml:"target_position"`
	Tolerance      float64 `yaml:"tolerance"`
	BidUpPct       float64 `yaml:"bid_up_pct"`
	BidDownPct     float64 `yaml:"bid_down_pct"`
	MinBid         float64 `yaml:"min_bid"`
	MaxBid         float64 `yaml:"max_bid"`
}

// BudgetOptions configures budget monitoring.
type BudgetOptions struct {
	// Period is daily or monthly.
	Period string `yaml:"period"`

	// Tolerance is the accepted pacing deviation, as a fraction.
	Tolerance float64 `yaml:"tolerance"`

	// Budgets overrides report budgets by campaign name.
	Budgets map[string]float64 `yaml:"budgets"`
}

// AdCopyOptions configures ad text QA limits.
type AdCopyOptions struct {
	HeadlineMax    int      `yaml:"headline_max"`
	DescriptionMax int      `yaml:"description_max"`
	PathMax        int      `yaml:"path_max"`
	AllowHTTP      bool     `yaml:"allow_http"`
	DisabledRules  []string `yaml:"disabled_rules"`
}

// LabelsOptions configures label propagation.
type LabelsOptions struct {
	Labels      []string `yaml:"labels"`
	Mode        string   `yaml:"mode"` // any | all
	RemoveStale bool     `yaml:"remove_stale"`
}

// HolidayOptions configures holiday pausing.
type HolidayOptions struct {
	ListPath   string   `yaml:"list_path"`
	DateColumn int      `yaml:"date_column"`
	Campaigns  []string `yaml:"campaigns"`
}

// UnmarshalYAML seeds the tolerances before decoding, so a job that sets
// one to 0 keeps it while a job that leaves it out gets the default.
func (j *Job) UnmarshalYAML(n *yaml.Node) error {
	type plain Job
	v := plain{
		PositionBid: PositionBidOptions{Tolerance: DefaultBidTolerance},
		Budget:      BudgetOptions{Tolerance: DefaultBudgetTolerance},
	}
	if err := n.Decode(&v); err != nil {
		return err
	}
	*j = Job(v)
	return nil
}

func (j *Job) applyDefaults() {
	if j.Entity == "" {
		j.Entity = defaultEntity[j.Kind]
	}
	if j.ABTest.Threshold == 0 {
		j.ABTest.Threshold = 95
	}
	if j.NGram.MaxN == 0 {
		j.NGram.MaxN = 3
	}
	if j.NGram.Top == 0 {
		j.NGram.Top = 50
	}
	if j.NGram.SortBy == "" {
		j.NGram.SortBy = "cost"
	}
	if j.Heatmap.Metric == "" {
		j.Heatmap.Metric = "conversions"
	}
	if j.Heatmap.Window == 0 {
		j.Heatmap.Window = 3
	}
	if j.Heatmap.MinModifier == 0 {
		j.Heatmap.MinModifier = 0.5
	}
	if j.Heatmap.MaxModifier == 0 {
		j.Heatmap.MaxModifier = 1.5
	}
	if j.PositionBid.BidUpPct == 0 {
		j.PositionBid.BidUpPct = 10
	}
	if j.PositionBid.BidDownPct == 0 {
		j.PositionBid.BidDownPct = 10
	}
	if j.PositionBid.MinBid == 0 {
		j.PositionBid.MinBid = 0.01
	}
	if j.PositionBid.MaxBid == 0 {
		j.PositionBid.MaxBid = 50
	}
	if j.Budget.Period == "" {
		j.Budget.Period = "daily"
	}
	if j.AdCopy.HeadlineMax == 0 {
		j.AdCopy.HeadlineMax = 30
	}
	if j.AdCopy.DescriptionMax == 0 {
		j.AdCopy.DescriptionMax = 90
	}
	if j.AdCopy.PathMax == 0 {
		j.AdCopy.PathMax = 15
	}
	if j.Labels.Mode == "" {
		j.Labels.Mode = "any"
	}
	if j.Holiday.DateColumn == 0 {
		j.Holiday.DateColumn = 1
	}
}

var defaultEntity = map[Kind]string{
	KindABTest:      "ad_group",
	KindNGram:       "search_query",
	KindHeatmap:     "campaign",
	KindPositionBid: "keyword",
	KindBudget:      "campaign",
	KindAdCopy:      "ad",
	KindLabels:      "keyword",
	KindHoliday:     "campaign",
}

func (j *Job) validate() error {
	if !j.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", j.Kind)
	}
	switch j.Entity {
	case "campaign", "ad_group", "keyword", "ad", "search_query":
	default:
		return fmt.Errorf("unknown entity %q", j.Entity)
	}
	switch j.Kind {
	case KindABTest:
		if j.ABTest.Threshold <= 0 || j.ABTest.Threshold >= 100 {
			return fmt.Errorf("abtest.threshold %.2f out of range (0, 100)", j.ABTest.Threshold)
		}
		if isEmptyFilter(j.ABTest.Control) || isEmptyFilter(j.ABTest.Experiment) {
			return fmt.Errorf("abtest.control and abtest.experiment filters are required")
		}
	case KindNGram:
		if j.NGram.MaxN < 1 || j.NGram.MaxN > 6 {
			return fmt.Errorf("ngram.max_n %d out of range [1, 6]", j.NGram.MaxN)
		}
		switch j.NGram.SortBy {
		case "cost", "impressions", "clicks", "conversions", "cpa", "ctr":
		default:
			return fmt.Errorf("ngram.sort_by %q unknown", j.NGram.SortBy)
		}
	case KindHeatmap:
		switch j.Heatmap.Metric {
		case "impressions", "clicks", "conversions", "cost", "conversion_rate", "ctr":
		default:
			return fmt.Errorf("heatmap.metric %q unknown", j.Heatmap.Metric)
		}
		if j.Heatmap.Window < 1 || j.Heatmap.Window%2 == 0 {
			return fmt.Errorf("heatmap.window must be a positive odd number, got %d", j.Heatmap.Window)
		}
		if j.Heatmap.MinModifier < 0.1 || j.Heatmap.MaxModifier > 10 || j.Heatmap.MinModifier > j.Heatmap.MaxModifier {
			return fmt.Errorf("heatmap modifiers must satisfy 0.1 <= min <= max <= 10")
		}
	case KindPositionBid:
		p := j.PositionBid
		if p.TargetPosition < 1 {
			return fmt.Errorf("position_bid.target_position must be >= 1")
		}
		if p.Tolerance < 0 {
			return fmt.Errorf("position_bid.tolerance must be >= 0")
		}
		if p.MinBid <= 0 || p.MaxBid < p.MinBid {
			return fmt.Errorf("position_bid bids must satisfy 0 < min_bid <= max_bid")
		}
		if p.BidUpPct <= 0 || p.BidDownPct <= 0 || p.BidDownPct >= 100 {
			return fmt.Errorf("position_bid bid_up_pct and bid_down_pct must be in (0, 100)")
		}
	case KindBudget:
		if j.Budget.Period != "daily" && j.Budget.Period != "monthly" {
			return fmt.Errorf("budget.period %q unknown: want daily|monthly", j.Budget.Period)
		}
		if j.Budget.Tolerance < 0 || j.Budget.Tolerance >= 1 {
			return fmt.Errorf("budget.tolerance must be in [0, 1)")
		}
	case KindLabels:
		if len(j.Labels.Labels) == 0 {
			return fmt.Errorf("labels.labels is required")
		}
		if j.Labels.Mode != "any" && j.Labels.Mode != "all" {
			return fmt.Errorf("labels.mode %q unknown: want any|all", j.Labels.Mode)
		}
	case KindHoliday:
		if j.Holiday.ListPath == "" {
			return fmt.Errorf("holiday.list_path is required")
		}
		if j.Holiday.DateColumn < 1 {
			return fmt.Errorf("holiday.date_column must be >= 1")
		}
	}
	if j.During != "" {
		if err := validateDuring(j.During); err != nil {
			return err
		}
	}
	return nil
}

func isEmptyFilter(f Filter) bool {
	return len(f.CampaignNameContains) == 0 && len(f.CampaignNameExcludes) == 0 &&
		len(f.CampaignIDs) == 0 && len(f.AdGroupNameContains) == 0 && len(f.Labels) == 0
}

var namedRanges = []string{
	"TODAY", "YESTERDAY", "LAST_7_DAYS", "LAST_14_DAYS",
	"LAST_30_DAYS", "LAST_WEEK", "LAST_BUSINESS_WEEK",
	"THIS_WEEK_SUN_TODAY", "THIS_WEEK_MON_TODAY", "LAST_WEEK_SUN_SAT",
	"THIS_MONTH", "LAST_MONTH", "ALL_TIME",
}

// validateDuring accepts a named AWQL range or "yyyymmdd,yyyymmdd".
func validateDuring(s string) error {
	if slices.Contains(namedRanges, s) {
		return nil
	}
	if len(s) != 17 || s[8] != ',' {
		return fmt.Errorf("during %q: want a named range or yyyymmdd,yyyymmdd", s)
	}
	start, err := time.Parse("20060102", s[:8])
	if err != nil {
		return fmt.Errorf("during %q: %w", s, err)
	}
	end, err := time.Parse("20060102", s[9:])
	if err != nil {
		return fmt.Errorf("during %q: %w", s, err)
	}
	if end.Before(start) {
		return fmt.Errorf("during %q ends before it starts", s)
	}
	return nil
}
