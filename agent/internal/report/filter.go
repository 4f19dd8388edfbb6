package report

import (
	"sort"
	"strconv"
	"strings"

	"github.com/adlens/adlens/agent/internal/config"
)

// Filter selects report rows by campaign and ad group. An empty Filter
// matches every row.
type Filter struct {
	campaignContains []string
	campaignExcludes []string
	campaignIDs      map[string]bool
	adGroupContains  []string
	labels           []string
	minImpressions   int64
}

// NewFilter builds a Filter from its config block. Name matching is
// case-insensitive substring matching.
func NewFilter(cfg config.Filter) Filter {
	f := Filter{
		campaignContains: lowerAll(cfg.CampaignNameContains),
		campaignExcludes: lowerAll(cfg.CampaignNameExcludes),
		adGroupContains:  lowerAll(cfg.AdGroupNameContains),
		labels:           cfg.Labels,
		minImpressions:   cfg.MinImpressions,
	}
	if len(cfg.CampaignIDs) > 0 {
		f.campaignIDs = make(map[string]bool, len(cfg.CampaignIDs))
		for _, id := range cfg.CampaignIDs {
			f.campaignIDs[id] = true
		}
	}
	return f
}

// Match reports whether r passes every configured criterion. Multiple
// "contains" entries are alternatives; multiple "excludes" entries must all
// be absent.
func (f Filter) Match(r Row) bool {
	if f.campaignIDs != nil && !f.campaignIDs[r.CampaignID] {
		return false
	}
	name := strings.ToLower(r.CampaignName)
	if len(f.campaignContains) > 0 && !containsAny(name, f.campaignContains) {
		return false
	}
	if containsAny(name, f.campaignExcludes) {
		return false
	}
	if len(f.adGroupContains) > 0 && !containsAny(strings.ToLower(r.AdGroupName), f.adGroupContains) {
		return false
	}
	for _, l := range f.labels {
		if !r.HasLabel(l) {
			return false
		}
	}
	return r.Impressions >= f.minImpressions
}

// Apply returns the rows of rows that Match.
func (f Filter) Apply(rows []Row) []Row {
	out := rows[:0:0]
	for _, r := range rows {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// Conditions returns the subset of the filter that AWQL can express, for
// pushing down into a report Query. AWQL has no OR, so several "contains"
// names are left to Match.
func (f Filter) Conditions() []Condition {
	var conds []Condition
	if len(f.campaignIDs) > 0 {
		ids := make([]string, 0, len(f.campaignIDs))
		numeric := true
		for id := range f.campaignIDs {
			if _, err := strconv.ParseInt(id, 10, 64); err != nil {
				numeric = false
			}
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if numeric {
			conds = append(conds, Condition{Field: "CampaignId", Op: "IN", Value: ids})
		}
	}
	if len(f.campaignContains) == 1 {
		conds = append(conds, Condition{Field: "CampaignName", Op: "CONTAINS_IGNORE_CASE", Value: f.campaignContains[0]})
	}
	for _, ex := range f.campaignExcludes {
		conds = append(conds, Condition{Field: "CampaignName", Op: "DOES_NOT_CONTAIN_IGNORE_CASE", Value: ex})
	}
	if len(f.adGroupContains) == 1 {
		conds = append(conds, Condition{Field: "AdGroupName", Op: "CONTAINS_IGNORE_CASE", Value: f.adGroupContains[0]})
	}
	if f.minImpressions > 0 {
		conds = append(conds, Condition{Field: "Impressions", Op: ">=", Value: f.minImpressions})
	}
	return conds
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
