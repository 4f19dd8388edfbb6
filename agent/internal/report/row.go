package report

import (
	"fmt"
	"strings"
	"time"
)

// Row is one line of a performance report. Fields absent from the report
// keep their zero value; Has* flags distinguish "absent" from zero where
// the analyses need to know.
type Row struct {
	Date         time.Time
	Hour         int
	HasHour      bool
	DayOfWeek    time.Weekday
	HasDayOfWeek bool
	Device       string

	CampaignID   string
	CampaignName string
	AdGroupID    string
	AdGroupName  string
	KeywordID    string
	Keyword      string
	MatchType    string
	Query        string
	AdID         string
	Status       string

	Headlines    []string
	Descriptions []string
	Path1        string
	Path2        string
	FinalURL     string
	Labels       []string

	// AdGroupLabels and CampaignLabels are the labels of the row's parents,
	// present in keyword and ad reports that select them.
	AdGroupLabels  []string
	CampaignLabels []string

	Impressions     int64
	Clicks          int64
	Cost            float64
	Conversions     float64
	ConversionValue float64
	AvgPosition     float64
	MaxCPC          float64
	Budget          float64

	// Extra holds columns the ColumnMap does not recognise, keyed by the
	// original header.
	Extra map[string]string
}

// HasLabel reports whether the row carries label (case-insensitive).
func (r Row) HasLabel(label string) bool {
	for _, l := range r.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// EntityType identifies the level of the account hierarchy a report row or
// mutation refers to.
type EntityType int

const (
	EntityUnknown EntityType = iota
	EntityCampaign
	EntityAdGroup
	EntityKeyword
	EntityAd
	EntitySearchQuery
)

var entityNames = map[EntityType]string{
	EntityCampaign:    "campaign",
	EntityAdGroup:     "ad_group",
	EntityKeyword:     "keyword",
	EntityAd:          "ad",
	EntitySearchQuery: "search_query",
}

var entityReports = map[EntityType]string{
	EntityCampaign:    "CAMPAIGN_PERFORMANCE_REPORT",
	EntityAdGroup:     "ADGROUP_PERFORMANCE_REPORT",
	EntityKeyword:     "KEYWORDS_PERFORMANCE_REPORT",
	EntityAd:          "AD_PERFORMANCE_REPORT",
	EntitySearchQuery: "SEARCH_QUERY_PERFORMANCE_REPORT",
}

func (e EntityType) String() string {
	if n, ok := entityNames[e]; ok {
		return n
	}
	return "unknown"
}

// ReportName returns the AWQL report the entity type is read from.
func (e EntityType) ReportName() string {
	return entityReports[e]
}

// ParseEntityType maps a config string (campaign, ad_group, keyword, ad,
// search_query) to an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if norm == "adgroup" {
		norm = "ad_group"
	}
	for e, n := range entityNames {
		if n == norm {
			return e, nil
		}
	}
	return EntityUnknown, fmt.Errorf("report: unknown entity type %q", s)
}

// Key returns the identifier of the row's entity at level e: the ID when
// present, otherwise the name path. Keyword criterion IDs are only unique
// within an ad group, so a keyword ID is qualified by its ad group.
func (e EntityType) Key(r Row) string {
	switch e {
	case EntityCampaign:
		return firstNonEmpty(r.CampaignID, r.CampaignName)
	case EntityAdGroup:
		return firstNonEmpty(r.AdGroupID, r.CampaignName+" > "+r.AdGroupName)
	case EntityKeyword:
		if r.KeywordID == "" {
			return r.CampaignName + " > " + r.AdGroupName + " > " + r.Keyword
		}
		return EntityAdGroup.Key(r) + "~" + r.KeywordID
	case EntityAd:
		return firstNonEmpty(r.AdID, r.CampaignName+" > "+r.AdGroupName+" > "+strings.Join(r.Headlines, " | "))
	case EntitySearchQuery:
		return r.Query
	default:
		return ""
	}
}

// Name returns a human-readable path for the row's entity at level e.
func (e EntityType) Name(r Row) string {
	switch e {
	case EntityCampaign:
		return r.CampaignName
	case EntityAdGroup:
		return r.CampaignName + " > " + r.AdGroupName
	case EntityKeyword:
		return r.CampaignName + " > " + r.AdGroupName + " > " + r.Keyword
	case EntityAd:
		name := r.CampaignName + " > " + r.AdGroupName
		if r.AdID != "" {
			name += " > " + r.AdID
		}
		return name
	case EntitySearchQuery:
		return r.Query
	default:
		return ""
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
