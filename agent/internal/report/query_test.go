package report

import (
	"testing"
	"time"

	"github.com/adlens/adlens/agent/internal/config"
)

func TestQuery_String(t *testing.T) {
	q := Query{
		Entity: EntityKeyword,
		Fields: []string{"Id", "Criteria", "AveragePosition"},
		Conditions: []Condition{
			{Field: "CampaignName", Op: "CONTAINS_IGNORE_CASE", Value: "brand's"},
			{Field: "Impressions", Op: ">", Value: 0},
			{Field: "CampaignId", Op: "IN", Value: []string{"1", "2"}},
		},
		During: "last_7_days",
	}
	want := `SELECT Id, Criteria, AveragePosition FROM KEYWORDS_PERFORMANCE_REPORT ` +
		`WHERE CampaignName CONTAINS_IGNORE_CASE 'brand\'s' AND Impressions > 0 AND CampaignId IN ['1','2'] ` +
		`DURING LAST_7_DAYS`
	if got := q.String(); got != want {
		t.Errorf("String():\n got %s\nwant %s", got, want)
	}
}

func TestQuery_NoFieldsNoConditions(t *testing.T) {
	q := Query{Entity: EntityCampaign}
	if got := q.String(); got != "SELECT * FROM CAMPAIGN_PERFORMANCE_REPORT" {
		t.Errorf("String(): got %q", got)
	}
}

func TestDateRange(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	if got := DateRange(start, end); got != "20240101,20240131" {
		t.Errorf("DateRange: got %q", got)
	}
}

func TestFilter_Match(t *testing.T) {
	f := NewFilter(config.Filter{
		CampaignNameContains: []string{"Brand", "generic"},
		CampaignNameExcludes: []string{"test"},
		Labels:               []string{"active"},
		MinImpressions:       10,
	})
	tests := []struct {
		name string
		row  Row
		want bool
	}{
		{"contains first", Row{CampaignName: "brand_jp", Labels: []string{"Active"}, Impressions: 10}, true},
		{"contains second", Row{CampaignName: "GENERIC", Labels: []string{"active"}, Impressions: 50}, true},
		{"excluded", Row{CampaignName: "brand test", Labels: []string{"active"}, Impressions: 50}, false},
		{"no match", Row{CampaignName: "display", Labels: []string{"active"}, Impressions: 50}, false},
		{"missing label", Row{CampaignName: "brand", Impressions: 50}, false},
		{"too few impressions", Row{CampaignName: "brand", Labels: []string{"active"}, Impressions: 9}, false},
	}
	for _, tc := range tests {
		if got := f.Match(tc.row); got != tc.want {
			t.Errorf("%s: Match = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFilter_EmptyMatchesAll(t *testing.T) {
	f := NewFilter(config.Filter{})
	rows := []Row{{CampaignName: "a"}, {CampaignName: "b"}}
	if got := f.Apply(rows); len(got) != 2 {
		t.Errorf("Apply: got %d rows, want 2", len(got))
	}
	if conds := f.Conditions(); len(conds) != 0 {
		t.Errorf("Conditions: got %v, want none", conds)
	}
}

func TestFilter_CampaignIDs(t *testing.T) {
	f := NewFilter(config.Filter{CampaignIDs: []string{"20", "10"}})
	if !f.Match(Row{CampaignID: "10"}) || f.Match(Row{CampaignID: "30"}) {
		t.Error("campaign id filter mismatch")
	}
	conds := f.Conditions()
	if len(conds) != 1 || conds[0].String() != "CampaignId IN ['10','20']" {
		t.Errorf("Conditions: got %v", conds)
	}
}

func TestFilter_Conditions(t *testing.T) {
	f := NewFilter(config.Filter{
		CampaignNameContains: []string{"Brand"},
		CampaignNameExcludes: []string{"old"},
		MinImpressions:       100,
	})
	got := f.Conditions()
	want := []string{
		"CampaignName CONTAINS_IGNORE_CASE 'brand'",
		"CampaignName DOES_NOT_CONTAIN_IGNORE_CASE 'old'",
		"Impressions >= 100",
	}
	if len(got) != len(want) {
		t.Fatalf("Conditions: got %v", got)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("cond %d: got %q, want %q", i, got[i].String(), want[i])
		}
	}

	// Two alternatives cannot be expressed without OR.
	multi := NewFilter(config.Filter{CampaignNameContains: []string{"a", "b"}})
	if conds := multi.Conditions(); len(conds) != 0 {
		t.Errorf("multi-contains Conditions: got %v, want none", conds)
	}
}
