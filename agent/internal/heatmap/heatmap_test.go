package heatmap

import (
	"math"
	"testing"
	"time"

	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/agent/internal/report"
)

func hourRow(campaign string, day time.Weekday, hour int, clicks int64, conv float64) report.Row {
	return report.Row{
		CampaignName: campaign,
		DayOfWeek:    day, HasDayOfWeek: true,
		Hour: hour, HasHour: true,
		Impressions: clicks * 10,
		Clicks:      clicks,
		Conversions: conv,
	}
}

func TestBuild(t *testing.T) {
	rows := []report.Row{
		hourRow("A", time.Monday, 9, 10, 1),
		hourRow("A", time.Monday, 9, 10, 3),
		hourRow("A", time.Tuesday, 23, 5, 0),
		{CampaignName: "A", Clicks: 100}, // no segment columns
	}
	g, skipped, err := Build(rows, "conversions")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if g[time.Monday][9] != 4 {
		t.Errorf("Monday 9h = %v, want 4", g[time.Monday][9])
	}
	if g.Sum() != 4 {
		t.Errorf("Sum = %v, want 4", g.Sum())
	}

	cvr, _, _ := Build(rows, "conversion_rate")
	if cvr[time.Monday][9] != 0.2 {
		t.Errorf("conversion rate Monday 9h = %v, want 0.2", cvr[time.Monday][9])
	}
	if cvr[time.Wednesday][0] != 0 {
		t.Error("empty cell ratio should be 0")
	}

	if _, _, err := Build(rows, "magic"); err == nil {
		t.Error("expected error for unknown metric")
	}
}

func TestSmooth_WrapsAroundWeek(t *testing.T) {
	var g Grid
	g[time.Saturday][23] = 3
	s := Smooth(g, 3)
	if s[time.Sunday][0] != 1 {
		t.Errorf("Sunday 00:00 = %v, want 1 (wrapped from Saturday 23:00)", s[time.Sunday][0])
	}
	if s[time.Saturday][22] != 1 || s[time.Saturday][23] != 1 {
		t.Errorf("Saturday 22/23 = %v/%v, want 1/1", s[time.Saturday][22], s[time.Saturday][23])
	}
	if s[time.Sunday][1] != 0 {
		t.Errorf("Sunday 01:00 = %v, want 0", s[time.Sunday][1])
	}

	var d Grid
	d[time.Sunday][23] = 3
	if got := Smooth(d, 3)[time.Monday][0]; got != 1 {
		t.Errorf("Monday 00:00 = %v, want 1 (from Sunday 23:00)", got)
	}
}

func TestSmooth_PreservesTotal(t *testing.T) {
	var g Grid
	for i := 0; i < hoursPerWeek; i++ {
		*g.at(i) = float64(i % 7)
	}
	s := Smooth(g, 5)
	if math.Abs(s.Sum()-g.Sum()) > 1e-9 {
		t.Errorf("smoothing changed the total: %v -> %v", g.Sum(), s.Sum())
	}
	if Smooth(g, 1) != g {
		t.Error("window 1 should return the grid unchanged")
	}
}

func TestModifiers(t *testing.T) {
	var g Grid
	g[time.Monday][9] = 4
	g[time.Monday][10] = 2
	g[time.Monday][11] = 0.2
	// mean of non-zero cells = 6.2/3
	mods := Modifiers(g, 0.5, 1.5)
	if mods[time.Monday][9] != 1.5 {
		t.Errorf("high cell = %v, want clamp to 1.5", mods[time.Monday][9])
	}
	if mods[time.Monday][10] != 0.97 {
		t.Errorf("mid cell = %v, want 0.97", mods[time.Monday][10])
	}
	if mods[time.Monday][11] != 0.5 {
		t.Errorf("low cell = %v, want clamp to 0.5", mods[time.Monday][11])
	}
	if mods[time.Sunday][0] != 0.5 {
		t.Errorf("empty cell = %v, want min modifier", mods[time.Sunday][0])
	}
}

func TestModifiers_AllZero(t *testing.T) {
	mods := Modifiers(Grid{}, 0.5, 1.5)
	for d := range mods {
		for h := range mods[d] {
			if mods[d][h] != 1 {
				t.Fatalf("cell %d/%d = %v, want 1", d, h, mods[d][h])
			}
		}
	}
}

func TestSchedule(t *testing.T) {
	mods := Modifiers(Grid{}, 0.5, 1.5)
	for h := 9; h < 18; h++ {
		mods[time.Wednesday][h] = 1.2
	}
	windows := Schedule(mods)
	// 6 whole days + Wednesday split into 3.
	if len(windows) != 9 {
		t.Fatalf("got %d windows, want 9", len(windows))
	}
	var wed []Window
	for _, w := range windows {
		if w.Day == time.Wednesday {
			wed = append(wed, w)
		}
	}
	want := []Window{
		{time.Wednesday, 0, 9, 1},
		{time.Wednesday, 9, 18, 1.2},
		{time.Wednesday, 18, 24, 1},
	}
	for i := range want {
		if wed[i] != want[i] {
			t.Errorf("window %d = %+v, want %+v", i, wed[i], want[i])
		}
	}
	if wed[1].String() != "Wednesday 09:00-18:00" {
		t.Errorf("String() = %q", wed[1].String())
	}
}

func TestAnalyzeAndChanges(t *testing.T) {
	rows := []report.Row{
		hourRow("B", time.Monday, 9, 10, 2),
		hourRow("A", time.Monday, 9, 10, 2),
		hourRow("A", time.Monday, 10, 10, 0),
	}
	rows[1].CampaignID = "111"
	rows[2].CampaignID = "111"
	opts := config.HeatmapOptions{Metric: "conversions", Window: 1, MinModifier: 0.5, MaxModifier: 1.5}
	campaigns, skipped, err := Analyze(rows, opts)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if skipped != 0 || len(campaigns) != 2 {
		t.Fatalf("campaigns=%d skipped=%d", len(campaigns), skipped)
	}
	a := campaigns[0]
	if a.ID != "111" || a.Name != "A" {
		t.Errorf("first campaign: got %q/%q", a.ID, a.Name)
	}
	changes := Changes(a)
	if len(changes) != len(a.Windows) {
		t.Fatalf("changes %d != windows %d", len(changes), len(a.Windows))
	}
	var found bool
	for _, c := range changes {
		if c.Field == "ad_schedule Monday 09:00-10:00" {
			found = true
			if c.New != "1.00" || c.EntityID != "111" || c.EntityType != "campaign" {
				t.Errorf("Monday 9h change: %+v", c)
			}
		}
	}
	if !found {
		t.Errorf("no change for Monday 09:00-10:00 in %+v", changes)
	}
}
