package bidding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/agent/internal/memo"
	"github.com/adlens/adlens/agent/internal/report"
	"github.com/adlens/adlens/pkg/types"
)

var opts = config.PositionBidOptions{
	TargetPosition: 2,
	Tolerance:      0.2,
	BidUpPct:       10,
	BidDownPct:     10,
	MinBid:         0.1,
	MaxBid:         5,
}

func TestHourlyPosition(t *testing.T) {
	tests := []struct {
		name     string
		cur      memo.Entry
		prev     memo.Entry
		havePrev bool
		want     float64
	}{
		{"no memo", memo.Entry{Impressions: 100, Position: 2.5}, memo.Entry{}, false, 2.5},
		// 100 impressions at 2.0, then 100 more bring the average to 2.5,
		// so the new impressions averaged 3.0.
		{"difference", memo.Entry{Impressions: 200, Position: 2.5}, memo.Entry{Impressions: 100, Position: 2}, true, 3},
		{"no new impressions", memo.Entry{Impressions: 100, Position: 2.2}, memo.Entry{Impressions: 100, Position: 2}, true, 2.2},
		{"counter reset", memo.Entry{Impressions: 10, Position: 4}, memo.Entry{Impressions: 500, Position: 1.5}, true, 4},
		{"rounding below one", memo.Entry{Impressions: 101, Position: 1}, memo.Entry{Impressions: 100, Position: 1.1}, true, 1},
	}
	for _, tc := range tests {
		got := HourlyPosition(tc.cur, tc.prev, tc.havePrev)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		bid, pos float64
		want     float64
		ok       bool
	}{
		{"too low on page raises", 1.00, 3.0, 1.10, true},
		{"too high on page lowers", 1.00, 1.2, 0.90, true},
		{"inside tolerance", 1.00, 2.15, 1.00, false},
		{"clamped to max", 4.90, 5.0, 5.00, true},
		{"already at max", 5.00, 5.0, 5.00, false},
		{"clamped to min", 0.10, 1.0, 0.10, false},
		{"raise clamped up to min", 0.05, 3.0, 0.10, true},
		{"below min bid is lifted", 0.04, 1.0, 0.10, true},
		{"no position", 1.00, 0, 1.00, false},
	}
	for _, tc := range tests {
		got, ok := Decide(opts, tc.bid, tc.pos)
		if ok != tc.ok || math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: Decide(%v, %v) = %v, %v; want %v, %v", tc.name, tc.bid, tc.pos, got, ok, tc.want, tc.ok)
		}
	}

	o := opts
	o.BidUpPct = 0.5
	if _, ok := Decide(o, 1.00, 3.0); ok {
		t.Error("a half-cent raise must not be emitted")
	}
}

func kwRow(id string, imp int64, pos, bid float64) report.Row {
	return report.Row{CampaignName: "C", AdGroupName: "G", Keyword: "kw" + id, KeywordID: id, Impressions: imp, AvgPosition: pos, MaxCPC: bid}
}

func TestBuild(t *testing.T) {
	rows := []report.Row{
		kwRow("1", 200, 2.5, 1.00), // hourly 3.0 with memo -> raise
		kwRow("2", 50, 1.0, 1.00),  // no memo -> lower
		kwRow("3", 0, 0, 1.00),     // no impressions
		kwRow("4", 10, 2.0, 0),     // no bid
		kwRow("5", 30, 2.0, 1.00),  // on target
	}
	// Keyword 6 split across two devices: weighted position (1*3 + 1*1)/2 = 2.
	d1 := kwRow("6", 1, 3, 1.00)
	d2 := kwRow("6", 1, 1, 1.00)
	rows = append(rows, d1, d2)

	prev := map[string]memo.Entry{"C > G~1": {Impressions: 100, Position: 2}}
	p := Build(rows, prev, opts)

	if len(p.Changes) != 2 {
		t.Fatalf("changes: got %d, want 2: %+v", len(p.Changes), p.Changes)
	}
	if p.Raised != 1 || p.Lowered != 1 || p.Skipped != 2 {
		t.Errorf("counts: raised=%d lowered=%d skipped=%d", p.Raised, p.Lowered, p.Skipped)
	}
	c := p.Changes[0]
	if c.EntityID != "1" || c.Old != "1.00" || c.New != "1.10" || c.Field != "max_cpc" || c.EntityType != "keyword" {
		t.Errorf("first change: %+v", c)
	}
	if c.Entity != "C > G > kw1" {
		t.Errorf("entity name: %q", c.Entity)
	}
	if p.Positions["C > G~1"] != 3 {
		t.Errorf("hourly position for 1: %v", p.Positions)
	}
	if e := p.Memo["C > G~6"]; e.Impressions != 2 || e.Position != 2 {
		t.Errorf("memo for split keyword: %+v", e)
	}
	if _, ok := p.Memo["C > G~3"]; ok {
		t.Error("keyword without impressions should not be memoised")
	}
	if e := p.Memo["C > G~4"]; e.Impressions != 10 {
		t.Errorf("keyword without bid still memoised: %+v", e)
	}
}

func TestBuild_SharedCriterionID(t *testing.T) {
	g1 := report.Row{CampaignName: "A", AdGroupName: "g1", AdGroupID: "11", Keyword: "shoes", KeywordID: "777", Impressions: 10, AvgPosition: 1, MaxCPC: 1}
	g2 := report.Row{CampaignName: "A", AdGroupName: "g2", AdGroupID: "22", Keyword: "shoes", KeywordID: "777", Impressions: 10, AvgPosition: 5, MaxCPC: 3}
	p := Build([]report.Row{g1, g2}, nil, opts)

	if len(p.Memo) != 2 {
		t.Errorf("memo keys = %v, want one per ad group", p.Memo)
	}
	if len(p.Changes) != 2 {
		t.Fatalf("changes = %+v, want 2", p.Changes)
	}
	want := map[string]string{"11": "0.90", "22": "3.30"}
	for _, c := range p.Changes {
		if c.EntityID != "777" || want[c.ParentID] != c.New {
			t.Errorf("change %+v, want ad group %q at %q", c, c.ParentID, want[c.ParentID])
		}
	}
}

func TestPlanFindings(t *testing.T) {
	tests := []struct {
		name string
		row  report.Row
		want int
	}{
		{"raised to the cap", kwRow("1", 10, 4, 4.80), 1},
		{"already at the cap", kwRow("1", 10, 4, 5.00), 1},
		{"at the cap but on target", kwRow("1", 10, 2, 5.00), 0},
		{"below target with room", kwRow("1", 10, 4, 1.00), 0},
	}
	for _, tc := range tests {
		p := Build([]report.Row{tc.row}, nil, opts)
		f := p.Findings(opts)
		if len(f) != tc.want {
			t.Errorf("%s: findings %+v, want %d", tc.name, f, tc.want)
			continue
		}
		if tc.want == 1 && (f[0].Rule != "bid_at_max" || f[0].Entity != "C > G > kw1" || f[0].Value != 5) {
			t.Errorf("%s: finding %+v", tc.name, f[0])
		}
	}
}

// flakyMutator fails the listed call numbers (1-based).
type flakyMutator struct {
	mu    sync.Mutex
	calls int
	fail  map[int]bool
	sizes []int
}

func (m *flakyMutator) Mutate(_ context.Context, batch []types.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.sizes = append(m.sizes, len(batch))
	if m.fail[m.calls] {
		return errors.New("quota exceeded")
	}
	return nil
}

func changes(n int) []types.Change {
	out := make([]types.Change, n)
	for i := range out {
		out[i] = types.Change{EntityType: "keyword", Field: "max_cpc", New: "1.00"}
	}
	return out
}

func newTestApplier(m Mutator, size int) (*Applier, *[]time.Duration) {
	var slept []time.Duration
	a := NewApplier(m, config.MutationsConfig{BatchSize: size, RetryDelay: time.Minute})
	a.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return a, &slept
}

func TestApplier_ChunksAndSucceeds(t *testing.T) {
	m := &flakyMutator{}
	a, slept := newTestApplier(m, 2)
	out, err := a.Apply(context.Background(), changes(5))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(m.sizes) != 3 || m.sizes[0] != 2 || m.sizes[2] != 1 {
		t.Errorf("batch sizes: %v", m.sizes)
	}
	for i, c := range out {
		if !c.Applied {
			t.Errorf("change %d not applied", i)
		}
	}
	if len(*slept) != 0 {
		t.Errorf("unexpected sleeps: %v", *slept)
	}
}

func TestApplier_RetriesOnceAfterDelay(t *testing.T) {
	m := &flakyMutator{fail: map[int]bool{1: true}}
	a, slept := newTestApplier(m, 10)
	out, err := a.Apply(context.Background(), changes(3))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if m.calls != 2 {
		t.Errorf("calls: got %d, want 2", m.calls)
	}
	if len(*slept) != 1 || (*slept)[0] != time.Minute {
		t.Errorf("sleeps: %v", *slept)
	}
	if !out[0].Applied {
		t.Error("retried batch should be applied")
	}
}

func TestApplier_BatchFailsTwice(t *testing.T) {
	// Batch 1 fails both attempts (calls 1, 2); batch 2 succeeds (call 3).
	m := &flakyMutator{fail: map[int]bool{1: true, 2: true}}
	a, _ := newTestApplier(m, 2)
	input := changes(4)
	out, err := a.Apply(context.Background(), input)
	if !errors.Is(err, ErrBatchFailed) {
		t.Fatalf("got %v, want ErrBatchFailed", err)
	}
	if out[0].Applied || out[1].Applied {
		t.Error("failed batch marked applied")
	}
	if !out[2].Applied || !out[3].Applied {
		t.Error("later batch should still be applied")
	}
	if input[2].Applied {
		t.Error("Apply must not modify its input")
	}
}

func TestApplier_ContextCancelledDuringRetry(t *testing.T) {
	m := &flakyMutator{fail: map[int]bool{1: true}}
	a := NewApplier(m, config.MutationsConfig{BatchSize: 10, RetryDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Apply(ctx, changes(1)); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestNewApplier_CapsBatchSize(t *testing.T) {
	a := NewApplier(&RecordingMutator{}, config.MutationsConfig{BatchSize: 50000})
	if a.batchSize != config.MaxBatchSize {
		t.Errorf("batchSize = %d, want %d", a.batchSize, config.MaxBatchSize)
	}
}

func TestRecordingMutator(t *testing.T) {
	m := NewMutator(config.MutationsConfig{Mode: "record"}).(*RecordingMutator)
	a := NewApplier(m, config.MutationsConfig{BatchSize: 2})
	if _, err := a.Apply(context.Background(), changes(3)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if b := m.Batches(); len(b) != 2 || len(b[1]) != 1 {
		t.Errorf("batches: %v", b)
	}
}

func TestHTTPMutator(t *testing.T) {
	var got mutateRequest
	var auth string
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	t.Setenv("TEST_MUTATE_TOKEN", "tok")
	m := NewMutator(config.MutationsConfig{
		Mode:     "http",
		Endpoint: srv.URL,
		Auth:     config.AuthConfig{Mode: "bearer", TokenEnv: "TEST_MUTATE_TOKEN"},
	})
	if err := m.Mutate(context.Background(), changes(2)); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if len(got.Changes) != 2 || auth != "Bearer tok" {
		t.Errorf("server saw %d changes, auth %q", len(got.Changes), auth)
	}

	status = http.StatusTooManyRequests
	if err := m.Mutate(context.Background(), changes(1)); err == nil {
		t.Error("expected error for 429")
	}
}
