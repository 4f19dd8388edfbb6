package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adlens/adlens/pkg/types"
	"github.com/adlens/adlens/server/internal/alerts"
	"github.com/adlens/adlens/server/internal/api"
	"github.com/adlens/adlens/server/internal/config"
	"github.com/adlens/adlens/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

func newStore(results ...*types.Result) *store.Store {
	st := store.New(time.Hour)
	for _, r := range results {
		st.Put(r)
	}
	return st
}

func result(id, kind, state string, findings ...types.Finding) *types.Result {
	return &types.Result{
		JobID:     id,
		Kind:      kind,
		Source:    "csv-1",
		Timestamp: time.Now(),
		State:     state,
		Summary:   map[string]float64{"rows_matched": 4},
		Findings:  findings,
		RowsRead:  4,
	}
}

func finding(sev, rule string) types.Finding {
	return types.Finding{Severity: sev, Entity: "Brand", Rule: rule, Message: rule}
}

type fakeHistory struct {
	results []*types.Result
	err     error
	limit   int
}

func (f *fakeHistory) List(_ context.Context, _ string, limit int) ([]*types.Result, error) {
	f.limit = limit
	return f.results, f.err
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- tests ------------------------------------------------------------------

func TestHealth_Empty(t *testing.T) {
	rr := get(t, api.New(newStore(), nil, nil), "/api/v1/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var h api.HealthResponse
	decode(t, rr, &h)
	if h.State != types.StateUnknown || h.JobCount != 0 {
		t.Errorf("health: %+v", h)
	}
}

func TestHealth_Counts(t *testing.T) {
	st := newStore(
		result("a", "budget", types.StateOK),
		result("b", "abtest", types.StateWarning, finding(types.SeverityWarning, "empty_group")),
		result("c", "budget", types.StateCritical, finding(types.SeverityCritical, "overspend"), finding(types.SeverityInfo, "x")),
		result("d", "ngram", types.StateUnknown),
	)
	al := alerts.New(config.AlertsConfig{Rules: []config.AlertRule{{Name: "crit", Condition: "state == critical"}}})
	al.Evaluate(result("c", "budget", types.StateCritical))

	var h api.HealthResponse
	decode(t, get(t, api.New(st, nil, al), "/api/v1/health"), &h)
	if h.JobCount != 4 || h.OKCount != 1 || h.WarningCount != 1 || h.CriticalCount != 1 || h.UnknownCount != 1 {
		t.Errorf("counts: %+v", h)
	}
	if h.State != types.StateCritical || h.FindingCount != 3 || h.AlertCount != 1 {
		t.Errorf("health: %+v", h)
	}
}

func TestListResults_Filters(t *testing.T) {
	st := newStore(
		result("b", "budget", types.StateOK),
		result("a", "abtest", types.StateCritical),
		result("c", "budget", types.StateCritical),
	)
	h := api.New(st, nil, nil)

	var all []map[string]any
	decode(t, get(t, h, "/api/v1/results"), &all)
	if len(all) != 3 || all[0]["job_id"] != "a" {
		t.Fatalf("results: %v", all)
	}
	if _, ok := all[0]["diagnostics"]; !ok {
		t.Error("result missing diagnostics")
	}

	var crit []map[string]any
	decode(t, get(t, h, "/api/v1/results?state=critical&kind=budget"), &crit)
	if len(crit) != 1 || crit[0]["job_id"] != "c" {
		t.Errorf("filtered results: %v", crit)
	}
}

func TestGetResult(t *testing.T) {
	h := api.New(newStore(result("budget-daily", "budget", types.StateOK)), nil, nil)

	rr := get(t, h, "/api/v1/results/budget-daily")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var got api.ResultResponse
	decode(t, rr, &got)
	if got.Result == nil || got.JobID != "budget-daily" || got.LastSeen == "" {
		t.Errorf("result: %+v", got)
	}
	if len(got.Diagnostics) != 1 || got.Diagnostics[0].Key != "healthy" {
		t.Errorf("diagnostics: %+v", got.Diagnostics)
	}

	if rr := get(t, h, "/api/v1/results/missing"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown job: got %d, want 404", rr.Code)
	}
}

func TestResultHistory(t *testing.T) {
	hist := &fakeHistory{results: []*types.Result{result("j", "budget", types.StateOK), result("j", "budget", types.StateWarning)}}
	h := api.New(newStore(), hist, nil)

	var resp api.HistoryResponse
	decode(t, get(t, h, "/api/v1/results/j/history?limit=9999"), &resp)
	if resp.JobID != "j" || len(resp.Results) != 2 {
		t.Errorf("history: %+v", resp)
	}
	if hist.limit != 500 {
		t.Errorf("limit passed to store: got %d, want capped 500", hist.limit)
	}

	if rr := get(t, h, "/api/v1/results/j/history?limit=-1"); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit: got %d, want 400", rr.Code)
	}

	hist.err = errors.New("disk gone")
	if rr := get(t, h, "/api/v1/results/j/history"); rr.Code != http.StatusInternalServerError {
		t.Errorf("store error: got %d, want 500", rr.Code)
	}
}

func TestResultHistory_Disabled(t *testing.T) {
	var resp api.HistoryResponse
	decode(t, get(t, api.New(newStore(), nil, nil), "/api/v1/results/j/history"), &resp)
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Errorf("history without store: %+v", resp)
	}
}

func TestFindings(t *testing.T) {
	st := newStore(
		result("a", "budget", types.StateCritical, finding(types.SeverityCritical, "overspend"), finding(types.SeverityInfo, "note")),
		result("b", "adcopy", types.StateWarning, finding(types.SeverityWarning, "too_long")),
	)
	h := api.New(st, nil, nil)

	var all []api.FindingResponse
	decode(t, get(t, h, "/api/v1/findings"), &all)
	if len(all) != 3 {
		t.Fatalf("findings: got %d, want 3", len(all))
	}

	var crit []api.FindingResponse
	decode(t, get(t, h, "/api/v1/findings?severity=critical"), &crit)
	if len(crit) != 1 || crit[0].JobID != "a" || crit[0].Rule != "overspend" {
		t.Errorf("critical findings: %+v", crit)
	}

	var byJob []api.FindingResponse
	decode(t, get(t, h, "/api/v1/findings?job=b"), &byJob)
	if len(byJob) != 1 || byJob[0].Kind != "adcopy" {
		t.Errorf("job findings: %+v", byJob)
	}
}

func TestAlerts_EmptyWithoutEngine(t *testing.T) {
	rr := get(t, api.New(newStore(), nil, nil), "/api/v1/alerts")
	if body := rr.Body.String(); body != "[]\n" {
		t.Errorf("alerts body: %q", body)
	}
}

func TestSnapshot(t *testing.T) {
	st := newStore(result("a", "budget", types.StateOK))
	var snap api.SnapshotResponse
	decode(t, get(t, api.New(st, nil, nil), "/api/v1/snapshot"), &snap)
	if len(snap.Results) != 1 || snap.Health.JobCount != 1 || snap.GeneratedAt == "" {
		t.Errorf("snapshot: %+v", snap)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := api.New(newStore(), nil, nil)
	for _, path := range []string{"/api/v1/health", "/api/v1/results", "/api/v1/findings", "/api/v1/snapshot"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: got %d, want 405", path, rr.Code)
		}
	}
}
