package alerts

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/adlens/adlens/pkg/types"
	"github.com/adlens/adlens/server/internal/config"
)

func budgetResult(state string, pacing float64, findings ...string) *types.Result {
	res := &types.Result{
		JobID:    "budget-daily",
		Kind:     "budget",
		State:    state,
		Summary:  map[string]float64{"pacing_pct": pacing},
		RowsRead: 4,
	}
	for _, sev := range findings {
		res.Findings = append(res.Findings, types.Finding{Severity: sev, Entity: "Brand", Rule: "overspend"})
	}
	return res
}

func TestEvalCondition(t *testing.T) {
	res := budgetResult(types.StateCritical, 120, types.SeverityCritical, types.SeverityWarning)
	tests := []struct {
		cond      string
		wantFire  bool
		wantValue float64
	}{
		{"state == critical", true, 0},
		{"state == ok", false, 0},
		{"state != ok", true, 0},
		{"findings > 1", true, 2},
		{"critical_findings > 0", true, 1},
		{"warning_findings >= 2", false, 1},
		{"rows_read < 1", false, 4},
		{"changes == 0", true, 0},
		{"summary.pacing_pct > 110", true, 120},
		{"summary.pacing_pct <= 110", false, 120},
		{"summary.missing > 0", false, 0},
		{"bogus > 1", false, 0},
		{"findings > many", false, 0},
		{"state critical", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.cond, func(t *testing.T) {
			fire, v := evalCondition(tt.cond, res)
			if fire != tt.wantFire || v != tt.wantValue {
				t.Errorf("got (%v, %v), want (%v, %v)", fire, v, tt.wantFire, tt.wantValue)
			}
		})
	}
}

func TestValidCondition(t *testing.T) {
	for cond, want := range map[string]bool{
		"state == critical":        true,
		"state > critical":         false,
		"summary.confidence > 95":  true,
		"summary. > 1":             false,
		"rows_read < 1":            true,
		"rows_read ~ 1":            false,
		"cost > 10":                false,
		"critical_findings > high": false,
	} {
		if got := validCondition(cond); got != want {
			t.Errorf("validCondition(%q) = %v, want %v", cond, got, want)
		}
	}
}

func TestEngine_IgnoresInvalidRules(t *testing.T) {
	e := New(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "ok", Condition: "state == critical"},
		{Name: "bad", Condition: "spend is high"},
	}})
	if e.Rules() != 1 {
		t.Errorf("Rules: got %d, want 1", e.Rules())
	}
}

func TestEngine_FireCooldownResolve(t *testing.T) {
	clock := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	e := New(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "overpacing", Condition: "summary.pacing_pct > 110", Severity: "critical", Cooldown: time.Hour},
	}})
	e.now = func() time.Time { return clock }

	e.Evaluate(budgetResult(types.StateCritical, 130))
	active := e.Active()
	if len(active) != 1 || active[0].State != "firing" || active[0].Value != 130 {
		t.Fatalf("after first evaluate: %+v", active)
	}
	firstID := active[0].ID

	// Within cooldown: no new alert.
	clock = clock.Add(10 * time.Minute)
	e.Evaluate(budgetResult(types.StateCritical, 140))
	if a := e.Active(); len(a) != 1 || a[0].ID != firstID {
		t.Errorf("cooldown violated: %+v", a)
	}

	clock = clock.Add(10 * time.Minute)
	e.Evaluate(budgetResult(types.StateOK, 100))
	active = e.Active()
	if len(active) != 1 || active[0].State != "resolved" || active[0].ResolvedAt == nil {
		t.Fatalf("after resolve: %+v", active)
	}
	if e.Firing() != 0 {
		t.Errorf("Firing: got %d, want 0", e.Firing())
	}

	// Resolved alerts age out of Active after a day.
	clock = clock.Add(25 * time.Hour)
	if a := e.Active(); len(a) != 0 {
		t.Errorf("stale resolved alert still listed: %+v", a)
	}
}

func TestEngine_JobFilter(t *testing.T) {
	e := New(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "crit", Condition: "state == critical", Jobs: []string{"abtest-home"}},
	}})
	e.Evaluate(budgetResult(types.StateCritical, 0))
	if e.Firing() != 0 {
		t.Error("rule scoped to another job fired")
	}
	res := budgetResult(types.StateCritical, 0)
	res.JobID = "abtest-home"
	e.Evaluate(res)
	if e.Firing() != 1 {
		t.Error("rule did not fire for its job")
	}
}

func TestEngine_PerJobKeys(t *testing.T) {
	e := New(config.AlertsConfig{Rules: []config.AlertRule{{Name: "crit", Condition: "state == critical"}}})
	a := budgetResult(types.StateCritical, 0)
	b := budgetResult(types.StateCritical, 0)
	b.JobID = "budget-monthly"
	e.Evaluate(a)
	e.Evaluate(b)
	if e.Firing() != 2 {
		t.Errorf("Firing: got %d, want 2", e.Firing())
	}
	if got := e.Active()[0].Severity; got != "warning" {
		t.Errorf("default severity: got %q, want warning", got)
	}
}

// hookRecorder records webhook bodies and events. The first len(statuses)
// requests are answered with those statuses.
type hookRecorder struct {
	mu       sync.Mutex
	bodies   []map[string]any
	events   []string
	statuses []int
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	h.mu.Lock()
	h.bodies = append(h.bodies, m)
	h.events = append(h.events, r.Header.Get("X-Adlens-Event"))
	status := http.StatusOK
	if len(h.statuses) > 0 {
		status, h.statuses = h.statuses[0], h.statuses[1:]
	}
	h.mu.Unlock()
	w.WriteHeader(status)
}

func (h *hookRecorder) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bodies)
}

func (h *hookRecorder) wait(t *testing.T, n int) []map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		if len(h.bodies) >= n {
			out := append([]map[string]any(nil), h.bodies...)
			h.mu.Unlock()
			return out
		}
		h.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("webhook received fewer than %d calls", n)
	return nil
}

func TestWebhookDelivery(t *testing.T) {
	tests := []struct {
		typ   string
		check func(t *testing.T, body map[string]any)
	}{
		{"slack", func(t *testing.T, body map[string]any) {
			if text, _ := body["text"].(string); text == "" {
				t.Errorf("slack body missing text: %v", body)
			}
		}},
		{"teams", func(t *testing.T, body map[string]any) {
			if body["@type"] != "MessageCard" || body["themeColor"] != "FF4F6A" {
				t.Errorf("teams body: %v", body)
			}
		}},
		{"http", func(t *testing.T, body map[string]any) {
			alert, _ := body["alert"].(map[string]any)
			if alert["job_id"] != "budget-daily" || alert["state"] != "firing" {
				t.Errorf("http body: %v", body)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			rec := &hookRecorder{}
			srv := httptest.NewServer(rec)
			defer srv.Close()
			t.Setenv("ADLENS_HOOK", srv.URL)

			e := New(config.AlertsConfig{
				Rules:    []config.AlertRule{{Name: "crit", Condition: "state == critical", Severity: "critical"}},
				Webhooks: []config.WebhookConfig{{Type: tt.typ, URLEnv: "ADLENS_HOOK"}},
			})
			e.Evaluate(budgetResult(types.StateCritical, 0))
			tt.check(t, rec.wait(t, 1)[0])
		})
	}
}

func hookEngine(t *testing.T, typ string, rec *hookRecorder) *Engine {
	t.Helper()
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	t.Setenv("ADLENS_HOOK", srv.URL)
	e := New(config.AlertsConfig{
		Rules:    []config.AlertRule{{Name: "crit", Condition: "state == critical", Severity: "critical"}},
		Webhooks: []config.WebhookConfig{{Type: typ, URLEnv: "ADLENS_HOOK"}},
	})
	e.hookRetry = 0
	return e
}

func TestWebhookDelivery_ResolvedPayloads(t *testing.T) {
	rec := &hookRecorder{}
	e := hookEngine(t, "teams", rec)
	e.Evaluate(budgetResult(types.StateCritical, 0))
	rec.wait(t, 1)
	e.Evaluate(budgetResult(types.StateOK, 0))
	bodies := rec.wait(t, 2)

	resolved := bodies[1]
	if title, _ := resolved["title"].(string); title != "adlens alert resolved: crit (budget-daily)" {
		t.Errorf("resolved title = %q", title)
	}
	if resolved["themeColor"] != "2EB67D" {
		t.Errorf("resolved color = %v", resolved["themeColor"])
	}
	sections, _ := resolved["sections"].([]any)
	if len(sections) != 1 {
		t.Fatalf("sections = %v", resolved["sections"])
	}
	facts, _ := sections[0].(map[string]any)["facts"].([]any)
	if len(facts) != 6 {
		t.Errorf("resolved card should list six facts, got %v", facts)
	}
	rec.mu.Lock()
	events := append([]string(nil), rec.events...)
	rec.mu.Unlock()
	if len(events) != 2 || events[0] != "alert.firing" || events[1] != "alert.resolved" {
		t.Errorf("events = %v", events)
	}
}

func TestWebhookDelivery_HTTPEvent(t *testing.T) {
	rec := &hookRecorder{}
	e := hookEngine(t, "http", rec)
	e.Evaluate(budgetResult(types.StateCritical, 0))
	body := rec.wait(t, 1)[0]
	if body["event"] != "alert.firing" {
		t.Errorf("event = %v", body["event"])
	}
}

func TestWebhookDelivery_RetriesTransientFailure(t *testing.T) {
	rec := &hookRecorder{statuses: []int{http.StatusServiceUnavailable}}
	e := hookEngine(t, "slack", rec)
	a := &Alert{RuleName: "crit", JobID: "budget-daily", Severity: "critical", State: "firing", Message: "m"}
	e.deliver(a)
	if n := rec.calls(); n != 2 {
		t.Errorf("calls = %d, want one retry after 503", n)
	}
	body := rec.wait(t, 2)[1]
	if atts, _ := body["attachments"].([]any); len(atts) != 1 {
		t.Errorf("slack attachments = %v", body["attachments"])
	}
}

func TestWebhookDelivery_NoRetryOnClientError(t *testing.T) {
	rec := &hookRecorder{statuses: []int{http.StatusBadRequest}}
	e := hookEngine(t, "http", rec)
	attempts, err := e.postWithRetry(os.Getenv("ADLENS_HOOK"), "alert.firing", []byte(`{}`))
	if err == nil || attempts != 1 || rec.calls() != 1 {
		t.Errorf("attempts %d, calls %d, err %v; want a single failed attempt", attempts, rec.calls(), err)
	}
}
