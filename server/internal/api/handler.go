package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/adlens/adlens/pkg/types"
	"github.com/adlens/adlens/server/internal/alerts"
	"github.com/adlens/adlens/server/internal/store"
)

// maxHistoryLimit caps ?limit= on the history endpoint.
const maxHistoryLimit = 500

// HistoryReader lists stored runs of a job, newest first.
type HistoryReader interface {
	List(ctx context.Context, jobID string, limit int) ([]*types.Result, error)
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads job state from the result store and returns JSON responses.
type Handler struct {
	store   *store.Store
	history HistoryReader
	alerts  *alerts.Engine
	mux     *http.ServeMux
}

// New creates a Handler wired to the given stores and registers all routes.
// hist and al may be nil.
func New(st *store.Store, hist HistoryReader, al *alerts.Engine) http.Handler {
	h := &Handler{store: st, history: hist, alerts: al, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/results", h.listResults)
	h.mux.HandleFunc("/api/v1/results/{id}", h.getResult)
	h.mux.HandleFunc("/api/v1/results/{id}/history", h.resultHistory)
	h.mux.HandleFunc("/api/v1/findings", h.findings)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: overall state and state counts.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	jsonResp(w, http.StatusOK, BuildHealth(h.store, h.alerts))
}

// listResults returns GET /api/v1/results: all live jobs, optionally
// filtered by ?state= and ?kind=.
func (h *Handler) listResults(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	state, kind := r.URL.Query().Get("state"), r.URL.Query().Get("kind")

	entries := h.store.List()
	out := make([]ResultResponse, 0, len(entries))
	for _, e := range entries {
		if state != "" && e.Result.State != state {
			continue
		}
		if kind != "" && e.Result.Kind != kind {
			continue
		}
		out = append(out, toResultResponse(e))
	}
	jsonResp(w, http.StatusOK, out)
}

// getResult returns GET /api/v1/results/{id}: a single live job.
func (h *Handler) getResult(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	e, ok := h.store.Get(r.PathValue("id"))
	// Stale entries are treated as not found.
	if !ok || !h.store.Live(e) {
		jsonErr(w, http.StatusNotFound, "job not found")
		return
	}
	jsonResp(w, http.StatusOK, toResultResponse(e))
}

// resultHistory returns GET /api/v1/results/{id}/history.
func (h *Handler) resultHistory(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	id := r.PathValue("id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	resp := HistoryResponse{JobID: id, Results: []*types.Result{}}
	if h.history != nil {
		results, err := h.history.List(r.Context(), id, limit)
		if err != nil {
			slog.Error("api: history query failed", "job", id, "err", err)
			jsonErr(w, http.StatusInternalServerError, "history unavailable")
			return
		}
		resp.Results = append(resp.Results, results...)
	}
	jsonResp(w, http.StatusOK, resp)
}

// findings returns GET /api/v1/findings: findings of all live jobs,
// optionally filtered by ?severity= and ?job=.
func (h *Handler) findings(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	sev, job := r.URL.Query().Get("severity"), r.URL.Query().Get("job")

	out := make([]FindingResponse, 0)
	for _, e := range h.store.List() {
		res := e.Result
		if job != "" && res.JobID != job {
			continue
		}
		for _, f := range res.Findings {
			if sev != "" && f.Severity != sev {
				continue
			}
			out = append(out, FindingResponse{JobID: res.JobID, Kind: res.Kind, Finding: f})
		}
	}
	jsonResp(w, http.StatusOK, out)
}

// listAlerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	jsonResp(w, http.StatusOK, activeAlerts(h.alerts))
}

// snapshot returns GET /api/v1/snapshot: full JSON dump of all live jobs.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	jsonResp(w, http.StatusOK, BuildSnapshot(h.store, h.alerts))
}

// --- shared builders --------------------------------------------------------

// BuildHealth summarises the live jobs in st. al may be nil.
func BuildHealth(st *store.Store, al *alerts.Engine) HealthResponse {
	entries := st.List()
	resp := HealthResponse{JobCount: len(entries)}
	if al != nil {
		resp.AlertCount = al.Firing()
	}
	for _, e := range entries {
		resp.FindingCount += len(e.Result.Findings)
		switch e.Result.State {
		case types.StateOK:
			resp.OKCount++
		case types.StateWarning:
			resp.WarningCount++
		case types.StateCritical:
			resp.CriticalCount++
		default:
			resp.UnknownCount++
		}
	}
	resp.State = overallState(resp)
	return resp
}

// BuildSnapshot returns health, results and alerts in one payload. It is
// shared with the WebSocket hub so both endpoints stay in sync.
func BuildSnapshot(st *store.Store, al *alerts.Engine) SnapshotResponse {
	entries := st.List()
	results := make([]ResultResponse, 0, len(entries))
	for _, e := range entries {
		results = append(results, toResultResponse(e))
	}
	return SnapshotResponse{
		Health:      BuildHealth(st, al),
		Results:     results,
		Alerts:      activeAlerts(al),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// --- helpers ----------------------------------------------------------------

func requireGET(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// overallState is the worst state among the counted jobs.
func overallState(h HealthResponse) string {
	switch {
	case h.CriticalCount > 0:
		return types.StateCritical
	case h.WarningCount > 0:
		return types.StateWarning
	case h.OKCount > 0:
		return types.StateOK
	default:
		return types.StateUnknown
	}
}

func activeAlerts(al *alerts.Engine) []*alerts.Alert {
	if al == nil {
		return []*alerts.Alert{}
	}
	return al.Active()
}

// toResultResponse maps a store.Entry to its JSON representation.
func toResultResponse(e *store.Entry) ResultResponse {
	return ResultResponse{
		Result:      e.Result,
		Diagnostics: computeDiagnostics(e.Result),
		LastSeen:    e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
