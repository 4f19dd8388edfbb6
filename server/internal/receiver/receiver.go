package receiver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/adlens/adlens/pkg/types"
	"github.com/adlens/adlens/server/internal/store"
)

// maxBody bounds one ingested result.
const maxBody = 4 << 20

// Saver appends results to long-term history.
type Saver interface {
	Save(ctx context.Context, res *types.Result) error
}

// Evaluator runs alert rules against a result.
type Evaluator interface {
	Evaluate(res *types.Result)
}

// Receiver validates each incoming result and fans it out to the store,
// history and alert engine.
type Receiver struct {
	store   *store.Store
	history Saver
	alerts  Evaluator
	notify  func(*types.Result)
}

// New creates a Receiver that writes accepted results to st. hist and al
// may be nil.
func New(st *store.Store, hist Saver, al Evaluator) *Receiver {
	return &Receiver{store: st, history: hist, alerts: al}
}

// OnResult registers fn to be called after each accepted result, for
// pushing updates to WebSocket clients.
func (r *Receiver) OnResult(fn func(*types.Result)) { r.notify = fn }

// ServeHTTP handles POST /api/v1/ingest.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var res types.Result
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBody))
	if err := dec.Decode(&res); err != nil {
		http.Error(w, "invalid result: "+err.Error(), http.StatusBadRequest)
		return
	}
	if res.JobID == "" {
		http.Error(w, "job_id is required", http.StatusBadRequest)
		return
	}
	switch res.State {
	case types.StateOK, types.StateWarning, types.StateCritical, types.StateUnknown:
	default:
		http.Error(w, "unknown state "+res.State, http.StatusBadRequest)
		return
	}

	r.accept(req.Context(), &res)
	w.WriteHeader(http.StatusAccepted)
}

func (r *Receiver) accept(ctx context.Context, res *types.Result) {
	if prev := r.store.Put(res); prev != nil && prev.Result.State != res.State {
		slog.Info("receiver: job state changed",
			"job", res.JobID, "from", prev.Result.State, "to", res.State)
	}
	if r.history != nil {
		// History is best effort; the live view is already updated.
		if err := r.history.Save(ctx, res); err != nil {
			slog.Error("receiver: history save failed", "job", res.JobID, "err", err)
		}
	}
	if r.alerts != nil {
		r.alerts.Evaluate(res)
	}
	if r.notify != nil {
		r.notify(res)
	}

	slog.Debug("receiver: result stored",
		"job", res.JobID,
		"kind", res.Kind,
		"state", res.State,
		"findings", len(res.Findings),
	)
}
