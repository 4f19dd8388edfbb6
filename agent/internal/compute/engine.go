package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adlens/adlens/agent/internal/bidding"
	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/agent/internal/holiday"
	"github.com/adlens/adlens/agent/internal/memo"
	"github.com/adlens/adlens/agent/internal/report"
	"github.com/adlens/adlens/pkg/types"
)

// Options are the collaborators an Engine needs for kinds that keep state
// or write changes. Zero values disable the matching feature.
type Options struct {
	// Memo persists position bidding state between runs. Position bid
	// jobs fail without it.
	Memo memo.Store

	// Applier sends changes of jobs with Apply set. Without it changes are
	// only reported.
	Applier *bidding.Applier

	// Location is the account time zone. Defaults to UTC.
	Location *time.Location

	// LoadHolidays reads a holiday list. Defaults to holiday.LoadList.
	LoadHolidays func(path string, column int) (holiday.List, error)
}

// outcome is what one analysis produced before state derivation.
type outcome struct {
	summary  map[string]float64
	findings []types.Finding
	changes  []types.Change
	skipped  int
}

// Engine runs analyses and keeps per-job history across runs.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	opts Options

	mu     sync.Mutex
	states map[string]*jobState
}

// NewEngine returns a ready-to-use Engine.
func NewEngine(opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LoadHolidays == nil {
		opts.LoadHolidays = holiday.LoadList
	}
	return &Engine{opts: opts, states: make(map[string]*jobState)}
}

// Process runs job over rows and returns its result.
//
// now is passed explicitly so callers (and tests) control the clock. It is
// converted to the account time zone before any day arithmetic.
//
// Analysis errors never escape: they produce a result with state "unknown"
// and ErrorMessage set. RowsRead is len(rows); callers add source-level
// skips to RowsSkipped.
func (e *Engine) Process(ctx context.Context, job config.Job, rows []report.Row, now time.Time) *types.Result {
	now = now.In(e.opts.Location)
	out := &types.Result{
		JobID:     job.ID,
		Kind:      string(job.Kind),
		Source:    job.Source,
		Timestamp: now,
		RowsRead:  len(rows),
	}

	rows = report.NewFilter(job.Filter).Apply(rows)
	o, err := e.run(ctx, job, rows, now)
	if err == nil && job.Apply && len(o.changes) > 0 {
		err = e.apply(ctx, job, &o)
	}
	if err != nil {
		return e.Fail(job, err, now)
	}

	out.Summary = o.summary
	if out.Summary == nil {
		out.Summary = make(map[string]float64)
	}
	out.Summary["rows_matched"] = float64(len(rows))
	out.Summary["changes"] = float64(len(o.changes))
	out.Findings = o.findings
	out.Changes = o.changes
	out.RowsSkipped = o.skipped
	out.State = StateOf(o.findings)

	e.record(out, true)
	return out
}

// Fail records a failed run of job, e.g. when its report could not be read,
// and returns the unknown result describing it.
func (e *Engine) Fail(job config.Job, err error, now time.Time) *types.Result {
	slog.Warn("compute: job failed, marking unknown", "job", job.ID, "kind", job.Kind, "err", err)
	out := &types.Result{
		JobID:        job.ID,
		Kind:         string(job.Kind),
		Source:       job.Source,
		Timestamp:    now.In(e.opts.Location),
		State:        types.StateUnknown,
		Summary:      make(map[string]float64),
		ErrorMessage: err.Error(),
	}
	e.record(out, false)
	return out
}

// Previous returns the last result recorded for jobID, or nil.
func (e *Engine) Previous(jobID string) *types.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[jobID]; ok {
		return st.prev
	}
	return nil
}

// Forget drops the history of jobs not in keep, after a config reload.
func (e *Engine) Forget(keep []config.Job) {
	ids := make(map[string]bool, len(keep))
	for _, j := range keep {
		ids[j.ID] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.states {
		if !ids[id] {
			delete(e.states, id)
		}
	}
}

func (e *Engine) run(ctx context.Context, job config.Job, rows []report.Row, now time.Time) (outcome, error) {
	switch job.Kind {
	case config.KindABTest:
		return runABTest(rows, job.ABTest), nil
	case config.KindNGram:
		return runNGram(rows, job.NGram), nil
	case config.KindHeatmap:
		return runHeatmap(rows, job.Heatmap)
	case config.KindPositionBid:
		return e.runPositionBid(ctx, job.ID, rows, job.PositionBid, now)
	case config.KindBudget:
		return runBudget(rows, job.Budget, now), nil
	case config.KindAdCopy:
		return runAdCopy(rows, job.AdCopy), nil
	case config.KindLabels:
		return runLabels(rows, job.Labels), nil
	case config.KindHoliday:
		return e.runHoliday(rows, job.Holiday, now)
	default:
		return outcome{}, fmt.Errorf("compute: unknown kind %q", job.Kind)
	}
}

// apply sends o.changes through the Applier. A batch that failed twice is
// reported as a critical finding rather than failing the run, since the
// other batches went through.
func (e *Engine) apply(ctx context.Context, job config.Job, o *outcome) error {
	if e.opts.Applier == nil {
		slog.Debug("compute: apply requested without a mutator", "job", job.ID)
		return nil
	}
	applied, err := e.opts.Applier.Apply(ctx, o.changes)
	o.changes = applied
	if errors.Is(err, bidding.ErrBatchFailed) {
		o.findings = append(o.findings, types.Finding{
			Severity: types.SeverityCritical,
			Entity:   job.ID,
			Rule:     "mutation_failed",
			Message:  err.Error(),
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("compute: apply: %w", err)
	}
	slog.Info("compute: changes applied", "job", job.ID, "count", len(applied))
	return nil
}

// jobState holds per-job run history.
type jobState struct {
	prev    *types.Result
	history []bool // run outcomes, newest last
}

func (e *Engine) record(out *types.Result, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[out.JobID]
	if !ok {
		st = &jobState{}
		e.states[out.JobID] = st
	}
	if len(st.history) >= historyWindow {
		st.history = st.history[1:]
	}
	st.history = append(st.history, success)
	out.Summary["success_pct"] = st.successPct()
	if success && st.prev != nil && st.prev.State != types.StateUnknown {
		out.Summary["findings_delta"] = float64(len(out.Findings) - len(st.prev.Findings))
	}
	st.prev = out
}

func (st *jobState) successPct() float64 {
	if len(st.history) == 0 {
		return 100
	}
	var ok int
	for _, s := range st.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(st.history)) * 100
}
