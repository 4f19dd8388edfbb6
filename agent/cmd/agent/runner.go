package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adlens/adlens/agent/internal/compute"
	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/agent/internal/report"
	"github.com/adlens/adlens/agent/internal/security"
	"github.com/adlens/adlens/agent/internal/sink"
	"github.com/adlens/adlens/pkg/types"
)

// shipFunc hands a result to the server shipper; nil when shipping is off.
type shipFunc func(*types.Result)

// runner holds the job set of the current config. reload swaps it while
// runs are idle.
type runner struct {
	engine    *compute.Engine
	ship      shipFunc
	now       func() time.Time
	checkCert func(context.Context, config.Source, time.Time) *security.CertStatus

	mu      sync.Mutex
	jobs    []config.Job
	sources map[string]config.Source
	built   map[string]report.Source
	sinks   []sink.Sink
}

func newRunner(cfg config.AgentConfig, engine *compute.Engine, ship shipFunc) (*runner, error) {
	r := &runner{engine: engine, ship: ship, now: time.Now, checkCert: security.Check}
	if err := r.reload(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// reload rebuilds sources and sinks from cfg. On error the previous set
// stays active.
func (r *runner) reload(cfg config.AgentConfig) error {
	built := make(map[string]report.Source, len(cfg.Sources))
	sources := make(map[string]config.Source, len(cfg.Sources))
	for _, src := range cfg.Sources {
		s, err := report.New(src)
		if err != nil {
			return fmt.Errorf("source %q: %w", src.ID, err)
		}
		built[src.ID] = s
		sources[src.ID] = src
		slog.Info("registered source", "id", src.ID, "type", src.Type)
	}
	sinks, err := sink.NewAll(cfg.Sinks)
	if err != nil {
		return err
	}

	r.mu.Lock()
	old := r.sinks
	r.jobs = cfg.Jobs
	r.sources = sources
	r.built = built
	r.sinks = sinks
	r.mu.Unlock()

	sink.CloseAll(old)
	r.engine.Forget(cfg.Jobs)
	return nil
}

// runOnce runs every job sequentially and delivers each result.
func (r *runner) runOnce(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	certs := make(map[string]*security.CertStatus)
	for _, job := range r.jobs {
		if ctx.Err() != nil {
			return
		}
		res := r.runJob(ctx, job)
		r.addCertFinding(ctx, res, job.Source, certs)
		slog.Info("job finished",
			"job", res.JobID,
			"kind", res.Kind,
			"state", res.State,
			"rows", res.RowsRead,
			"findings", len(res.Findings),
			"changes", len(res.Changes),
		)
		sink.WriteAll(ctx, r.sinks, res)
		if r.ship != nil {
			r.ship(res)
		}
	}
}

func (r *runner) runJob(ctx context.Context, job config.Job) *types.Result {
	now := r.now()
	var rows []report.Row
	var tot report.Totals
	if src, ok := r.built[job.Source]; ok {
		q, err := queryFor(job)
		if err != nil {
			return r.engine.Fail(job, err, now)
		}
		rows, tot, err = report.ReadAll(ctx, src, q, r.sources[job.Source].PageSize)
		if err != nil {
			return r.engine.Fail(job, fmt.Errorf("read report: %w", err), now)
		}
		slog.Debug("report read", "job", job.ID, "query", q.String(), "read", tot.Read, "skipped", tot.Skipped)
	}
	res := r.engine.Process(ctx, job, rows, now)
	res.RowsSkipped += tot.Skipped
	return res
}

// addCertFinding flags an expiring certificate on the job's https source.
// Each source is dialed at most once per run.
func (r *runner) addCertFinding(ctx context.Context, res *types.Result, sourceID string, seen map[string]*security.CertStatus) {
	src, ok := r.sources[sourceID]
	if !ok || src.Type != "http" || res.ErrorMessage != "" {
		return
	}
	cs, checked := seen[sourceID]
	if !checked {
		cs = r.checkCert(ctx, src, r.now())
		seen[sourceID] = cs
	}
	if f, ok := cs.Finding(); ok {
		res.Findings = append(res.Findings, f)
		res.State = compute.StateOf(res.Findings)
	}
}

// queryFor builds the report query of job, pushing the part of its filter
// AWQL can express down to the source.
func queryFor(job config.Job) (report.Query, error) {
	e, err := report.ParseEntityType(job.Entity)
	if err != nil {
		return report.Query{}, err
	}
	return report.Query{
		Entity:     e,
		Fields:     job.Fields,
		Conditions: report.NewFilter(job.Filter).Conditions(),
		During:     job.During,
	}, nil
}

func (r *runner) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	sink.CloseAll(r.sinks)
	r.sinks = nil
}
