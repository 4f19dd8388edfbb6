// Package sink writes job results to local files, a Prometheus textfile,
// an object store archive, or a Kafka topic.
//
// Sinks are independent of shipping to adlens-server: a failing sink is
// logged and never stops the run.
package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/pkg/types"
)

// Sink receives every result produced by the agent.
type Sink interface {
	Write(ctx context.Context, res *types.Result) error
	Name() string
}

// New returns the Sink selected by cfg.Type.
func New(cfg config.Sink) (Sink, error) {
	switch cfg.Type {
	case "json":
		return NewJSON(cfg.Path), nil
	case "prometheus":
		return NewPrometheus(cfg.Path), nil
	case "minio":
		return NewMinIO(cfg)
	case "kafka":
		return NewKafka(cfg)
	default:
		return nil, fmt.Errorf("sink: unknown type %q", cfg.Type)
	}
}

// NewAll builds every configured sink. Sinks already built are closed when
// a later one fails.
func NewAll(cfgs []config.Sink) ([]Sink, error) {
	out := make([]Sink, 0, len(cfgs))
	for i, c := range cfgs {
		s, err := New(c)
		if err != nil {
			CloseAll(out)
			return nil, fmt.Errorf("sinks[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// WriteAll writes res to every sink, logging failures.
func WriteAll(ctx context.Context, sinks []Sink, res *types.Result) {
	for _, s := range sinks {
		if err := s.Write(ctx, res); err != nil {
			slog.Warn("sink: write failed", "sink", s.Name(), "job", res.JobID, "err", err)
		}
	}
}

// CloseAll closes the sinks that hold connections.
func CloseAll(sinks []Sink) {
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slog.Warn("sink: close failed", "sink", s.Name(), "err", err)
			}
		}
	}
}
