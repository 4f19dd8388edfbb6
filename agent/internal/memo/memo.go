// Package memo persists the per-keyword impressions and average position
// recorded by one position bidding run for the next.
//
// Report totals reset at midnight in the account time zone, so a memo is
// only valid for the day it was written. Loading another day's memo
// returns ErrNotFound. Each job keeps its own memo.
package memo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adlens/adlens/agent/internal/config"
)

// ErrNotFound is returned by Load when the job has no memo for the day.
var ErrNotFound = errors.New("memo: not found")

// Entry is the cumulative state of one keyword at the time of a run.
type Entry struct {
	Impressions int64
	Position    float64
}

// Store loads and saves the memo a job wrote on a day.
type Store interface {
	Load(ctx context.Context, jobID string, day time.Time) (map[string]Entry, error)
	Save(ctx context.Context, jobID string, day time.Time, entries map[string]Entry) error
}

// New returns the Store selected by cfg.Backend.
func New(cfg config.MemoConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Path), nil
	case "redis":
		return NewRedisStore(cfg), nil
	default:
		return nil, fmt.Errorf("memo: unknown backend %q", cfg.Backend)
	}
}

func dayKey(day time.Time) string {
	return day.Format("20060102")
}
