package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/agent/internal/report"
	"github.com/adlens/adlens/pkg/types"
)

// ErrBatchFailed is returned by Applier.Apply when a batch still fails
// after its retry.
var ErrBatchFailed = errors.New("bidding: batch failed")

// Mutator writes one batch of changes to the ad platform.
type Mutator interface {
	Mutate(ctx context.Context, batch []types.Change) error
}

// Applier sends changes through a Mutator in batches of at most BatchSize.
// A failed batch is retried once after RetryDelay.
type Applier struct {
	mutator    Mutator
	batchSize  int
	retryDelay time.Duration

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewApplier returns an Applier using cfg's batch size and retry delay.
func NewApplier(m Mutator, cfg config.MutationsConfig) *Applier {
	size := cfg.BatchSize
	if size <= 0 {
		size = config.DefaultBatchSize
	}
	if size > config.MaxBatchSize {
		size = config.MaxBatchSize
	}
	return &Applier{mutator: m, batchSize: size, retryDelay: cfg.RetryDelay, sleep: sleepCtx}
}

// Apply returns a copy of changes with Applied set for every change whose
// batch succeeded. When any batch fails twice the error wraps
// ErrBatchFailed; the remaining batches are still attempted.
func (a *Applier) Apply(ctx context.Context, changes []types.Change) ([]types.Change, error) {
	out := make([]types.Change, len(changes))
	copy(out, changes)

	failed := 0
	batches := report.Chunk(out, a.batchSize)
	for i, batch := range batches {
		err := a.mutator.Mutate(ctx, batch)
		if err != nil {
			slog.Warn("bidding: batch failed, retrying", "batch", i, "size", len(batch), "delay", a.retryDelay, "err", err)
			if serr := a.sleep(ctx, a.retryDelay); serr != nil {
				return out, serr
			}
			err = a.mutator.Mutate(ctx, batch)
		}
		if err != nil {
			slog.Error("bidding: batch failed after retry", "batch", i, "size", len(batch), "err", err)
			failed++
			continue
		}
		for j := range batch {
			batch[j].Applied = true
		}
	}
	if failed > 0 {
		return out, fmt.Errorf("%w: %d of %d batches", ErrBatchFailed, failed, len(batches))
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
