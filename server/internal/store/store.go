package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/adlens/adlens/pkg/types"
)

// Entry is a result together with the time it was received.
type Entry struct {
	Result    *types.Result
	UpdatedAt time.Time
}

// Store is a thread-safe in-memory result store, keyed by job ID.
// A background goroutine (Run) periodically evicts entries that have not
// been updated within the configured TTL.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Put stores or replaces the result for res.JobID and returns the entry it
// replaced, if any. Callers must not modify res after calling Put.
func (s *Store) Put(res *types.Result) (prev *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev = s.data[res.JobID]
	s.data[res.JobID] = &Entry{
		Result:    res,
		UpdatedAt: s.now(),
	}
	return prev
}

// Get returns the Entry for the given job ID. The entry may be stale if the
// TTL has elapsed but eviction has not yet run.
func (s *Store) Get(jobID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[jobID]
	return e, ok
}

// List returns all entries whose UpdatedAt is within the TTL, sorted by job ID.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Result.JobID < out[j].Result.JobID })
	return out
}

// TTL returns the configured time-to-live.
func (s *Store) TTL() time.Duration { return s.ttl }

// Live reports whether e was updated within the TTL.
func (s *Store) Live(e *Entry) bool {
	return e.UpdatedAt.After(s.now().Add(-s.ttl))
}

// Count returns the total number of entries currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// (minimum 1 second, maximum 10 minutes). Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	if interval > 10*time.Minute {
		interval = 10 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale results", "count", n)
			}
		}
	}
}
