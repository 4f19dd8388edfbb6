package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/adlens/adlens/pkg/types"

	_ "modernc.org/sqlite"
)

// DefaultLimit caps List when the caller passes no limit.
const DefaultLimit = 50

const schema = `
CREATE TABLE IF NOT EXISTS results (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  job_id      TEXT    NOT NULL,
  kind        TEXT    NOT NULL,
  state       TEXT    NOT NULL,
  ran_at      INTEGER NOT NULL,
  findings    INTEGER NOT NULL,
  payload     TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS results_job_ran_at ON results (job_id, ran_at DESC);
CREATE INDEX IF NOT EXISTS results_ran_at ON results (ran_at);
`

// Store persists results in SQLite.
type Store struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history: storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent ingest.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save appends res to the history.
func (s *Store) Save(ctx context.Context, res *types.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("history: encode result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (job_id, kind, state, ran_at, findings, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		res.JobID, res.Kind, res.State, toMillis(res.Timestamp), len(res.Findings), string(payload),
	)
	if err != nil {
		return fmt.Errorf("history: insert %q: %w", res.JobID, err)
	}
	return nil
}

// List returns up to limit results of jobID, newest first.
func (s *Store) List(ctx context.Context, jobID string, limit int) ([]*types.Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM results WHERE job_id = ? ORDER BY ran_at DESC, id DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query %q: %w", jobID, err)
	}
	defer rows.Close()

	out := make([]*types.Result, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		var res types.Result
		if err := json.Unmarshal([]byte(payload), &res); err != nil {
			return nil, fmt.Errorf("history: decode: %w", err)
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}

// Prune deletes results that ran before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	r, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE ran_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return r.RowsAffected()
}

// Run prunes rows older than retention once an hour until ctx is cancelled.
func (s *Store) Run(ctx context.Context, retention time.Duration) {
	if retention <= 0 {
		return
	}
	prune := func() {
		n, err := s.Prune(ctx, time.Now().Add(-retention))
		switch {
		case err != nil:
			slog.Error("history: prune failed", "err", err)
		case n > 0:
			slog.Info("history: pruned old results", "count", n)
		}
	}
	prune()
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			prune()
		}
	}
}
