package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/adlens/adlens/pkg/types"
)

// JSON writes the latest result of each job to <dir>/<job>.json.
type JSON struct {
	dir string
}

// NewJSON returns a JSON sink writing under dir.
func NewJSON(dir string) *JSON { return &JSON{dir: dir} }

// Name implements Sink.
func (s *JSON) Name() string { return "json:" + s.dir }

// Write replaces the job's file atomically.
func (s *JSON) Write(_ context.Context, res *types.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("sink: json: marshal: %w", err)
	}
	return writeAtomic(filepath.Join(s.dir, fileName(res.JobID)+".json"), append(data, '\n'))
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// fileName maps a job ID to a safe file or object name.
func fileName(jobID string) string {
	name := unsafeName.ReplaceAllString(jobID, "_")
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

// writeAtomic writes data to a temporary file next to path and renames it
// into place, so readers never see a partial file.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("sink: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("sink: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("sink: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sink: close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("sink: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("sink: rename: %w", err)
	}
	return nil
}
