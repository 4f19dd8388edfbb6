package memo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const fileHeaderPrefix = "# adlens position memo "

// FileStore keeps each job's memo in a delimited text file next to the
// configured path, named after the job (memo/position.txt becomes
// memo/position-<job>.txt):
//
//	# adlens position memo 20240601
//	<keyword>,<impressions>,<position>
//
// The keyword may itself contain commas; the last two fields are numeric.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// jobPath returns the memo file of jobID. Path separators in the ID are
// replaced so every job stays in the configured directory.
func (s *FileStore) jobPath(jobID string) string {
	ext := filepath.Ext(s.path)
	stem := strings.TrimSuffix(s.path, ext)
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, jobID)
	return stem + "-" + safe + ext
}

// Load reads the job's memo. A missing file, or one written on another
// day, returns ErrNotFound.
func (s *FileStore) Load(_ context.Context, jobID string, day time.Time) (map[string]Entry, error) {
	f, err := os.Open(s.jobPath(jobID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memo: open: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("memo: read: %w", err)
		}
		return nil, ErrNotFound
	}
	if strings.TrimPrefix(sc.Text(), fileHeaderPrefix) != dayKey(day) {
		return nil, ErrNotFound
	}

	out := make(map[string]Entry)
	for line := 2; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		key, e, err := parseLine(text)
		if err != nil {
			return nil, fmt.Errorf("memo: line %d: %w", line, err)
		}
		out[key] = e
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("memo: read: %w", err)
	}
	return out, nil
}

func parseLine(s string) (string, Entry, error) {
	i := strings.LastIndexByte(s, ',')
	if i < 0 {
		return "", Entry{}, fmt.Errorf("malformed %q", s)
	}
	j := strings.LastIndexByte(s[:i], ',')
	if j <= 0 {
		return "", Entry{}, fmt.Errorf("malformed %q", s)
	}
	imp, err := strconv.ParseInt(s[j+1:i], 10, 64)
	if err != nil {
		return "", Entry{}, fmt.Errorf("impressions: %w", err)
	}
	pos, err := strconv.ParseFloat(s[i+1:], 64)
	if err != nil {
		return "", Entry{}, fmt.Errorf("position: %w", err)
	}
	return s[:j], Entry{Impressions: imp, Position: pos}, nil
}

// Save replaces the job's memo file atomically. Keys are written sorted.
func (s *FileStore) Save(_ context.Context, jobID string, day time.Time, entries map[string]Entry) error {
	path := s.jobPath(jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("memo: mkdir: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fileHeaderPrefix + dayKey(day) + "\n")
	for _, k := range keys {
		e := entries[k]
		fmt.Fprintf(&b, "%s,%d,%s\n", k, e.Impressions, strconv.FormatFloat(e.Position, 'f', -1, 64))
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("memo: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("memo: rename: %w", err)
	}
	return nil
}
