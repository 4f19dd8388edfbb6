package memo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/adlens/adlens/agent/internal/config"
)

var (
	day1 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
)

func sampleEntries() map[string]Entry {
	return map[string]Entry{
		"123":                        {Impressions: 100, Position: 2.5},
		"Brand > Shoes > red, shoes": {Impressions: 7, Position: 1},
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "memo")
	s := NewFileStore(filepath.Join(dir, "position.txt"))
	path := filepath.Join(dir, "position-bid.txt")
	ctx := context.Background()

	if _, err := s.Load(ctx, "bid", day1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load before Save: got %v, want ErrNotFound", err)
	}
	if err := s.Save(ctx, "bid", day1, sampleEntries()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, "bid", day1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, sampleEntries()) {
		t.Errorf("Load = %v, want %v", got, sampleEntries())
	}

	raw, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(raw), "# adlens position memo 20240601\n123,100,2.5\n") {
		t.Errorf("file content:\n%s", raw)
	}
}

func TestFileStore_StaleDayDiscarded(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "position.txt"))
	ctx := context.Background()
	if err := s.Save(ctx, "bid", day1, sampleEntries()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Load(ctx, "bid", day2); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load next day: got %v, want ErrNotFound", err)
	}
}

func TestFileStore_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "position-bid.txt")
	content := "# adlens position memo 20240601\n123,abc,2\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewFileStore(filepath.Join(dir, "position.txt")).Load(context.Background(), "bid", day1)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("got %v, want error naming line 2", err)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(config.MemoConfig{Addr: mr.Addr(), Prefix: "acct1"})
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Load(ctx, "bid", day1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load before Save: got %v, want ErrNotFound", err)
	}
	if err := s.Save(ctx, "bid", day1, sampleEntries()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	key := "adlens:memo:acct1:bid:20240601"
	if !mr.Exists(key) {
		t.Fatalf("key %q not written", key)
	}
	if ttl := mr.TTL(key); ttl != 48*time.Hour {
		t.Errorf("TTL = %v, want 48h", ttl)
	}
	if v := mr.HGet(key, "123"); v != "100,2.5" {
		t.Errorf("field 123 = %q", v)
	}

	got, err := s.Load(ctx, "bid", day1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, sampleEntries()) {
		t.Errorf("Load = %v", got)
	}
	if _, err := s.Load(ctx, "bid", day2); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load next day: got %v, want ErrNotFound", err)
	}

	// Save replaces rather than merges.
	if err := s.Save(ctx, "bid", day1, map[string]Entry{"9": {Impressions: 1, Position: 3}}); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	got, _ = s.Load(ctx, "bid", day1)
	if len(got) != 1 {
		t.Errorf("after replace: got %v", got)
	}

	mr.FastForward(49 * time.Hour)
	if _, err := s.Load(ctx, "bid", day1); !errors.Is(err, ErrNotFound) {
		t.Errorf("after expiry: got %v, want ErrNotFound", err)
	}
}

func TestFileStore_JobsKeptApart(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "position.txt"))
	ctx := context.Background()

	if err := s.Save(ctx, "brand", day1, sampleEntries()); err != nil {
		t.Fatalf("Save brand: %v", err)
	}
	if err := s.Save(ctx, "generic/exact", day1, map[string]Entry{"9": {Impressions: 1, Position: 3}}); err != nil {
		t.Fatalf("Save generic: %v", err)
	}
	got, err := s.Load(ctx, "brand", day1)
	if err != nil || !reflect.DeepEqual(got, sampleEntries()) {
		t.Errorf("brand memo overwritten: %v, %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "position-generic_exact.txt")); err != nil {
		t.Errorf("job id with a slash must stay in the memo dir: %v", err)
	}
	if _, err := s.Load(ctx, "other", day1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load unknown job: got %v, want ErrNotFound", err)
	}
}

func TestRedisStore_JobsKeptApart(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(config.MemoConfig{Addr: mr.Addr(), Prefix: "acct1"})
	defer s.Close()
	ctx := context.Background()

	if err := s.Save(ctx, "a", day1, sampleEntries()); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "b", day1, map[string]Entry{"9": {Impressions: 1, Position: 3}}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(ctx, "a", day1)
	if err != nil || len(got) != 2 {
		t.Errorf("job a after job b saved: %v, %v", got, err)
	}
}

func TestNew(t *testing.T) {
	if s, err := New(config.MemoConfig{Backend: "file", Path: "x"}); err != nil || s == nil {
		t.Errorf("file backend: %v", err)
	}
	if _, err := New(config.MemoConfig{Backend: "etcd"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
