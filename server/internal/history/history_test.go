package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/adlens/adlens/pkg/types"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func at(job string, ts time.Time, state string) *types.Result {
	return &types.Result{
		JobID:     job,
		Kind:      "budget",
		Timestamp: ts,
		State:     state,
		Summary:   map[string]float64{"total_spend": 12.5},
		Findings:  []types.Finding{{Severity: types.SeverityWarning, Rule: "overspend", Entity: "Brand"}},
	}
}

func TestSaveAndList(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := s.Save(ctx, at("budget-daily", base.Add(time.Duration(i)*time.Hour), types.StateOK)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := s.Save(ctx, at("other", base, types.StateCritical)); err != nil {
		t.Fatal(err)
	}

	got, err := s.List(ctx, "budget-daily", 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List: got %d results, want 2", len(got))
	}
	if !got[0].Timestamp.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("newest first: got %v", got[0].Timestamp)
	}
	if got[0].Summary["total_spend"] != 12.5 || len(got[0].Findings) != 1 {
		t.Errorf("payload round trip: %+v", got[0])
	}

	none, err := s.List(ctx, "missing", 0)
	if err != nil || len(none) != 0 {
		t.Errorf("List unknown job: %v, %v", none, err)
	}
}

func TestPrune(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	_ = s.Save(ctx, at("j", now.Add(-48*time.Hour), types.StateOK))
	_ = s.Save(ctx, at("j", now.Add(-47*time.Hour), types.StateOK))
	_ = s.Save(ctx, at("j", now, types.StateOK))

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Errorf("Prune removed %d, want 2", n)
	}
	left, _ := s.List(ctx, "j", 10)
	if len(left) != 1 {
		t.Errorf("after prune: %d results, want 1", len(left))
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Save(context.Background(), at("j", time.Now(), types.StateOK))
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, _ := s2.List(context.Background(), "j", 0)
	if len(got) != 1 {
		t.Errorf("after reopen: %d results, want 1", len(got))
	}
}
