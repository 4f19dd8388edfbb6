// Package holiday pauses campaigns on the day before a listed holiday and
// re-enables them otherwise.
//
// The run is meant for the evening before: it checks whether tomorrow, in
// the account time zone, is on the list.
package holiday

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/agent/internal/report"
	"github.com/adlens/adlens/pkg/types"
)

// Campaign statuses written by Plan.
const (
	StatusPaused  = "paused"
	StatusEnabled = "enabled"
)

var dateLayouts = []string{"2006/01/02", "2006-01-02", "2006/1/2", "20060102"}

// List is a set of holiday dates.
type List map[string]bool

func dayKey(t time.Time) string { return t.Format("2006-01-02") }

// Has reports whether day's calendar date is listed.
func (l List) Has(day time.Time) bool { return l[dayKey(day)] }

// LoadList reads the dates in column (1-based) of the CSV file at path.
// Cells that are not dates, such as the header, are ignored.
func LoadList(path string, column int) (List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("holiday: %w", err)
	}
	defer f.Close()
	return ReadList(f, column)
}

// ReadList is LoadList over a reader.
func ReadList(r io.Reader, column int) (List, error) {
	if column < 1 {
		return nil, fmt.Errorf("holiday: column %d out of range", column)
	}
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(transform.Nop)))
	cr.FieldsPerRecord = -1
	list := make(List)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return list, nil
		}
		if err != nil {
			return nil, fmt.Errorf("holiday: read list: %w", err)
		}
		if len(rec) < column {
			continue
		}
		if d, ok := parseDate(rec[column-1]); ok {
			list[dayKey(d)] = true
		}
	}
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Decision is the outcome of Plan.
type Decision struct {
	Tomorrow string
	Holiday  bool
	Changes  []types.Change
}

// Plan decides tomorrow's status for the target campaigns. Campaigns come
// from rows (removed ones are skipped) and are narrowed to opts.Campaigns by
// exact name when that list is set. Without rows, opts.Campaigns are used
// as is. Campaigns already in the wanted status get no change.
func Plan(list List, rows []report.Row, opts config.HolidayOptions, now time.Time) Decision {
	tomorrow := now.AddDate(0, 0, 1)
	d := Decision{Tomorrow: dayKey(tomorrow), Holiday: list.Has(tomorrow)}
	want := StatusEnabled
	if d.Holiday {
		want = StatusPaused
	}

	targets := make(map[string]bool, len(opts.Campaigns))
	for _, name := range opts.Campaigns {
		targets[name] = true
	}

	if len(rows) == 0 {
		for _, name := range opts.Campaigns {
			d.Changes = append(d.Changes, statusChange("", name, "", want))
		}
		return d
	}

	seen := make(map[string]bool)
	for _, r := range rows {
		k := report.EntityCampaign.Key(r)
		if seen[k] {
			continue
		}
		seen[k] = true
		status := strings.ToLower(r.Status)
		if status == "removed" {
			continue
		}
		if len(targets) > 0 && !targets[r.CampaignName] {
			continue
		}
		if status == want {
			continue
		}
		d.Changes = append(d.Changes, statusChange(r.CampaignID, r.CampaignName, status, want))
	}
	return d
}

func statusChange(id, name, old, want string) types.Change {
	return types.Change{
		EntityType: report.EntityCampaign.String(),
		EntityID:   id,
		Entity:     name,
		Field:      "status",
		Old:        old,
		New:        want,
	}
}
