// Package bidding adjusts keyword max CPC bids toward a target average
// position and applies proposed changes in quota-sized batches.
//
// Report averages are cumulative for the day. To react to the last hour
// only, each run stores impressions and position per keyword in a memo and
// the next run recovers the hourly position from the difference:
//
//	pos_h = (pos*imp - pos_prev*imp_prev) / (imp - imp_prev)
package bidding

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/agent/internal/memo"
	"github.com/adlens/adlens/agent/internal/report"
	"github.com/adlens/adlens/pkg/types"
)

// HourlyPosition returns the average position of the impressions served
// since prev was recorded. Without new impressions, or without a memo, the
// cumulative position is returned.
func HourlyPosition(cur, prev memo.Entry, havePrev bool) float64 {
	if !havePrev || cur.Impressions <= prev.Impressions {
		return cur.Position
	}
	imp := float64(cur.Impressions)
	impPrev := float64(prev.Impressions)
	pos := (cur.Position*imp - prev.Position*impPrev) / (imp - impPrev)
	if pos < 1 || math.IsNaN(pos) {
		// Rounding in the report can push the difference below 1.
		return 1
	}
	return pos
}

// Decide returns the bid for a keyword at position. A position worse than
// target+tolerance raises the bid by BidUpPct, better than target-tolerance
// lowers it by BidDownPct. The result is clamped to [MinBid, MaxBid] and
// rounded to the cent; ok is false when the bid moves by less than a cent.
func Decide(opts config.PositionBidOptions, bid, position float64) (newBid float64, ok bool) {
	if position <= 0 {
		return bid, false
	}
	newBid = bid
	switch {
	case position > opts.TargetPosition+opts.Tolerance:
		newBid = bid * (1 + opts.BidUpPct/100)
	case position < opts.TargetPosition-opts.Tolerance:
		newBid = bid * (1 - opts.BidDownPct/100)
	}
	newBid = math.Round(math.Min(math.Max(newBid, opts.MinBid), opts.MaxBid)*100) / 100
	if math.Abs(newBid-bid) < 0.01-1e-9 {
		return bid, false
	}
	return newBid, true
}

// Plan is the outcome of one position bidding run.
type Plan struct {
	Changes []types.Change
	// Memo is the state to persist for the next run.
	Memo map[string]memo.Entry
	// Positions maps keyword key to the hourly position used.
	Positions map[string]float64
	// Pinned lists keywords still below target with the bid at MaxBid.
	Pinned  []Pin
	Raised  int
	Lowered int
	Skipped int
}

// Pin is a keyword that cannot be raised any further.
type Pin struct {
	Entity   string
	Bid      float64
	Position float64
}

// Build computes bid changes for keyword rows. Rows are keyed by
// report.EntityKeyword.Key, so the same criterion ID in two ad groups stays
// two keywords; a keyword appearing in several rows (e.g. one per device)
// is aggregated with an impression-weighted position. Rows without
// impressions or a current bid are skipped.
func Build(rows []report.Row, prev map[string]memo.Entry, opts config.PositionBidOptions) Plan {
	type agg struct {
		row      report.Row
		imp      int64
		posTotal float64
	}
	byKey := make(map[string]*agg)
	for _, r := range rows {
		k := report.EntityKeyword.Key(r)
		a, ok := byKey[k]
		if !ok {
			a = &agg{row: r}
			byKey[k] = a
		}
		a.imp += r.Impressions
		a.posTotal += r.AvgPosition * float64(r.Impressions)
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := Plan{Memo: make(map[string]memo.Entry, len(keys)), Positions: make(map[string]float64)}
	for _, k := range keys {
		a := byKey[k]
		if a.imp == 0 {
			p.Skipped++
			continue
		}
		cur := memo.Entry{Impressions: a.imp, Position: a.posTotal / float64(a.imp)}
		p.Memo[k] = cur
		if a.row.MaxCPC <= 0 {
			p.Skipped++
			continue
		}
		before, had := prev[k]
		pos := HourlyPosition(cur, before, had)
		p.Positions[k] = pos
		newBid, ok := Decide(opts, a.row.MaxCPC, pos)
		if pos > opts.TargetPosition+opts.Tolerance && newBid >= opts.MaxBid-1e-9 {
			p.Pinned = append(p.Pinned, Pin{Entity: report.EntityKeyword.Name(a.row), Bid: newBid, Position: pos})
		}
		if !ok {
			continue
		}
		if newBid > a.row.MaxCPC {
			p.Raised++
		} else {
			p.Lowered++
		}
		p.Changes = append(p.Changes, types.Change{
			EntityType: report.EntityKeyword.String(),
			EntityID:   a.row.KeywordID,
			ParentID:   a.row.AdGroupID,
			Entity:     report.EntityKeyword.Name(a.row),
			Field:      "max_cpc",
			Old:        formatBid(a.row.MaxCPC),
			New:        formatBid(newBid),
		})
	}
	return p
}

// Findings reports keywords pinned at MaxBid while still below target,
// whether this run raised them to the cap or they already sat there.
func (p Plan) Findings(opts config.PositionBidOptions) []types.Finding {
	var out []types.Finding
	for _, pin := range p.Pinned {
		msg := fmt.Sprintf("bid capped at %.2f at position %.1f, target %.1f", opts.MaxBid, pin.Position, opts.TargetPosition)
		out = append(out, types.Finding{
			Severity: types.SeverityWarning,
			Entity:   pin.Entity,
			Rule:     "bid_at_max",
			Message:  msg,
			Value:    pin.Bid,
		})
	}
	return out
}

func formatBid(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
