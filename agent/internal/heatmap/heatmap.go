// Package heatmap builds day-of-week by hour-of-day heat maps from report
// rows and turns them into ad schedule bid modifiers.
//
// The week is treated as one ring of 168 hours: smoothing at Saturday 23:00
// reads Sunday 00:00 and Sunday 23:00 runs into Monday 00:00.
package heatmap

import (
	"fmt"
	"math"
	"time"

	"github.com/adlens/adlens/agent/internal/report"
)

const hoursPerWeek = 7 * 24

// Grid holds one metric per weekday (indexed by time.Weekday) and hour.
type Grid [7][24]float64

func (g *Grid) at(i int) *float64 {
	i = ((i % hoursPerWeek) + hoursPerWeek) % hoursPerWeek
	return &g[i/24][i%24]
}

// Sum returns the total over all cells.
func (g Grid) Sum() float64 {
	var s float64
	for d := range g {
		for h := range g[d] {
			s += g[d][h]
		}
	}
	return s
}

// Build aggregates rows into a grid of metric. Rows lacking a day of week or
// an hour are not placed and are counted in the second return value.
// Ratio metrics (ctr, conversion_rate) are computed per cell from summed
// numerators and denominators.
func Build(rows []report.Row, metric string) (Grid, int, error) {
	num, den, err := metricParts(metric)
	if err != nil {
		return Grid{}, 0, err
	}
	var sums, dens Grid
	skipped := 0
	for _, r := range rows {
		if !r.HasDayOfWeek || !r.HasHour {
			skipped++
			continue
		}
		sums[r.DayOfWeek][r.Hour] += num(r)
		if den != nil {
			dens[r.DayOfWeek][r.Hour] += den(r)
		}
	}
	if den == nil {
		return sums, skipped, nil
	}
	var g Grid
	for d := range g {
		for h := range g[d] {
			if dens[d][h] > 0 {
				g[d][h] = sums[d][h] / dens[d][h]
			}
		}
	}
	return g, skipped, nil
}

type rowValue func(report.Row) float64

func metricParts(metric string) (num, den rowValue, err error) {
	impressions := func(r report.Row) float64 { return float64(r.Impressions) }
	clicks := func(r report.Row) float64 { return float64(r.Clicks) }
	conversions := func(r report.Row) float64 { return r.Conversions }
	switch metric {
	case "impressions":
		return impressions, nil, nil
	case "clicks":
		return clicks, nil, nil
	case "conversions":
		return conversions, nil, nil
	case "cost":
		return func(r report.Row) float64 { return r.Cost }, nil, nil
	case "ctr":
		return clicks, impressions, nil
	case "conversion_rate":
		return conversions, clicks, nil
	default:
		return nil, nil, fmt.Errorf("heatmap: unknown metric %q", metric)
	}
}

// Smooth returns the centred moving average of g over window hours. The
// window wraps around the end of the week. A window below 2 returns g
// unchanged; an even window is widened by one.
func Smooth(g Grid, window int) Grid {
	if window < 2 {
		return g
	}
	half := window / 2
	var out Grid
	for i := 0; i < hoursPerWeek; i++ {
		var s float64
		for k := -half; k <= half; k++ {
			s += *g.at(i + k)
		}
		*out.at(i) = s / float64(2*half+1)
	}
	return out
}

// Modifiers scales each cell by the mean of the non-zero cells, clamps the
// result to [lo, hi] and rounds to two decimals. A grid without any
// non-zero cell yields 1.0 everywhere.
func Modifiers(g Grid, lo, hi float64) Grid {
	var sum float64
	n := 0
	for d := range g {
		for h := range g[d] {
			if g[d][h] > 0 {
				sum += g[d][h]
				n++
			}
		}
	}
	var out Grid
	if n == 0 {
		for d := range out {
			for h := range out[d] {
				out[d][h] = 1
			}
		}
		return out
	}
	mean := sum / float64(n)
	for d := range g {
		for h := range g[d] {
			out[d][h] = round2(clamp(g[d][h]/mean, lo, hi))
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Window is one ad schedule entry: Day from StartHour (inclusive) to
// EndHour (exclusive, at most 24) at Modifier.
type Window struct {
	Day       time.Weekday `json:"day"`
	StartHour int          `json:"start_hour"`
	EndHour   int          `json:"end_hour"`
	Modifier  float64      `json:"modifier"`
}

func (w Window) String() string {
	return fmt.Sprintf("%s %02d:00-%02d:00", w.Day, w.StartHour, w.EndHour)
}

// Schedule merges consecutive hours of a day that share a modifier into
// windows, ordered by day then start hour. Windows never cross midnight.
func Schedule(mods Grid) []Window {
	var out []Window
	for d := range mods {
		start := 0
		for h := 1; h <= 24; h++ {
			if h < 24 && mods[d][h] == mods[d][start] {
				continue
			}
			out = append(out, Window{Day: time.Weekday(d), StartHour: start, EndHour: h, Modifier: mods[d][start]})
			start = h
		}
	}
	return out
}
