package ngram

import (
	"fmt"
	"sort"

	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/agent/internal/report"
	"github.com/adlens/adlens/pkg/types"
)

// Stats are the summed metrics of the queries containing a gram.
type Stats struct {
	Impressions     int64   `json:"impressions"`
	Clicks          int64   `json:"clicks"`
	Cost            float64 `json:"cost"`
	Conversions     float64 `json:"conversions"`
	ConversionValue float64 `json:"conversion_value"`
	Queries         int     `json:"queries"`
}

func (s *Stats) add(r report.Row) {
	s.Impressions += r.Impressions
	s.Clicks += r.Clicks
	s.Cost += r.Cost
	s.Conversions += r.Conversions
	s.ConversionValue += r.ConversionValue
	s.Queries++
}

// CTR is clicks per impression.
func (s Stats) CTR() float64 { return ratio(float64(s.Clicks), float64(s.Impressions)) }

// CPC is cost per click.
func (s Stats) CPC() float64 { return ratio(s.Cost, float64(s.Clicks)) }

// CPA is cost per conversion. It is 0 when there are no conversions.
func (s Stats) CPA() float64 { return ratio(s.Cost, s.Conversions) }

// ConversionRate is conversions per click.
func (s Stats) ConversionRate() float64 { return ratio(s.Conversions, float64(s.Clicks)) }

// ROAS is conversion value per cost.
func (s Stats) ROAS() float64 { return ratio(s.ConversionValue, s.Cost) }

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// Gram is one aggregated n-gram. Campaign is empty unless the miner splits
// by campaign.
type Gram struct {
	Text     string `json:"text"`
	N        int    `json:"n"`
	Campaign string `json:"campaign,omitempty"`
	Stats
}

type gramKey struct {
	campaign string
	text     string
}

// Miner accumulates search query rows into n-gram statistics.
type Miner struct {
	maxN           int
	minImpressions int64
	perCampaign    bool

	grams map[gramKey]*Gram
	rows  int
}

// NewMiner returns a Miner configured from opts.
func NewMiner(opts config.NGramOptions) *Miner {
	maxN := opts.MaxN
	if maxN < 1 {
		maxN = 1
	}
	return &Miner{
		maxN:           maxN,
		minImpressions: opts.MinImpressions,
		perCampaign:    opts.PerCampaign,
		grams:          make(map[gramKey]*Gram),
	}
}

// Add folds one report row into the statistics. Rows without a query are
// ignored.
func (m *Miner) Add(r report.Row) {
	if r.Query == "" {
		return
	}
	m.rows++
	campaign := ""
	if m.perCampaign {
		campaign = r.CampaignName
	}
	for n := 1; n <= m.maxN; n++ {
		for _, text := range Extract(r.Query, n) {
			k := gramKey{campaign: campaign, text: text}
			g, ok := m.grams[k]
			if !ok {
				g = &Gram{Text: text, N: n, Campaign: campaign}
				m.grams[k] = g
			}
			g.add(r)
		}
	}
}

// Rows returns the number of queries added.
func (m *Miner) Rows() int { return m.rows }

// Grams returns every gram with at least MinImpressions impressions, ordered
// by campaign then text.
func (m *Miner) Grams() []Gram {
	out := make([]Gram, 0, len(m.grams))
	for _, g := range m.grams {
		if g.Impressions < m.minImpressions {
			continue
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Campaign != out[j].Campaign {
			return out[i].Campaign < out[j].Campaign
		}
		return out[i].Text < out[j].Text
	})
	return out
}

// Top returns the n grams ranking highest by sortBy (cost, impressions,
// clicks, conversions, ctr, or cpa where lower is better and grams without
// conversions rank last). Ties are broken by text. n <= 0 returns all.
func Top(grams []Gram, n int, sortBy string) []Gram {
	sorted := make([]Gram, len(grams))
	copy(sorted, grams)
	key := sortKey(sortBy)
	sort.SliceStable(sorted, func(i, j int) bool {
		ki, kj := key(sorted[i]), key(sorted[j])
		if ki != kj {
			return ki > kj
		}
		return sorted[i].Text < sorted[j].Text
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func sortKey(sortBy string) func(Gram) float64 {
	switch sortBy {
	case "impressions":
		return func(g Gram) float64 { return float64(g.Impressions) }
	case "clicks":
		return func(g Gram) float64 { return float64(g.Clicks) }
	case "conversions":
		return func(g Gram) float64 { return g.Conversions }
	case "ctr":
		return func(g Gram) float64 { return g.CTR() }
	case "cpa":
		return func(g Gram) float64 {
			if g.Conversions == 0 {
				return -1 << 62
			}
			return -g.CPA()
		}
	default:
		return func(g Gram) float64 { return g.Cost }
	}
}

// Findings flags grams that spent at least costThreshold without a
// conversion (negative keyword candidates) and grams whose CPA exceeds
// targetCPA. A zero threshold or target disables the rule.
func Findings(grams []Gram, costThreshold, targetCPA float64) []types.Finding {
	var out []types.Finding
	for _, g := range grams {
		entity := g.Text
		if g.Campaign != "" {
			entity = g.Campaign + " > " + g.Text
		}
		switch {
		case costThreshold > 0 && g.Conversions == 0 && g.Cost >= costThreshold:
			out = append(out, types.Finding{
				Severity: types.SeverityWarning,
				Entity:   entity,
				Rule:     "negative_keyword_candidate",
				Message:  fmt.Sprintf("%q spent %.2f over %d queries without a conversion", g.Text, g.Cost, g.Queries),
				Value:    g.Cost,
			})
		case targetCPA > 0 && g.Conversions > 0 && g.CPA() > targetCPA:
			out = append(out, types.Finding{
				Severity: types.SeverityInfo,
				Entity:   entity,
				Rule:     "cpa_above_target",
				Message:  fmt.Sprintf("%q CPA %.2f exceeds target %.2f", g.Text, g.CPA(), targetCPA),
				Value:    g.CPA(),
			})
		}
	}
	return out
}

// Summary returns headline totals for a mining run.
func Summary(m *Miner, grams []Gram) map[string]float64 {
	sum := map[string]float64{
		"queries": float64(m.Rows()),
		"grams":   float64(len(grams)),
	}
	for n := 1; n <= m.maxN; n++ {
		count := 0
		for _, g := range grams {
			if g.N == n {
				count++
			}
		}
		sum[fmt.Sprintf("grams_%d", n)] = float64(count)
	}
	return sum
}
