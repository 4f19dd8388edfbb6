package heatmap

import (
	"sort"
	"strconv"

	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/agent/internal/report"
	"github.com/adlens/adlens/pkg/types"
)

// Campaign is the heat map analysis of one campaign.
type Campaign struct {
	ID      string
	Name    string
	Grid    Grid
	Windows []Window
}

// Analyze builds, smooths and schedules a heat map per campaign. skipped
// counts rows that lacked a day or hour.
func Analyze(rows []report.Row, opts config.HeatmapOptions) (campaigns []Campaign, skipped int, err error) {
	byCampaign := make(map[string][]report.Row)
	names := make(map[string]report.Row)
	for _, r := range rows {
		k := report.EntityCampaign.Key(r)
		byCampaign[k] = append(byCampaign[k], r)
		names[k] = r
	}
	keys := make([]string, 0, len(byCampaign))
	for k := range byCampaign {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		g, s, err := Build(byCampaign[k], opts.Metric)
		if err != nil {
			return nil, 0, err
		}
		skipped += s
		mods := Modifiers(Smooth(g, opts.Window), opts.MinModifier, opts.MaxModifier)
		campaigns = append(campaigns, Campaign{
			ID:      names[k].CampaignID,
			Name:    names[k].CampaignName,
			Grid:    g,
			Windows: Schedule(mods),
		})
	}
	return campaigns, skipped, nil
}

// Changes returns one ad schedule change per window of c.
func Changes(c Campaign) []types.Change {
	out := make([]types.Change, 0, len(c.Windows))
	for _, w := range c.Windows {
		out = append(out, types.Change{
			EntityType: report.EntityCampaign.String(),
			EntityID:   c.ID,
			Entity:     c.Name,
			Field:      "ad_schedule " + w.String(),
			New:        strconv.FormatFloat(w.Modifier, 'f', 2, 64),
		})
	}
	return out
}
