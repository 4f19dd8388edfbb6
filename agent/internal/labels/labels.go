// Package labels propagates labels up the account tree: an ad group gets a
// label when any (or all) of its keywords or ads carry it, and a campaign
// likewise from its ad groups.
package labels

import (
	"sort"
	"strings"

	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/agent/internal/report"
	"github.com/adlens/adlens/pkg/types"
)

// Change fields emitted by Propagate.
const (
	FieldAdd    = "label_add"
	FieldRemove = "label_remove"
)

type node struct {
	id, name string
	has      map[string]bool // labels the entity carries now
	children []*node
	leaf     report.Row
	isLeaf   bool
}

func (n *node) carries(label string) bool {
	if n.isLeaf {
		return n.leaf.HasLabel(label)
	}
	return n.has[strings.ToLower(label)]
}

// Result is the outcome of Propagate.
type Result struct {
	Changes []types.Change
	// Qualified counts, per label, the parents that qualify.
	Qualified map[string]int
}

// Propagate computes the label changes for child rows (keywords or ads).
// Parent labels are read from the rows' AdGroupLabels and CampaignLabels.
// Campaign qualification uses the ad groups' labels after propagation.
func Propagate(rows []report.Row, opts config.LabelsOptions) Result {
	campaigns, order := buildTree(rows)
	res := Result{Qualified: make(map[string]int)}
	for _, ck := range order {
		c := campaigns[ck]
		for _, label := range opts.Labels {
			for _, g := range c.children {
				res.apply(g, label, qualifies(g.children, label, opts.Mode), opts.RemoveStale, report.EntityAdGroup)
			}
			res.apply(c, label, qualifies(c.children, label, opts.Mode), opts.RemoveStale, report.EntityCampaign)
		}
	}
	return res
}

func (res *Result) apply(n *node, label string, ok, removeStale bool, e report.EntityType) {
	key := strings.ToLower(label)
	switch {
	case ok:
		res.Qualified[label]++
		if n.has[key] {
			return
		}
		n.has[key] = true
		res.Changes = append(res.Changes, types.Change{EntityType: e.String(), EntityID: n.id, Entity: n.name, Field: FieldAdd, New: label})
	case n.has[key] && removeStale:
		delete(n.has, key)
		res.Changes = append(res.Changes, types.Change{EntityType: e.String(), EntityID: n.id, Entity: n.name, Field: FieldRemove, Old: label})
	}
}

func qualifies(children []*node, label, mode string) bool {
	if len(children) == 0 {
		return false
	}
	n := 0
	for _, c := range children {
		if c.carries(label) {
			n++
		}
	}
	if mode == "all" {
		return n == len(children)
	}
	return n > 0
}

// buildTree groups rows into campaign -> ad group -> leaf nodes, returning
// campaigns keyed and a sorted key order.
func buildTree(rows []report.Row) (map[string]*node, []string) {
	campaigns := make(map[string]*node)
	groups := make(map[string]*node)
	for _, r := range rows {
		ck := report.EntityCampaign.Key(r)
		c, ok := campaigns[ck]
		if !ok {
			c = &node{id: r.CampaignID, name: r.CampaignName, has: make(map[string]bool)}
			campaigns[ck] = c
		}
		for _, l := range r.CampaignLabels {
			c.has[strings.ToLower(l)] = true
		}
		gk := ck + "\x00" + report.EntityAdGroup.Key(r)
		g, ok := groups[gk]
		if !ok {
			g = &node{id: r.AdGroupID, name: report.EntityAdGroup.Name(r), has: make(map[string]bool)}
			groups[gk] = g
			c.children = append(c.children, g)
		}
		for _, l := range r.AdGroupLabels {
			g.has[strings.ToLower(l)] = true
		}
		g.children = append(g.children, &node{leaf: r, isLeaf: true})
	}
	order := make([]string, 0, len(campaigns))
	for k := range campaigns {
		order = append(order, k)
	}
	sort.Strings(order)
	return campaigns, order
}
