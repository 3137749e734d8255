package pipeline

import (
	"sort"

	"github.com/driftline/ledger/pkg/common"
)

// ConnectedComponents groups keys into clusters connected by edges at or
// above minConfidence. Output is deterministic: members sorted within each
// component, components sorted by their first member.
func ConnectedComponents(keys []string, edges []common.Edge, minConfidence float64) [][]string {
	parent := make(map[string]string, len(keys))
	for _, key := range keys {
		parent[key] = key
	}

	var find func(string) string
	find = func(key string) string {
		if parent[key] != key {
			parent[key] = find(parent[key])
		}
		return parent[key]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			// smaller root wins so the forest is input-order independent
			if rb < ra {
				ra, rb = rb, ra
			}
			parent[rb] = ra
		}
	}

	for _, edge := range edges {
		if edge.Confidence < minConfidence {
			continue
		}
		if _, ok := parent[edge.From]; !ok {
			continue
		}
		if _, ok := parent[edge.To]; !ok {
			continue
		}
		union(edge.From, edge.To)
	}

	groups := make(map[string][]string)
	for _, key := range keys {
		root := find(key)
		groups[root] = append(groups[root], key)
	}

	components := make([][]string, 0, len(groups))
	for _, members := range groups {
		sort.Strings(members)
		components = append(components, members)
	}
	sort.Slice(components, func(i, j int) bool {
		return components[i][0] < components[j][0]
	})
	return components
}

// MergeGroup names one set of duplicate entities and the node that
// survives the merge.
type MergeGroup struct {
	Canonical  string
	Duplicates []string
}

// PlanMerges finds entity nodes sharing a normalized name and picks the
// most-referenced one as canonical, breaking ties on the smaller key so
// replay converges on the same survivor.
func PlanMerges(entities []common.Node) []MergeGroup {
	byName := make(map[string][]common.Node)
	for _, entity := range entities {
		if entity.Kind != common.NodeEntity || entity.NormalizedName == "" {
			continue
		}
		byName[entity.NormalizedName] = append(byName[entity.NormalizedName], entity)
	}

	var plans []MergeGroup
	for _, group := range byName {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if group[i].AccessCount != group[j].AccessCount {
				return group[i].AccessCount > group[j].AccessCount
			}
			return group[i].Key < group[j].Key
		})

		seen := make(map[string]bool, len(group))
		plan := MergeGroup{Canonical: group[0].Key}
		seen[group[0].Key] = true
		for _, dup := range group[1:] {
			if seen[dup.Key] {
				continue
			}
			seen[dup.Key] = true
			plan.Duplicates = append(plan.Duplicates, dup.Key)
		}
		if len(plan.Duplicates) > 0 {
			plans = append(plans, plan)
		}
	}

	sort.Slice(plans, func(i, j int) bool {
		return plans[i].Canonical < plans[j].Canonical
	})
	return plans
}
