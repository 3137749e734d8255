package pgx

import (
	"testing"

	"github.com/driftline/ledger/pkg/common"
)

// driveWalk runs the frontier walk against an in-memory adjacency list for
// up to maxDepth levels, the way BoundedTraverse drives it per query batch.
func driveWalk(walk *frontierWalk, edges []common.Edge, maxDepth int) {
	for depth := 0; depth < maxDepth && walk.active(); depth++ {
		inFrontier := make(map[string]bool, len(walk.frontier))
		for _, key := range walk.frontier {
			inFrontier[key] = true
		}
		var batch []common.Edge
		for _, edge := range edges {
			if inFrontier[edge.From] || inFrontier[edge.To] {
				batch = append(batch, edge)
			}
		}
		walk.expand(batch)
	}
}

func chainEdges(keys ...string) []common.Edge {
	var edges []common.Edge
	for i := 1; i < len(keys); i++ {
		edges = append(edges, common.Edge{View: common.ViewFollows, From: keys[i], To: keys[i-1], Confidence: 1})
	}
	return edges
}

func TestFrontierWalkStopsAtMaxDepth(t *testing.T) {
	edges := chainEdges("a", "b", "c", "d", "e")

	walk := newFrontierWalk([]string{"a"}, 100)
	driveWalk(walk, edges, 2)

	// depth 1 reaches b, depth 2 reaches c; d and e are out of range
	if len(walk.collected) != 3 {
		t.Fatalf("unexpected nodes at depth 2: %v", walk.collected)
	}
	for _, key := range walk.collected {
		if key == "d" || key == "e" {
			t.Fatalf("node %q beyond max depth was collected", key)
		}
	}
	if walk.truncated {
		t.Fatalf("depth exhaustion is a complete result, not a truncation")
	}
}

func TestFrontierWalkTruncatesAtMaxNodes(t *testing.T) {
	// star topology: one hub with ten spokes
	var edges []common.Edge
	spokes := []string{"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9"}
	for _, spoke := range spokes {
		edges = append(edges, common.Edge{View: common.ViewSimilarTo, From: "hub", To: spoke, Confidence: 1})
	}

	walk := newFrontierWalk([]string{"hub"}, 4)
	driveWalk(walk, edges, 5)

	if !walk.truncated {
		t.Fatalf("hitting max nodes must set truncated")
	}
	if len(walk.collected) != 4 {
		t.Fatalf("node bound exceeded: got %d nodes, want 4", len(walk.collected))
	}
	// every kept edge must have both endpoints in the subgraph
	inSubgraph := make(map[string]bool, len(walk.collected))
	for _, key := range walk.collected {
		inSubgraph[key] = true
	}
	for _, edge := range walk.edges {
		if !inSubgraph[edge.From] || !inSubgraph[edge.To] {
			t.Fatalf("edge %s -> %s leaves the subgraph", edge.From, edge.To)
		}
	}
}

func TestFrontierWalkTruncatesEntryPoints(t *testing.T) {
	walk := newFrontierWalk([]string{"a", "b", "c"}, 2)

	if !walk.truncated {
		t.Fatalf("more entry points than max nodes must truncate")
	}
	if len(walk.collected) != 2 {
		t.Fatalf("unexpected entry node count: %v", walk.collected)
	}
}

func TestFrontierWalkDeduplicates(t *testing.T) {
	edges := []common.Edge{
		{View: common.ViewSimilarTo, From: "a", To: "b", Confidence: 1},
		{View: common.ViewSimilarTo, From: "a", To: "b", Confidence: 1},
		{View: common.ViewCausedBy, From: "b", To: "a", Confidence: 1},
	}

	walk := newFrontierWalk([]string{"a", "a"}, 100)
	if len(walk.collected) != 1 {
		t.Fatalf("duplicate entry points collected twice: %v", walk.collected)
	}

	driveWalk(walk, edges, 3)

	if len(walk.collected) != 2 {
		t.Fatalf("unexpected nodes: %v", walk.collected)
	}
	// the duplicate SIMILAR_TO row collapses; the CAUSED_BY edge is distinct
	if len(walk.edges) != 2 {
		t.Fatalf("unexpected kept edges: %v", walk.edges)
	}
}

func TestFrontierWalkGoesIdleOnEmptyFrontier(t *testing.T) {
	walk := newFrontierWalk([]string{"lonely"}, 100)
	driveWalk(walk, nil, 10)

	if walk.active() {
		t.Fatalf("walk with no edges must go inactive")
	}
	if walk.truncated {
		t.Fatalf("isolated entry point is a complete result")
	}
	if len(walk.collected) != 1 {
		t.Fatalf("unexpected nodes: %v", walk.collected)
	}
}
