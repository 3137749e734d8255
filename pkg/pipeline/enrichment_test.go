package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/driftline/ledger/pkg/ai"
	"github.com/driftline/ledger/pkg/common"
	"github.com/driftline/ledger/pkg/graphstore"
)

func (f *fakeGraph) FindEntityByName(_ context.Context, normalizedName string) (common.Node, error) {
	for _, node := range f.nodes {
		if node.Kind == common.NodeEntity && node.NormalizedName == normalizedName {
			return node, nil
		}
	}
	return common.Node{}, graphstore.ErrNotFound
}

func (f *fakeGraph) GetNode(_ context.Context, key string) (common.Node, error) {
	node, ok := f.nodes[key]
	if !ok {
		return common.Node{}, graphstore.ErrNotFound
	}
	return node, nil
}

func (f *fakeGraph) FindSimilar(_ context.Context, _ []float32, kind common.NodeKind, limit int, _ float64) ([]graphstore.SimilarMatch, error) {
	var out []graphstore.SimilarMatch
	for _, match := range f.similar {
		if match.Kind == kind {
			out = append(out, match)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeGraph) MarkEntityShared(_ context.Context, key string) error {
	f.shared = append(f.shared, key)
	node := f.nodes[key]
	node.ActorID = ""
	f.nodes[key] = node
	return nil
}

type fakeAI struct {
	ai.EnrichmentClient
}

func (fakeAI) GenerateEmbedding(_ context.Context, _ []byte) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func entityNode(key, name, actorID string) common.Node {
	return common.Node{
		Kind:           common.NodeEntity,
		Key:            key,
		Attrs:          map[string]any{"name": name},
		NormalizedName: NormalizeEntityName(name),
		ActorID:        actorID,
	}
}

func TestResolveEntityNameMatchSharesAcrossActors(t *testing.T) {
	graph := newFakeGraph()
	graph.nodes["entity_1"] = entityNode("entity_1", "Acme Corp", "agent-1")
	stage := NewEnrichment(EnrichmentParams{Graph: graph, Client: fakeAI{}})

	record := sessionRecord("a", "s1", 1)
	record.ActorID = "agent-2"

	key, err := stage.resolveEntity(context.Background(), record, common.Reference{Name: "Acme  Corp", Type: "resource"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "entity_1" {
		t.Fatalf("unexpected entity key: %q", key)
	}
	if len(graph.shared) != 1 || graph.shared[0] != "entity_1" {
		t.Fatalf("cross-actor resolution must mark the entity shared: %v", graph.shared)
	}
	if graph.nodes["entity_1"].ActorID != "" {
		t.Fatalf("shared entity kept its actor attribution")
	}
}

func TestResolveEntitySameActorKeepsAttribution(t *testing.T) {
	graph := newFakeGraph()
	graph.nodes["entity_1"] = entityNode("entity_1", "Acme Corp", "agent-1")
	stage := NewEnrichment(EnrichmentParams{Graph: graph, Client: fakeAI{}})

	record := sessionRecord("a", "s1", 1)
	record.ActorID = "agent-1"

	if _, err := stage.resolveEntity(context.Background(), record, common.Reference{Name: "Acme Corp"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(graph.shared) != 0 {
		t.Fatalf("same-actor resolution must not clear attribution: %v", graph.shared)
	}
	if graph.nodes["entity_1"].ActorID != "agent-1" {
		t.Fatalf("attribution lost: %q", graph.nodes["entity_1"].ActorID)
	}
}

func TestResolveEntityEmbeddingMatchSharesAcrossActors(t *testing.T) {
	graph := newFakeGraph()
	graph.nodes["entity_1"] = entityNode("entity_1", "ACME Corporation", "agent-1")
	graph.similar = []graphstore.SimilarMatch{
		{Key: "entity_1", Kind: common.NodeEntity, Distance: 0.05},
	}
	stage := NewEnrichment(EnrichmentParams{Graph: graph, Client: fakeAI{}})

	record := sessionRecord("a", "s1", 1)
	record.ActorID = "agent-2"

	key, err := stage.resolveEntity(context.Background(), record, common.Reference{Name: "Acme Corp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "entity_1" {
		t.Fatalf("expected embedding match, got new entity %q", key)
	}
	if len(graph.shared) != 1 {
		t.Fatalf("cross-actor embedding match must mark the entity shared: %v", graph.shared)
	}
}

func TestResolveEntityCreatesAttributedEntity(t *testing.T) {
	graph := newFakeGraph()
	stage := NewEnrichment(EnrichmentParams{Graph: graph, Client: fakeAI{}})

	record := sessionRecord("a", "s1", 1)
	record.ActorID = "agent-1"

	key, err := stage.resolveEntity(context.Background(), record, common.Reference{Name: "New Thing", Type: "concept"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(key, "entity_") {
		t.Fatalf("unexpected entity key: %q", key)
	}
	node, ok := graph.nodes[key]
	if !ok {
		t.Fatalf("entity node not upserted")
	}
	if node.ActorID != "agent-1" {
		t.Fatalf("fresh entity must carry its creator's actor: %q", node.ActorID)
	}
	if len(graph.shared) != 0 {
		t.Fatalf("fresh entity wrongly marked shared")
	}
}
