package pipeline

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/driftline/ledger/pkg/common"
)

func TestConnectedComponents(t *testing.T) {
	keys := []string{"e1", "e2", "e3", "e4", "e5"}
	edges := []common.Edge{
		{View: common.ViewSimilarTo, From: "e1", To: "e2", Confidence: 0.9},
		{View: common.ViewSimilarTo, From: "e2", To: "e3", Confidence: 0.85},
		{View: common.ViewSimilarTo, From: "e4", To: "e5", Confidence: 0.5},
		{View: common.ViewSimilarTo, From: "e3", To: "e99", Confidence: 0.95},
	}

	got := ConnectedComponents(keys, edges, 0.8)
	want := [][]string{{"e1", "e2", "e3"}, {"e4"}, {"e5"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected components: got %v, want %v", got, want)
	}
}

func TestConnectedComponentsOrderIndependent(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e", "f"}
	edges := []common.Edge{
		{From: "a", To: "b", Confidence: 1},
		{From: "b", To: "c", Confidence: 1},
		{From: "d", To: "e", Confidence: 1},
	}

	want := ConnectedComponents(keys, edges, 0.5)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffledKeys := append([]string(nil), keys...)
		rng.Shuffle(len(shuffledKeys), func(i, j int) {
			shuffledKeys[i], shuffledKeys[j] = shuffledKeys[j], shuffledKeys[i]
		})
		shuffledEdges := append([]common.Edge(nil), edges...)
		rng.Shuffle(len(shuffledEdges), func(i, j int) {
			shuffledEdges[i], shuffledEdges[j] = shuffledEdges[j], shuffledEdges[i]
		})

		got := ConnectedComponents(shuffledKeys, shuffledEdges, 0.5)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("components depend on input order: got %v, want %v", got, want)
		}
	}
}

func TestPlanMerges(t *testing.T) {
	entities := []common.Node{
		{Key: "entity_b", Kind: common.NodeEntity, NormalizedName: "acme corp", AccessCount: 3},
		{Key: "entity_a", Kind: common.NodeEntity, NormalizedName: "acme corp", AccessCount: 7},
		{Key: "entity_c", Kind: common.NodeEntity, NormalizedName: "acme corp", AccessCount: 3},
		{Key: "entity_d", Kind: common.NodeEntity, NormalizedName: "other", AccessCount: 1},
		{Key: "event_x", Kind: common.NodeEvent, NormalizedName: "acme corp"},
	}

	plans := PlanMerges(entities)
	if len(plans) != 1 {
		t.Fatalf("expected one merge group, got %d", len(plans))
	}
	if plans[0].Canonical != "entity_a" {
		t.Fatalf("unexpected canonical: got %q, want %q", plans[0].Canonical, "entity_a")
	}
	if !reflect.DeepEqual(plans[0].Duplicates, []string{"entity_b", "entity_c"}) {
		t.Fatalf("unexpected duplicates: %v", plans[0].Duplicates)
	}
}

func TestPlanMergesTieBreaksOnKey(t *testing.T) {
	entities := []common.Node{
		{Key: "entity_z", Kind: common.NodeEntity, NormalizedName: "widget", AccessCount: 2},
		{Key: "entity_m", Kind: common.NodeEntity, NormalizedName: "widget", AccessCount: 2},
	}

	plans := PlanMerges(entities)
	if len(plans) != 1 || plans[0].Canonical != "entity_m" {
		t.Fatalf("tie must pick the smaller key: %+v", plans)
	}
}

func TestSummaryKeyDeterministic(t *testing.T) {
	members := []string{"rec-1", "rec-2", "rec-3"}

	key := SummaryKey(members)
	if key != SummaryKey(members) {
		t.Fatalf("summary key not stable")
	}
	if key == SummaryKey([]string{"rec-1", "rec-2"}) {
		t.Fatalf("different membership must produce a different key")
	}
	// separator guards against boundary collisions
	if SummaryKey([]string{"ab", "c"}) == SummaryKey([]string{"a", "bc"}) {
		t.Fatalf("member boundaries collide")
	}
	if len(key) != len("summary_")+16 {
		t.Fatalf("unexpected key length: %q", key)
	}
}

func TestNormalizeEntityName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Acme Corp", want: "acme corp"},
		{in: "  ACME   Corp\t", want: "acme corp"},
		{in: "acme corp", want: "acme corp"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		if got := NormalizeEntityName(tt.in); got != tt.want {
			t.Fatalf("unexpected normalization of %q: got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClampImportance(t *testing.T) {
	for _, tt := range []struct{ in, want int }{{-3, 1}, {0, 1}, {1, 1}, {5, 5}, {10, 10}, {42, 10}} {
		if got := clampImportance(tt.in); got != tt.want {
			t.Fatalf("clampImportance(%d): got %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestMeanVector(t *testing.T) {
	if meanVector(nil) != nil {
		t.Fatalf("empty input must yield nil")
	}

	single := []float32{1, 2, 3}
	if !reflect.DeepEqual(meanVector([][]float32{single}), single) {
		t.Fatalf("single vector must pass through")
	}

	got := meanVector([][]float32{{1, 2}, {3, 4}})
	if !reflect.DeepEqual(got, []float32{2, 3}) {
		t.Fatalf("unexpected mean: %v", got)
	}
}
