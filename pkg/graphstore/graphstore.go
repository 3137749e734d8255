package graphstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/driftline/ledger/pkg/common"
)

var (
	// ErrNotFound is returned when a node key does not exist.
	ErrNotFound = errors.New("graph node not found")
	// ErrConsistency is returned when an edge write violates its view's
	// endpoint-kind constraint. The write is rejected; nothing is
	// corrupted and the surrounding batch continues.
	ErrConsistency = errors.New("edge endpoint violates view constraint")
)

// TraverseParams bounds one traversal request. Every bound is a hard
// limit: hitting one returns a partial subgraph with Truncated set instead
// of an error, so one query can never starve the pipeline workers.
type TraverseParams struct {
	EntryPoints []string
	Views       []common.View
	MaxDepth    int
	MaxNodes    int
	Timeout     time.Duration
}

// SimilarMatch is one nearest-neighbour hit from the embedding index.
type SimilarMatch struct {
	Key      string
	Kind     common.NodeKind
	Distance float64
}

// RetentionInput carries the stored inputs the retention scorer recomputes
// from. Scores themselves are never persisted as source of truth.
type RetentionInput struct {
	Key         string
	Kind        common.NodeKind
	CreatedAt   time.Time
	LastAccess  time.Time
	AccessCount int
	Stability   float64
	Importance  int
}

// GraphStorage is the derived, rebuildable multi-view property graph. It
// is mutated only by the consolidation pipeline and the retention pruner;
// query paths read committed state and never write. A full wipe plus
// replay of the ledger reconstructs an equivalent graph.
type GraphStorage interface {
	UpsertNode(ctx context.Context, node common.Node) error
	UpsertEdge(ctx context.Context, edge common.Edge) error
	GetNode(ctx context.Context, key string) (common.Node, error)

	// SetEnrichment attaches (or, with an empty enrichment, clears) the
	// payload-derived attributes and embedding of an event node.
	SetEnrichment(ctx context.Context, key string, enrichment common.Enrichment, embedding []float32) error

	BoundedTraverse(ctx context.Context, params TraverseParams) (common.Subgraph, error)
	SessionEvents(ctx context.Context, correlationID string, limit int) ([]common.Node, error)
	Lineage(ctx context.Context, recordID string, maxDepth int) (common.Subgraph, error)

	// PreviousEvent returns the key of the latest event node in the
	// correlation strictly before the given ledger position, or "" when
	// the record opens its session. Deterministic under replay.
	PreviousEvent(ctx context.Context, correlationID string, beforePosition int64) (string, error)

	// FindSimilar returns nodes of the given kind within maxDistance of
	// the embedding, nearest first.
	FindSimilar(ctx context.Context, embedding []float32, kind common.NodeKind, limit int, maxDistance float64) ([]SimilarMatch, error)
	// FindEntityByName resolves an entity node by normalized name.
	FindEntityByName(ctx context.Context, normalizedName string) (common.Node, error)
	// MergeEntities repoints every edge of the duplicate entities onto the
	// canonical one and deletes the duplicates.
	MergeEntities(ctx context.Context, canonicalKey string, duplicateKeys []string) error
	// MarkEntityShared clears an entity's actor attribution once records of
	// more than one actor resolve onto it. A shared entity survives every
	// actor tombstone.
	MarkEntityShared(ctx context.Context, key string) error

	// TouchNodes reinforces nodes on access: bumps last_access and
	// access_count and grows stability monotonically.
	TouchNodes(ctx context.Context, keys []string) error
	RetentionInputs(ctx context.Context, batchSize int, offset int) ([]RetentionInput, error)
	SetTiers(ctx context.Context, tiers map[string]common.Tier) error
	PruneArchived(ctx context.Context) (int64, error)

	// OrphanedDerived finds entity/summary nodes no longer reachable from
	// any event node, for stage 3 to repair or remove.
	OrphanedDerived(ctx context.Context, limit int) ([]string, error)

	// RecentEventKeys returns event node keys with ledger position greater
	// than after, for cross-session consolidation scans.
	RecentEventKeys(ctx context.Context, after int64, limit int) ([]string, error)
	// EdgesAmong returns all edges of the given views whose endpoints both
	// fall inside keys.
	EdgesAmong(ctx context.Context, keys []string, views []common.View) ([]common.Edge, error)

	TombstoneActor(ctx context.Context, actorID string) (int64, error)
	Wipe(ctx context.Context) error
}

// endpointKinds lists the allowed (from, to) kind pairs per view.
var endpointKinds = map[common.View][][2]common.NodeKind{
	common.ViewFollows:  {{common.NodeEvent, common.NodeEvent}},
	common.ViewCausedBy: {{common.NodeEvent, common.NodeEvent}},
	common.ViewSimilarTo: {
		{common.NodeEvent, common.NodeEvent},
		{common.NodeEvent, common.NodeEntity},
		{common.NodeEntity, common.NodeEvent},
		{common.NodeEntity, common.NodeEntity},
	},
	common.ViewReferences: {{common.NodeEvent, common.NodeEntity}},
	common.ViewSummarizes: {
		{common.NodeSummary, common.NodeEvent},
		{common.NodeSummary, common.NodeSummary},
	},
}

// CheckEndpoints validates an edge's endpoint kinds against its view.
// Implementations call it after resolving both endpoint nodes; a non-nil
// result wraps ErrConsistency.
func CheckEndpoints(view common.View, from, to common.NodeKind) error {
	allowed, ok := endpointKinds[view]
	if !ok {
		return fmt.Errorf("%w: unknown view %q", ErrConsistency, view)
	}
	for _, pair := range allowed {
		if pair[0] == from && pair[1] == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot connect %s to %s", ErrConsistency, view, from, to)
}

// NormalizePair returns the canonical endpoint order for undirected views,
// so SIMILAR_TO(a,b) and SIMILAR_TO(b,a) share one upsert key. Directed
// views pass through unchanged.
func NormalizePair(view common.View, from, to string) (string, string) {
	if view != common.ViewSimilarTo {
		return from, to
	}
	if strings.Compare(from, to) > 0 {
		return to, from
	}
	return from, to
}
