package common

import (
	"encoding/json"
	"time"
)

// Record is one immutable fact appended to the ledger. It is the unit of
// ingestion: producers supply every field except GlobalPosition and
// AcceptedAt, which the ledger assigns exactly once at accept time.
//
// A record is never updated after acceptance. The payload itself lives in
// the payload store and is referenced by an opaque locator, so the envelope
// can outlive an erased payload.
type Record struct {
	RecordID       string          `json:"record_id"`
	RecordType     string          `json:"record_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"`
	CorrelationID  string          `json:"correlation_id"`
	ActorID        string          `json:"actor_id"`
	TraceID        string          `json:"trace_id,omitempty"`
	PayloadLocator string          `json:"payload_locator,omitempty"`
	ParentRecordID string          `json:"parent_record_id,omitempty"`
	Status         string          `json:"status,omitempty"`
	SchemaVersion  int             `json:"schema_version"`
	ImportanceHint int             `json:"importance_hint,omitempty"`
	GlobalPosition int64           `json:"global_position,omitempty"`
	AcceptedAt     time.Time       `json:"accepted_at,omitempty"`
	Raw            json.RawMessage `json:"-"`
}

// AppendOutcome reports what happened to a single record during append.
// Duplicate is a successful no-op, not an error; Position always carries
// the position of the originally accepted record.
type AppendOutcome struct {
	RecordID  string `json:"record_id"`
	Duplicate bool   `json:"duplicate"`
	Position  int64  `json:"global_position"`
}

// NodeKind discriminates the three node kinds sharing the graph's node set.
type NodeKind string

const (
	// NodeEvent is the 1:1 projection of a ledger record.
	NodeEvent NodeKind = "event"
	// NodeEntity is a resolved real-world referent (actor, tool, resource,
	// concept), deduplicated across records.
	NodeEntity NodeKind = "entity"
	// NodeSummary is a derived aggregate over a cluster of event nodes.
	NodeSummary NodeKind = "summary"
)

// View names one of the five independently queryable edge collections over
// the shared node set. Endpoint kinds are constrained per view; the graph
// store rejects a write that violates them.
type View string

const (
	// ViewFollows orders event nodes within one correlation, immutable
	// once written.
	ViewFollows View = "FOLLOWS"
	// ViewCausedBy links an event to the event that caused it, either from
	// an explicit parent reference or inferred with a confidence.
	ViewCausedBy View = "CAUSED_BY"
	// ViewSimilarTo is the undirected embedding-similarity view between
	// events and entities.
	ViewSimilarTo View = "SIMILAR_TO"
	// ViewReferences links an event to an entity it mentions, qualified by
	// a role (subject, object, tool, target).
	ViewReferences View = "REFERENCES"
	// ViewSummarizes links a summary node to the events or summaries it
	// aggregates.
	ViewSummarizes View = "SUMMARIZES"
)

// Views lists every edge view.
func Views() []View {
	return []View{ViewFollows, ViewCausedBy, ViewSimilarTo, ViewReferences, ViewSummarizes}
}

// Node is one vertex in the derived graph. Nodes are created and mutated
// only by the consolidation pipeline and pruned only by the retention
// sweep; they are always reconstructible from the ledger.
type Node struct {
	Kind  NodeKind       `json:"kind"`
	Key   string         `json:"key"`
	Attrs map[string]any `json:"attrs,omitempty"`

	// Event-node columns: the record's correlation group and ledger
	// position, used for ordered session reads and FOLLOWS chaining.
	CorrelationID string `json:"correlation_id,omitempty"`
	Position      int64  `json:"position,omitempty"`
	// Entity-node column: the exact-match key of tier-one resolution.
	NormalizedName string `json:"normalized_name,omitempty"`
	// Attribution for tombstoning; on event nodes the producing actor, on
	// entity nodes the single attributable actor or empty when shared.
	ActorID string `json:"actor_id,omitempty"`

	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	LastAccess  time.Time `json:"last_access"`
	AccessCount int       `json:"access_count"`
	Stability   float64   `json:"stability"`
	Importance  int       `json:"importance"`
	Tier        Tier      `json:"tier"`
}

// Edge is one edge in a single view. For directed views the (view, from,
// to) triple is the upsert key; SIMILAR_TO uses an order-independent pair
// key so the same undirected edge is never stored twice.
type Edge struct {
	View       View           `json:"view"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Attrs      map[string]any `json:"attrs,omitempty"`
	Confidence float64        `json:"confidence"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Subgraph is the result of a bounded traversal. Truncated reports that a
// depth, node-count or deadline bound was hit and the result is partial.
type Subgraph struct {
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
	Truncated bool   `json:"truncated"`
}

// Checkpoint is the durable cursor of one pipeline stage. LastPosition is
// monotonically non-decreasing; a Version different from the running code
// forces a full replay of the stage from position zero.
type Checkpoint struct {
	StageID      string    `json:"stage_id"`
	LastPosition int64     `json:"last_position"`
	Version      int       `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Tier is the retention class the scorer assigns to a graph node.
type Tier string

const (
	TierHot     Tier = "hot"
	TierWarm    Tier = "warm"
	TierCold    Tier = "cold"
	TierArchive Tier = "archive"
)

// Reference is an entity mention extracted from a record payload, carrying
// the role the entity plays in the event.
type Reference struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Role string `json:"role"`
}

// Enrichment holds the attributes stage 2 derives from a record payload.
// All of it is recomputable; none of it survives payload erasure.
type Enrichment struct {
	Keywords   []string    `json:"keywords,omitempty"`
	Summary    string      `json:"summary,omitempty"`
	Importance int         `json:"importance,omitempty"`
	References []Reference `json:"references,omitempty"`
}
