// Package pipeline implements the three-stage consolidation of ledger
// records into the knowledge graph. Stages run independently against
// per-stage checkpoints; every graph write is an idempotent upsert, so a
// stage can replay any suffix of the ledger without corrupting state.
package pipeline

import (
	"context"

	"github.com/driftline/ledger/pkg/common"
)

// Stage identifiers. Checkpoint rows are keyed by these.
const (
	StageProjection      = "projection"
	StageEnrichment      = "enrichment"
	StageReconsolidation = "reconsolidation"
)

// Stage versions. Bumping one forces the stage to reset its checkpoint to
// zero and reprocess the whole ledger on next startup.
const (
	ProjectionVersion      = 1
	EnrichmentVersion      = 1
	ReconsolidationVersion = 1
)

// CheckpointStore persists per-stage progress. A stage that has never run
// gets a zero-valued checkpoint, never an error.
type CheckpointStore interface {
	Get(ctx context.Context, stageID string) (common.Checkpoint, error)
	Commit(ctx context.Context, checkpoint common.Checkpoint) error

	// Reset moves a stage back to the given position. Used for version
	// mismatches and for the admin replay operation.
	Reset(ctx context.Context, stageID string, position int64) error
}

// Stage processes one batch of ledger records. Process must be idempotent:
// the runner only commits the checkpoint after Process returns nil, so a
// crash between the two replays the batch.
type Stage interface {
	ID() string
	Version() int
	Process(ctx context.Context, records []common.Record) error
}
