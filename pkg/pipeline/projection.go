package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/driftline/ledger/pkg/common"
	"github.com/driftline/ledger/pkg/graphstore"
	"github.com/driftline/ledger/pkg/logger"
)

// Projection is stage 1: it mirrors accepted records into event nodes and
// builds the structural views (FOLLOWS, CAUSED_BY) that need no model
// calls. Node keys are record IDs, so replaying a batch upserts in place.
type Projection struct {
	graph graphstore.GraphStorage
}

type ProjectionParams struct {
	Graph graphstore.GraphStorage
}

func NewProjection(params ProjectionParams) *Projection {
	return &Projection{graph: params.Graph}
}

func (s *Projection) ID() string {
	return StageProjection
}

func (s *Projection) Version() int {
	return ProjectionVersion
}

func (s *Projection) Process(ctx context.Context, records []common.Record) error {
	for _, record := range records {
		if err := s.projectRecord(ctx, record); err != nil {
			return fmt.Errorf("failed to project record %s at position %d: %w",
				record.RecordID, record.GlobalPosition, err)
		}
	}
	return nil
}

func (s *Projection) projectRecord(ctx context.Context, record common.Record) error {
	attrs := map[string]any{
		"record_type":    record.RecordType,
		"occurred_at":    record.OccurredAt,
		"schema_version": record.SchemaVersion,
	}
	if record.EndedAt != nil {
		attrs["ended_at"] = *record.EndedAt
	}
	if record.Status != "" {
		attrs["status"] = record.Status
	}
	if record.TraceID != "" {
		attrs["trace_id"] = record.TraceID
	}
	if record.PayloadLocator != "" {
		attrs["payload_locator"] = record.PayloadLocator
	}

	node := common.Node{
		Kind:          common.NodeEvent,
		Key:           record.RecordID,
		Attrs:         attrs,
		CorrelationID: record.CorrelationID,
		Position:      record.GlobalPosition,
		ActorID:       record.ActorID,
		Importance:    record.ImportanceHint,
	}
	if err := s.graph.UpsertNode(ctx, node); err != nil {
		return err
	}

	// The previous event is looked up by ledger position, never by
	// wall-clock time, so replaying the ledger rebuilds identical chains.
	prev, err := s.graph.PreviousEvent(ctx, record.CorrelationID, record.GlobalPosition)
	if err != nil {
		return err
	}
	if prev != "" {
		err := s.graph.UpsertEdge(ctx, common.Edge{
			View:       common.ViewFollows,
			From:       record.RecordID,
			To:         prev,
			Confidence: 1,
		})
		if err != nil {
			return err
		}
	}

	if record.ParentRecordID != "" {
		err := s.graph.UpsertEdge(ctx, common.Edge{
			View:       common.ViewCausedBy,
			From:       record.RecordID,
			To:         record.ParentRecordID,
			Attrs:      map[string]any{"source": "parent_record_id"},
			Confidence: 1,
		})
		if errors.Is(err, graphstore.ErrConsistency) {
			// parent not projected yet; stage 3's orphan pass revisits
			logger.Warn("[Projection] Skipping causal edge with unresolved parent",
				"record_id", record.RecordID, "parent_record_id", record.ParentRecordID)
		} else if err != nil {
			return err
		}
	}

	return nil
}
