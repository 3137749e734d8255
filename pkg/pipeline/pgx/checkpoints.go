package pgx

import (
	"context"
	"errors"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/driftline/ledger/pkg/common"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

// CheckpointStorage implements pipeline.CheckpointStore on PostgreSQL.
type CheckpointStorage struct {
	conn pgxIConn
}

func NewCheckpointStorage(conn pgxIConn) *CheckpointStorage {
	return &CheckpointStorage{conn: conn}
}

// Get returns the stage's checkpoint, or a zero checkpoint for a stage
// that never committed one.
func (s *CheckpointStorage) Get(ctx context.Context, stageID string) (common.Checkpoint, error) {
	cp := common.Checkpoint{StageID: stageID}
	err := s.conn.QueryRow(ctx,
		`SELECT last_position, version, updated_at FROM checkpoints WHERE stage_id = $1`,
		stageID,
	).Scan(&cp.LastPosition, &cp.Version, &cp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return common.Checkpoint{StageID: stageID}, nil
		}
		return common.Checkpoint{}, fmt.Errorf("failed to read checkpoint for %s: %w", stageID, err)
	}
	return cp, nil
}

// Commit upserts the checkpoint. The guard keeps a concurrent slower
// runner from moving a stage backwards.
func (s *CheckpointStorage) Commit(ctx context.Context, checkpoint common.Checkpoint) error {
	_, err := s.conn.Exec(ctx,
		`INSERT INTO checkpoints (stage_id, last_position, version, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (stage_id) DO UPDATE
		 SET last_position = EXCLUDED.last_position,
		     version       = EXCLUDED.version,
		     updated_at    = now()
		 WHERE checkpoints.last_position <= EXCLUDED.last_position
		    OR checkpoints.version <> EXCLUDED.version`,
		checkpoint.StageID, checkpoint.LastPosition, checkpoint.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to commit checkpoint for %s: %w", checkpoint.StageID, err)
	}
	return nil
}

// Reset moves the stage back to position unconditionally. The stored
// version is kept so a replay is not mistaken for a version mismatch.
func (s *CheckpointStorage) Reset(ctx context.Context, stageID string, position int64) error {
	_, err := s.conn.Exec(ctx,
		`INSERT INTO checkpoints (stage_id, last_position, version, updated_at)
		 VALUES ($1, $2, 0, now())
		 ON CONFLICT (stage_id) DO UPDATE
		 SET last_position = EXCLUDED.last_position,
		     updated_at    = now()`,
		stageID, position,
	)
	if err != nil {
		return fmt.Errorf("failed to reset checkpoint for %s: %w", stageID, err)
	}
	return nil
}
