package pgx

import (
	"context"
	"fmt"

	"github.com/driftline/ledger/pkg/logger"
)

// PruneArchived deletes archive-tier nodes and their edges from the graph.
// The ledger is never touched: archived knowledge stays replayable. The
// prune is an explicit batch operation against the tier label, never a
// traversal-triggered side effect.
func (s *GraphDBStorage) PruneArchived(ctx context.Context) (int64, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin prune: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM edges
		 WHERE from_key IN (SELECT node_key FROM nodes WHERE tier = 'archive')
		    OR to_key IN (SELECT node_key FROM nodes WHERE tier = 'archive')`,
	); err != nil {
		return 0, fmt.Errorf("failed to prune archived edges: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM nodes WHERE tier = 'archive'`)
	if err != nil {
		return 0, fmt.Errorf("failed to prune archived nodes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}

	pruned := tag.RowsAffected()
	if pruned > 0 {
		logger.Info("[Graph] Pruned archived nodes", "count", pruned)
	}
	return pruned, nil
}

// OrphanedDerived finds entity and summary nodes that lost every
// connection to an event node, violating the traceability invariant.
// Stage 3 checks this opportunistically so stages 1 and 2 stay fast.
func (s *GraphDBStorage) OrphanedDerived(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.Query(ctx,
		`SELECT n.node_key FROM nodes n
		 WHERE n.kind IN ('entity', 'summary')
		   AND NOT EXISTS (
			SELECT 1 FROM edges e
			JOIN nodes other ON other.node_key =
				CASE WHEN e.from_key = n.node_key THEN e.to_key ELSE e.from_key END
			WHERE (e.from_key = n.node_key OR e.to_key = n.node_key)
			  AND other.kind = 'event')
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find orphaned derived nodes: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan orphan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// TombstoneActor deletes entity nodes exclusively attributable to one
// actor, with their edges. Event nodes and the ledger stay intact; the
// envelope history is the compliance workflow's record of what existed.
func (s *GraphDBStorage) TombstoneActor(ctx context.Context, actorID string) (int64, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tombstone: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM edges
		 WHERE from_key IN (SELECT node_key FROM nodes WHERE kind = 'entity' AND actor_id = $1)
		    OR to_key IN (SELECT node_key FROM nodes WHERE kind = 'entity' AND actor_id = $1)`,
		actorID,
	); err != nil {
		return 0, fmt.Errorf("failed to tombstone edges of actor %s: %w", actorID, err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM nodes WHERE kind = 'entity' AND actor_id = $1`,
		actorID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to tombstone entities of actor %s: %w", actorID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit tombstone: %w", err)
	}

	removed := tag.RowsAffected()
	logger.Info("[Graph] Tombstoned actor", "actor_id", actorID, "entities_removed", removed)
	return removed, nil
}
