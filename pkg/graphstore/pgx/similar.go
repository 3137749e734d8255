package pgx

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/driftline/ledger/pkg/common"
	"github.com/driftline/ledger/pkg/graphstore"
	"github.com/driftline/ledger/pkg/logger"
)

// FindSimilar runs a cosine-distance nearest-neighbour search over nodes
// of one kind, filtered to maxDistance.
func (s *GraphDBStorage) FindSimilar(
	ctx context.Context,
	embedding []float32,
	kind common.NodeKind,
	limit int,
	maxDistance float64,
) ([]graphstore.SimilarMatch, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.conn.Query(ctx,
		`SELECT node_key, kind, embedding <=> $1 AS distance
		 FROM nodes
		 WHERE kind = $2 AND embedding IS NOT NULL AND embedding <=> $1 <= $3
		 ORDER BY distance
		 LIMIT $4`,
		pgvector.NewVector(embedding), kind, maxDistance, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed similarity search over %s nodes: %w", kind, err)
	}
	defer rows.Close()

	var matches []graphstore.SimilarMatch
	for rows.Next() {
		var match graphstore.SimilarMatch
		if err := rows.Scan(&match.Key, &match.Kind, &match.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan similarity match: %w", err)
		}
		matches = append(matches, match)
	}
	return matches, rows.Err()
}

// FindEntityByName is tier-one entity resolution: exact normalized-string
// match.
func (s *GraphDBStorage) FindEntityByName(ctx context.Context, normalizedName string) (common.Node, error) {
	rows, err := s.conn.Query(ctx,
		selectNodeSQL+` WHERE kind = 'entity' AND normalized_name = $1 LIMIT 1`,
		normalizedName,
	)
	if err != nil {
		return common.Node{}, fmt.Errorf("failed to resolve entity %q: %w", normalizedName, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return common.Node{}, err
		}
		return common.Node{}, graphstore.ErrNotFound
	}
	return scanNode(rows)
}

// MergeEntities folds late-discovered duplicate entities into a canonical
// one: every edge touching a duplicate is repointed onto the canonical
// node (colliding edges are absorbed by the upsert key), then the
// duplicates are deleted. Runs in one transaction so a crash never leaves
// a half-merged entity.
func (s *GraphDBStorage) MergeEntities(ctx context.Context, canonicalKey string, duplicateKeys []string) error {
	if len(duplicateKeys) == 0 {
		return nil
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin entity merge: %w", err)
	}
	defer tx.Rollback(ctx)

	// Drop duplicate edges that would collide with an existing canonical
	// edge, then repoint the rest.
	_, err = tx.Exec(ctx,
		`DELETE FROM edges d
		 WHERE d.from_key = ANY($2)
		   AND EXISTS (
			SELECT 1 FROM edges c
			WHERE c.view = d.view AND c.from_key = $1 AND c.to_key = d.to_key)`,
		canonicalKey, duplicateKeys,
	)
	if err != nil {
		return fmt.Errorf("failed to drop colliding outbound edges: %w", err)
	}
	_, err = tx.Exec(ctx,
		`DELETE FROM edges d
		 WHERE d.to_key = ANY($2)
		   AND EXISTS (
			SELECT 1 FROM edges c
			WHERE c.view = d.view AND c.from_key = d.from_key AND c.to_key = $1)`,
		canonicalKey, duplicateKeys,
	)
	if err != nil {
		return fmt.Errorf("failed to drop colliding inbound edges: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE edges SET from_key = $1 WHERE from_key = ANY($2)`,
		canonicalKey, duplicateKeys,
	); err != nil {
		return fmt.Errorf("failed to repoint outbound edges: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE edges SET to_key = $1 WHERE to_key = ANY($2)`,
		canonicalKey, duplicateKeys,
	); err != nil {
		return fmt.Errorf("failed to repoint inbound edges: %w", err)
	}

	// Self-loops can appear when duplicates referenced each other.
	if _, err := tx.Exec(ctx,
		`DELETE FROM edges WHERE from_key = $1 AND to_key = $1`,
		canonicalKey,
	); err != nil {
		return fmt.Errorf("failed to drop merge self-loops: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM nodes WHERE node_key = ANY($1) AND kind = 'entity'`,
		duplicateKeys,
	); err != nil {
		return fmt.Errorf("failed to delete merged duplicates: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit entity merge: %w", err)
	}

	logger.Info("[Graph] Merged entities", "canonical", canonicalKey, "duplicates", len(duplicateKeys))
	return nil
}
