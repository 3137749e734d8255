package pgx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/driftline/ledger/pkg/common"
	"github.com/driftline/ledger/pkg/graphstore"
)

const upsertEdgeSQL = `
INSERT INTO edges (view, from_key, to_key, attrs, confidence)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (view, from_key, to_key) DO UPDATE SET
	attrs = edges.attrs || EXCLUDED.attrs,
	confidence = CASE WHEN edges.view = 'FOLLOWS' THEN edges.confidence ELSE EXCLUDED.confidence END`

// UpsertEdge writes an edge keyed by (view, from, to), normalizing the
// pair order for the undirected similarity view. The endpoint kinds are
// checked against the view's constraint inside the same transaction; a
// violation returns graphstore.ErrConsistency and writes nothing, so the
// caller can skip the item and carry on with its batch.
func (s *GraphDBStorage) UpsertEdge(ctx context.Context, edge common.Edge) error {
	from, to := graphstore.NormalizePair(edge.View, edge.From, edge.To)

	attrs, err := marshalAttrs(edge.Attrs)
	if err != nil {
		return err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin edge transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var fromKind, toKind common.NodeKind
	err = tx.QueryRow(ctx,
		`SELECT f.kind, t.kind
		 FROM nodes f, nodes t
		 WHERE f.node_key = $1 AND t.node_key = $2`,
		from, to,
	).Scan(&fromKind, &toKind)
	if err != nil {
		return fmt.Errorf("%w: endpoints %s -> %s not resolvable", graphstore.ErrConsistency, from, to)
	}
	if err := graphstore.CheckEndpoints(edge.View, fromKind, toKind); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, upsertEdgeSQL, edge.View, from, to, attrs, edge.Confidence); err != nil {
		return fmt.Errorf("failed to upsert edge %s %s -> %s: %w", edge.View, from, to, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit edge upsert: %w", err)
	}
	return nil
}

// EdgesAmong returns every edge of the given views with both endpoints in
// keys. Stage 3 clusters on the result.
func (s *GraphDBStorage) EdgesAmong(ctx context.Context, keys []string, views []common.View) ([]common.Edge, error) {
	if len(keys) == 0 || len(views) == 0 {
		return nil, nil
	}
	viewNames := make([]string, len(views))
	for i, view := range views {
		viewNames[i] = string(view)
	}

	rows, err := s.conn.Query(ctx,
		`SELECT view, from_key, to_key, attrs, confidence, created_at
		 FROM edges
		 WHERE view = ANY($1) AND from_key = ANY($2) AND to_key = ANY($2)`,
		viewNames, keys,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read edges among %d keys: %w", len(keys), err)
	}
	defer rows.Close()

	var edges []common.Edge
	for rows.Next() {
		var edge common.Edge
		var attrs []byte
		err := rows.Scan(&edge.View, &edge.From, &edge.To, &attrs, &edge.Confidence, &edge.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &edge.Attrs); err != nil {
				return nil, fmt.Errorf("failed to decode edge attrs: %w", err)
			}
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}
