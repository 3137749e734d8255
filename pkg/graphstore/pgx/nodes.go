package pgx

import (
	"context"
	"encoding/json"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/driftline/ledger/pkg/common"
	"github.com/driftline/ledger/pkg/graphstore"
)

const upsertNodeSQL = `
INSERT INTO nodes (
	kind, node_key, attrs, correlation_id, position, normalized_name,
	actor_id, embedding, stability, importance, tier
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (node_key) DO UPDATE SET
	attrs = nodes.attrs || EXCLUDED.attrs,
	correlation_id = COALESCE(NULLIF(EXCLUDED.correlation_id, ''), nodes.correlation_id),
	position = CASE WHEN EXCLUDED.position > 0 THEN EXCLUDED.position ELSE nodes.position END,
	normalized_name = COALESCE(NULLIF(EXCLUDED.normalized_name, ''), nodes.normalized_name),
	actor_id = COALESCE(NULLIF(EXCLUDED.actor_id, ''), nodes.actor_id),
	embedding = COALESCE(EXCLUDED.embedding, nodes.embedding),
	stability = GREATEST(nodes.stability, EXCLUDED.stability),
	importance = GREATEST(nodes.importance, EXCLUDED.importance)`

// UpsertNode writes a node keyed by node_key. An upsert on an existing key
// merges only the attributes the caller supplies; created_at and the
// access/stability provenance never regress.
func (s *GraphDBStorage) UpsertNode(ctx context.Context, node common.Node) error {
	if node.Key == "" {
		return fmt.Errorf("node key is empty")
	}
	attrs, err := marshalAttrs(node.Attrs)
	if err != nil {
		return err
	}
	stability := node.Stability
	if stability <= 0 {
		stability = 1
	}
	tier := node.Tier
	if tier == "" {
		tier = common.TierHot
	}

	_, err = s.conn.Exec(ctx, upsertNodeSQL,
		node.Kind,
		node.Key,
		attrs,
		node.CorrelationID,
		node.Position,
		node.NormalizedName,
		node.ActorID,
		embeddingOrNil(node.Embedding),
		stability,
		node.Importance,
		tier,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert node %s: %w", node.Key, err)
	}
	return nil
}

const selectNodeSQL = `
SELECT kind, node_key, attrs, correlation_id, position, normalized_name,
	actor_id, created_at, last_access, access_count, stability, importance, tier
FROM nodes`

func (s *GraphDBStorage) GetNode(ctx context.Context, key string) (common.Node, error) {
	rows, err := s.conn.Query(ctx, selectNodeSQL+` WHERE node_key = $1`, key)
	if err != nil {
		return common.Node{}, fmt.Errorf("failed to get node %s: %w", key, err)
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

// SetEnrichment replaces the payload-derived attributes of an event node.
// Re-enrichment after payload erasure passes an empty enrichment and nil
// embedding, which nulls everything previously derived from the payload.
func (s *GraphDBStorage) SetEnrichment(ctx context.Context, key string, enrichment common.Enrichment, embedding []float32) error {
	derived, err := json.Marshal(map[string]any{
		"keywords":   enrichment.Keywords,
		"summary":    enrichment.Summary,
		"importance": enrichment.Importance,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal enrichment for %s: %w", key, err)
	}

	tag, err := s.conn.Exec(ctx,
		`UPDATE nodes SET attrs = attrs || $2::jsonb,
			embedding = $3,
			importance = GREATEST(importance, $4)
		 WHERE node_key = $1`,
		key, derived, embeddingOrNil(embedding), enrichment.Importance,
	)
	if err != nil {
		return fmt.Errorf("failed to set enrichment on %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return graphstore.ErrNotFound
	}
	return nil
}

// TouchNodes reinforces nodes on access. Stability only ever grows; the
// decay formula reads it back as the S term.
func (s *GraphDBStorage) TouchNodes(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.conn.Exec(ctx,
		`UPDATE nodes SET
			last_access = now(),
			access_count = access_count + 1,
			stability = stability * 1.2
		 WHERE node_key = ANY($1)`,
		keys,
	)
	if err != nil {
		return fmt.Errorf("failed to touch %d nodes: %w", len(keys), err)
	}
	return nil
}

// RetentionInputs pages through the stored scoring inputs. The pruner
// recomputes scores from these; no frozen score column exists to go stale.
func (s *GraphDBStorage) RetentionInputs(ctx context.Context, batchSize int, offset int) ([]graphstore.RetentionInput, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT node_key, kind, created_at, last_access, access_count, stability, importance
		 FROM nodes ORDER BY node_key LIMIT $1 OFFSET $2`,
		batchSize, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read retention inputs: %w", err)
	}
	defer rows.Close()

	var inputs []graphstore.RetentionInput
	for rows.Next() {
		var input graphstore.RetentionInput
		err := rows.Scan(&input.Key, &input.Kind, &input.CreatedAt, &input.LastAccess,
			&input.AccessCount, &input.Stability, &input.Importance)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retention input: %w", err)
		}
		inputs = append(inputs, input)
	}
	return inputs, rows.Err()
}

// MarkEntityShared drops the actor attribution of an entity resolved by
// records of more than one actor, taking it out of tombstone scope.
func (s *GraphDBStorage) MarkEntityShared(ctx context.Context, key string) error {
	_, err := s.conn.Exec(ctx,
		`UPDATE nodes SET actor_id = NULL WHERE node_key = $1 AND kind = 'entity'`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to mark entity %s shared: %w", key, err)
	}
	return nil
}

// SetTiers batch-applies recomputed tier labels.
func (s *GraphDBStorage) SetTiers(ctx context.Context, tiers map[string]common.Tier) error {
	if len(tiers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tiers))
	labels := make([]string, 0, len(tiers))
	for key, tier := range tiers {
		keys = append(keys, key)
		labels = append(labels, string(tier))
	}
	_, err := s.conn.Exec(ctx,
		`UPDATE nodes SET tier = data.tier
		 FROM (SELECT UNNEST($1::text[]) AS node_key, UNNEST($2::text[]) AS tier) AS data
		 WHERE nodes.node_key = data.node_key`,
		keys, labels,
	)
	if err != nil {
		return fmt.Errorf("failed to set tiers on %d nodes: %w", len(tiers), err)
	}
	return nil
}

func marshalAttrs(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		return []byte(`{}`), nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node attrs: %w", err)
	}
	return data, nil
}

func embeddingOrNil(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

func scanNode(rows pgxv5.Rows) (common.Node, error) {
	var node common.Node
	var attrs []byte
	var correlationID, normalizedName, actorID *string
	var position *int64
	err := rows.Scan(
		&node.Kind,
		&node.Key,
		&attrs,
		&correlationID,
		&position,
		&normalizedName,
		&actorID,
		&node.CreatedAt,
		&node.LastAccess,
		&node.AccessCount,
		&node.Stability,
		&node.Importance,
		&node.Tier,
	)
	if err != nil {
		return common.Node{}, fmt.Errorf("failed to scan node: %w", err)
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &node.Attrs); err != nil {
			return common.Node{}, fmt.Errorf("failed to decode attrs of %s: %w", node.Key, err)
		}
	}
	if correlationID != nil {
		node.CorrelationID = *correlationID
	}
	if position != nil {
		node.Position = *position
	}
	if normalizedName != nil {
		node.NormalizedName = *normalizedName
	}
	if actorID != nil {
		node.ActorID = *actorID
	}
	return node, nil
}
