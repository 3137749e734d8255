package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/driftline/ledger/pkg/common"
	"github.com/driftline/ledger/pkg/graphstore"
	"github.com/driftline/ledger/pkg/logger"
)

// BoundedTraverse walks the neighborhood of the entry points one frontier
// per depth level. Every bound is enforced mid-walk: exceeding max_nodes,
// max_depth or the deadline stops the walk and returns the partial
// subgraph with Truncated set. It never mutates the graph; callers wanting
// access reinforcement call TouchNodes on the result explicitly.
func (s *GraphDBStorage) BoundedTraverse(ctx context.Context, params graphstore.TraverseParams) (common.Subgraph, error) {
	if len(params.EntryPoints) == 0 {
		return common.Subgraph{}, fmt.Errorf("no entry points")
	}
	maxDepth := params.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	maxNodes := params.MaxNodes
	if maxNodes <= 0 {
		maxNodes = 200
	}
	views := params.Views
	if len(views) == 0 {
		views = common.Views()
	}
	viewNames := make([]string, len(views))
	for i, view := range views {
		viewNames[i] = string(view)
	}

	if params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	walk := newFrontierWalk(params.EntryPoints, maxNodes)

	for depth := 0; depth < maxDepth && walk.active(); depth++ {
		rows, err := s.conn.Query(ctx,
			`SELECT view, from_key, to_key, attrs, confidence, created_at
			 FROM edges
			 WHERE view = ANY($1) AND (from_key = ANY($2) OR to_key = ANY($2))`,
			viewNames, walk.frontier,
		)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				walk.truncated = true
				break
			}
			return common.Subgraph{}, fmt.Errorf("failed to expand frontier at depth %d: %w", depth+1, err)
		}

		var batch []common.Edge
		scanErr := func() error {
			defer rows.Close()
			for rows.Next() {
				var edge common.Edge
				var attrs []byte
				if err := rows.Scan(&edge.View, &edge.From, &edge.To, &attrs, &edge.Confidence, &edge.CreatedAt); err != nil {
					return fmt.Errorf("failed to scan traversal edge: %w", err)
				}
				if len(attrs) > 0 {
					if err := json.Unmarshal(attrs, &edge.Attrs); err != nil {
						return fmt.Errorf("failed to decode traversal edge attrs: %w", err)
					}
				}
				batch = append(batch, edge)
			}
			return rows.Err()
		}()
		if scanErr != nil {
			if errors.Is(scanErr, context.DeadlineExceeded) {
				walk.truncated = true
				break
			}
			return common.Subgraph{}, scanErr
		}
		walk.expand(batch)
	}

	nodes, err := s.nodesByKeys(ctx, walk.collected)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return common.Subgraph{Truncated: true}, nil
		}
		return common.Subgraph{}, err
	}

	if walk.truncated {
		logger.Debug("[Graph] Traversal truncated", "nodes", len(nodes), "edges", len(walk.edges))
	}
	return common.Subgraph{Nodes: nodes, Edges: walk.edges, Truncated: walk.truncated}, nil
}

// frontierWalk holds the bounding state of one traversal: which nodes made
// it into the subgraph, which edges were kept, and whether a bound was hit.
// It is pure bookkeeping; the caller feeds it one edge batch per depth.
type frontierWalk struct {
	maxNodes  int
	visited   map[string]bool
	seenEdges map[string]bool

	collected []string
	edges     []common.Edge
	frontier  []string
	truncated bool
}

func newFrontierWalk(entryPoints []string, maxNodes int) *frontierWalk {
	w := &frontierWalk{
		maxNodes:  maxNodes,
		visited:   make(map[string]bool, maxNodes),
		seenEdges: make(map[string]bool),
	}
	for _, key := range entryPoints {
		if w.visited[key] {
			continue
		}
		if len(w.collected) >= maxNodes {
			w.truncated = true
			break
		}
		w.visited[key] = true
		w.collected = append(w.collected, key)
		w.frontier = append(w.frontier, key)
	}
	return w
}

func (w *frontierWalk) active() bool {
	return len(w.frontier) > 0 && !w.truncated
}

// expand consumes the edge batch of the current frontier and computes the
// next one. Nodes beyond maxNodes mark the walk truncated and are dropped.
func (w *frontierWalk) expand(batch []common.Edge) {
	var next []string
	for _, edge := range batch {
		edgeKey := string(edge.View) + "|" + edge.From + "|" + edge.To
		if w.seenEdges[edgeKey] {
			continue
		}

		for _, endpoint := range []string{edge.From, edge.To} {
			if w.visited[endpoint] {
				continue
			}
			if len(w.collected) >= w.maxNodes {
				w.truncated = true
				continue
			}
			w.visited[endpoint] = true
			w.collected = append(w.collected, endpoint)
			next = append(next, endpoint)
		}

		// Keep only edges whose endpoints both made it into the subgraph,
		// so the result is self-contained.
		if w.visited[edge.From] && w.visited[edge.To] {
			w.seenEdges[edgeKey] = true
			w.edges = append(w.edges, edge)
		}
	}
	w.frontier = next
}

// SessionEvents returns the event nodes of one correlation group in ledger
// order.
func (s *GraphDBStorage) SessionEvents(ctx context.Context, correlationID string, limit int) ([]common.Node, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.conn.Query(ctx,
		selectNodeSQL+` WHERE kind = 'event' AND correlation_id = $1 ORDER BY position LIMIT $2`,
		correlationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", correlationID, err)
	}
	defer rows.Close()

	var nodes []common.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// Lineage walks the CAUSED_BY chain upward from one event, at most
// maxDepth hops.
func (s *GraphDBStorage) Lineage(ctx context.Context, recordID string, maxDepth int) (common.Subgraph, error) {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	return s.BoundedTraverse(ctx, graphstore.TraverseParams{
		EntryPoints: []string{recordID},
		Views:       []common.View{common.ViewCausedBy},
		MaxDepth:    maxDepth,
		MaxNodes:    maxDepth + 1,
	})
}

// PreviousEvent finds the event immediately preceding a position within a
// correlation. Replays of the same record resolve the same predecessor.
func (s *GraphDBStorage) PreviousEvent(ctx context.Context, correlationID string, beforePosition int64) (string, error) {
	var key string
	err := s.conn.QueryRow(ctx,
		`SELECT node_key FROM nodes
		 WHERE kind = 'event' AND correlation_id = $1 AND position < $2
		 ORDER BY position DESC LIMIT 1`,
		correlationID, beforePosition,
	).Scan(&key)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to find previous event in %s: %w", correlationID, err)
	}
	return key, nil
}

// RecentEventKeys pages event keys by ledger position for stage 3 scans.
func (s *GraphDBStorage) RecentEventKeys(ctx context.Context, after int64, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.conn.Query(ctx,
		`SELECT node_key FROM nodes
		 WHERE kind = 'event' AND position > $1
		 ORDER BY position LIMIT $2`,
		after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent event keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan event key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *GraphDBStorage) nodesByKeys(ctx context.Context, keys []string) ([]common.Node, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, selectNodeSQL+` WHERE node_key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to load %d nodes: %w", len(keys), err)
	}
	defer rows.Close()

	byKey := make(map[string]common.Node, len(keys))
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		byKey[node.Key] = node
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve collection order.
	nodes := make([]common.Node, 0, len(byKey))
	for _, key := range keys {
		if node, ok := byKey[key]; ok {
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}
