package pgx

import (
	"context"
	"errors"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/driftline/ledger/pkg/logger"
)

func isNoRows(err error) bool {
	return errors.Is(err, pgxv5.ErrNoRows)
}

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements graphstore.GraphStorage on PostgreSQL with
// pgvector for the similarity view. Every write is an idempotent upsert,
// so replaying a pipeline stage over the same records converges on the
// same graph.
type GraphDBStorage struct {
	conn pgxIConn
}

// NewGraphDBStorage creates a graph store over an existing connection or
// pool. pgvector types must be registered on the connection.
func NewGraphDBStorage(conn pgxIConn) *GraphDBStorage {
	return &GraphDBStorage{conn: conn}
}

// Wipe removes every node and edge. Used before a full replay; the ledger
// is the source of truth and rebuilds the graph from position zero.
func (s *GraphDBStorage) Wipe(ctx context.Context) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin wipe transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM edges`); err != nil {
		return fmt.Errorf("failed to wipe edges: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM nodes`); err != nil {
		return fmt.Errorf("failed to wipe nodes: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit wipe: %w", err)
	}

	logger.Warn("[Graph] Store wiped, awaiting replay")
	return nil
}
