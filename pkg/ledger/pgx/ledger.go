package pgx

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/driftline/ledger/pkg/common"
	"github.com/driftline/ledger/pkg/ledger"
	"github.com/driftline/ledger/pkg/logger"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// LedgerStorage implements the Ledger interface on PostgreSQL. Ordering is
// delegated to the records table's BIGSERIAL position, so the database is
// the single ordering authority and no application-level counter exists.
type LedgerStorage struct {
	conn pgxIConn
}

// NewLedgerStorage creates a ledger over an existing connection or pool.
func NewLedgerStorage(conn pgxIConn) *LedgerStorage {
	return &LedgerStorage{conn: conn}
}

const insertRecordSQL = `
INSERT INTO records (
	record_id, record_type, occurred_at, ended_at, correlation_id,
	actor_id, trace_id, payload_locator, parent_record_id, status,
	schema_version, importance_hint
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (record_id) DO NOTHING
RETURNING global_position, accepted_at`

const selectPositionSQL = `
SELECT global_position FROM records WHERE record_id = $1`

const insertDedupSQL = `
INSERT INTO dedup_index (record_id, seen_at) VALUES ($1, now())
ON CONFLICT (record_id) DO NOTHING`

// Append accepts one record idempotently. See AppendBatch for the batch
// path; both share appendInTx so the semantics cannot drift apart.
func (s *LedgerStorage) Append(ctx context.Context, record common.Record) (common.AppendOutcome, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return common.AppendOutcome{}, fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	outcome, err := appendInTx(ctx, tx, record)
	if err != nil {
		return common.AppendOutcome{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return common.AppendOutcome{}, fmt.Errorf("failed to commit append: %w", err)
	}
	return outcome, nil
}

// AppendBatch accepts records in input order inside one transaction.
// Per-record duplicate outcomes are still reported individually.
func (s *LedgerStorage) AppendBatch(ctx context.Context, records []common.Record) ([]common.AppendOutcome, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if len(records) > ledger.MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds limit of %d", len(records), ledger.MaxBatchSize)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch append transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	outcomes := make([]common.AppendOutcome, 0, len(records))
	for _, record := range records {
		outcome, err := appendInTx(ctx, tx, record)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit batch append: %w", err)
	}
	return outcomes, nil
}

// appendInTx performs the atomic check-then-insert inside the caller's
// transaction. The dedup-index write and the record insert commit together,
// so there is no window where a concurrent caller can observe "not a
// duplicate" and then lose the race.
func appendInTx(ctx context.Context, tx pgxv5.Tx, record common.Record) (common.AppendOutcome, error) {
	var position int64
	var acceptedAt time.Time
	err := tx.QueryRow(ctx, insertRecordSQL,
		record.RecordID,
		record.RecordType,
		record.OccurredAt,
		record.EndedAt,
		record.CorrelationID,
		record.ActorID,
		nullable(record.TraceID),
		nullable(record.PayloadLocator),
		nullable(record.ParentRecordID),
		nullable(record.Status),
		record.SchemaVersion,
		record.ImportanceHint,
	).Scan(&position, &acceptedAt)

	if errors.Is(err, pgxv5.ErrNoRows) {
		// Conflict on record_id: report the originally assigned position.
		if err := tx.QueryRow(ctx, selectPositionSQL, record.RecordID).Scan(&position); err != nil {
			return common.AppendOutcome{}, fmt.Errorf("failed to read original position for duplicate %s: %w", record.RecordID, err)
		}
		logger.Debug("[Ledger] Duplicate append", "record_id", record.RecordID, "position", position)
		return common.AppendOutcome{RecordID: record.RecordID, Duplicate: true, Position: position}, nil
	}
	if err != nil {
		return common.AppendOutcome{}, fmt.Errorf("failed to append record %s: %w", record.RecordID, err)
	}

	if _, err := tx.Exec(ctx, insertDedupSQL, record.RecordID); err != nil {
		return common.AppendOutcome{}, fmt.Errorf("failed to write dedup index for %s: %w", record.RecordID, err)
	}

	return common.AppendOutcome{RecordID: record.RecordID, Duplicate: false, Position: position}, nil
}

const readBatchSQL = `
SELECT record_id, record_type, occurred_at, ended_at, correlation_id,
	actor_id, trace_id, payload_locator, parent_record_id, status,
	schema_version, importance_hint, global_position, accepted_at
FROM records
WHERE global_position > $1
ORDER BY global_position
LIMIT $2`

// ReadBatch returns up to limit records after the given position, in strict
// position order. Readers never lock writers; the table is append-only.
func (s *LedgerStorage) ReadBatch(ctx context.Context, after int64, limit int) ([]common.Record, error) {
	rows, err := s.conn.Query(ctx, readBatchSQL, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger batch after %d: %w", after, err)
	}
	defer rows.Close()

	var records []common.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

const getRecordSQL = `
SELECT record_id, record_type, occurred_at, ended_at, correlation_id,
	actor_id, trace_id, payload_locator, parent_record_id, status,
	schema_version, importance_hint, global_position, accepted_at
FROM records
WHERE record_id = $1`

func (s *LedgerStorage) GetRecord(ctx context.Context, recordID string) (common.Record, error) {
	rows, err := s.conn.Query(ctx, getRecordSQL, recordID)
	if err != nil {
		return common.Record{}, fmt.Errorf("failed to get record %s: %w", recordID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return common.Record{}, err
		}
		return common.Record{}, ledger.ErrNotFound
	}
	return scanRecord(rows)
}

func (s *LedgerStorage) HeadPosition(ctx context.Context) (int64, error) {
	var head int64
	err := s.conn.QueryRow(ctx, `SELECT COALESCE(MAX(global_position), 0) FROM records`).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("failed to read head position: %w", err)
	}
	return head, nil
}

// SweepDedupIndex deletes window entries older than the configured window.
func (s *LedgerStorage) SweepDedupIndex(ctx context.Context, window time.Duration) (int64, error) {
	tag, err := s.conn.Exec(ctx,
		`DELETE FROM dedup_index WHERE seen_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int64(window.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep dedup index: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AuditErasure appends an erasure audit row. The ledger's own rows are
// never touched by erasure.
func (s *LedgerStorage) AuditErasure(ctx context.Context, locator, requestedBy, reason string) error {
	_, err := s.conn.Exec(ctx,
		`INSERT INTO erasure_audit (payload_locator, requested_by, reason) VALUES ($1, $2, $3)`,
		locator, requestedBy, reason,
	)
	if err != nil {
		return fmt.Errorf("failed to audit erasure of %s: %w", locator, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (common.Record, error) {
	var record common.Record
	var traceID, payloadLocator, parentRecordID, status *string
	err := row.Scan(
		&record.RecordID,
		&record.RecordType,
		&record.OccurredAt,
		&record.EndedAt,
		&record.CorrelationID,
		&record.ActorID,
		&traceID,
		&payloadLocator,
		&parentRecordID,
		&status,
		&record.SchemaVersion,
		&record.ImportanceHint,
		&record.GlobalPosition,
		&record.AcceptedAt,
	)
	if err != nil {
		return common.Record{}, fmt.Errorf("failed to scan record: %w", err)
	}
	record.TraceID = deref(traceID)
	record.PayloadLocator = deref(payloadLocator)
	record.ParentRecordID = deref(parentRecordID)
	record.Status = deref(status)
	return record, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
