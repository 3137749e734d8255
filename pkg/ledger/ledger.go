package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/driftline/ledger/pkg/common"
)

// ErrNotFound is returned when a record id has never been accepted.
var ErrNotFound = errors.New("record not found")

// Ledger is the append-only system of record. Appends are idempotent on
// record_id: the first accept assigns the global position, every later
// append of the same id is a no-op reporting the original position.
// Nothing ever mutates or deletes an accepted envelope; payload erasure is
// the payload store's concern and only leaves an audit entry here.
type Ledger interface {
	// Append accepts one record. The duplicate check, the dedup-window
	// entry and the append commit in a single transaction, so no two
	// concurrent appends of the same record_id can both report created.
	Append(ctx context.Context, record common.Record) (common.AppendOutcome, error)

	// AppendBatch accepts up to MaxBatchSize pre-validated records in one
	// transaction and reports a per-record created/duplicate outcome in
	// input order. It never silently drops a record.
	AppendBatch(ctx context.Context, records []common.Record) ([]common.AppendOutcome, error)

	// ReadBatch returns accepted records with global_position > after, in
	// position order, at most limit of them.
	ReadBatch(ctx context.Context, after int64, limit int) ([]common.Record, error)

	// GetRecord returns one accepted record by its producer-supplied id.
	GetRecord(ctx context.Context, recordID string) (common.Record, error)

	// HeadPosition returns the highest assigned global position, 0 when
	// the ledger is empty.
	HeadPosition(ctx context.Context) (int64, error)

	// SweepDedupIndex expires dedup-window entries older than the window.
	// The unique constraint on record_id still catches duplicates beyond
	// it; the window only keeps the fast path small.
	SweepDedupIndex(ctx context.Context, window time.Duration) (int64, error)

	// AuditErasure records that a payload locator was erased, by whom and
	// when. The owning envelope stays untouched.
	AuditErasure(ctx context.Context, locator, requestedBy, reason string) error
}

// MaxBatchSize bounds one ingestion batch.
const MaxBatchSize = 1000
