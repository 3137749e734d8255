package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/driftline/ledger/pkg/common"
	"github.com/driftline/ledger/pkg/ledger"
	"github.com/driftline/ledger/pkg/logger"
)

type runnerState string

const (
	stateIdle       runnerState = "idle"
	statePolling    runnerState = "polling"
	stateProcessing runnerState = "processing"
	stateCommitting runnerState = "committing"
)

// RunnerParams wires one stage to its inputs.
//
// Wake is optional; the runner always falls back to PollInterval.
// UpperBound is optional and caps how far the stage may read, used to keep
// a stage from running ahead of its predecessor.
type RunnerParams struct {
	Stage       Stage
	Ledger      ledger.Ledger
	Checkpoints CheckpointStore

	Wake         <-chan struct{}
	PollInterval time.Duration
	BatchSize    int

	UpperBound func(ctx context.Context) (int64, error)
}

// Runner drives one stage through the Idle→Polling→Processing→Committing
// loop. The checkpoint is committed only after Process succeeds, so a
// crash or shutdown mid-batch replays it.
type Runner struct {
	stage       Stage
	ledger      ledger.Ledger
	checkpoints CheckpointStore

	wake         <-chan struct{}
	pollInterval time.Duration
	batchSize    int

	upperBound func(ctx context.Context) (int64, error)

	state runnerState
}

func NewRunner(params RunnerParams) *Runner {
	pollInterval := params.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Runner{
		stage:        params.Stage,
		ledger:       params.Ledger,
		checkpoints:  params.Checkpoints,
		wake:         params.Wake,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		upperBound:   params.UpperBound,
		state:        stateIdle,
	}
}

// Run blocks until ctx is done. An in-flight batch is abandoned without
// committing; replay on the next start is safe because stages are
// idempotent.
func (r *Runner) Run(ctx context.Context) error {
	logger.Info("[Pipeline] Stage runner started", "stage", r.stage.ID(), "version", r.stage.Version())

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		r.state = stateIdle
		select {
		case <-ctx.Done():
			logger.Info("[Pipeline] Stage runner stopping", "stage", r.stage.ID())
			return ctx.Err()
		case <-ticker.C:
		case <-r.wake:
		}

		// drain everything available before going idle again
		for {
			progressed, err := r.step(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					logger.Info("[Pipeline] Abandoning in-flight batch", "stage", r.stage.ID())
					return err
				}
				logger.Error("[Pipeline] Stage iteration failed", "stage", r.stage.ID(), "state", string(r.state), "err", err)
				break
			}
			if !progressed {
				break
			}
		}
	}
}

func (r *Runner) step(ctx context.Context) (bool, error) {
	r.state = statePolling

	cp, err := r.checkpoints.Get(ctx, r.stage.ID())
	if err != nil {
		return false, err
	}
	if cp.Version != r.stage.Version() {
		if cp.Version != 0 || cp.LastPosition != 0 {
			logger.Warn("[Pipeline] Stage version changed, replaying from start",
				"stage", r.stage.ID(), "stored_version", cp.Version, "version", r.stage.Version())
		}
		cp.LastPosition = 0
	}

	limit := r.batchSize
	if r.upperBound != nil {
		bound, err := r.upperBound(ctx)
		if err != nil {
			return false, err
		}
		if bound <= cp.LastPosition {
			return false, nil
		}
		if span := bound - cp.LastPosition; span < int64(limit) {
			limit = int(span)
		}
	}

	records, err := r.ledger.ReadBatch(ctx, cp.LastPosition, limit)
	if err != nil {
		return false, err
	}
	if len(records) == 0 {
		return false, nil
	}

	r.state = stateProcessing
	start := time.Now()
	if err := r.stage.Process(ctx, records); err != nil {
		return false, err
	}

	r.state = stateCommitting
	last := records[len(records)-1].GlobalPosition
	err = r.checkpoints.Commit(ctx, common.Checkpoint{
		StageID:      r.stage.ID(),
		LastPosition: last,
		Version:      r.stage.Version(),
	})
	if err != nil {
		return false, err
	}

	logger.Debug("[Pipeline] Batch committed",
		"stage", r.stage.ID(), "count", len(records), "position", last,
		"took", time.Since(start).Round(time.Millisecond).String())
	return true, nil
}
