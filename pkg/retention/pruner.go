package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/driftline/ledger/pkg/common"
	"github.com/driftline/ledger/pkg/graphstore"
	"github.com/driftline/ledger/pkg/logger"
)

// Pruner recomputes tiers from stored inputs and deletes archive-tier
// nodes from the graph store. It never touches the ledger, so everything
// it removes stays rebuildable by replay.
type Pruner struct {
	store     graphstore.GraphStorage
	cfg       Config
	batchSize int
}

type PrunerParams struct {
	Store     graphstore.GraphStorage
	Config    Config
	BatchSize int
}

func NewPruner(params PrunerParams) *Pruner {
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Pruner{
		store:     params.Store,
		cfg:       params.Config.withDefaults(),
		batchSize: batchSize,
	}
}

// Sweep retiers every node and prunes the archive tier. Returns the number
// of nodes removed.
func (p *Pruner) Sweep(ctx context.Context) (int64, error) {
	now := time.Now()
	offset := 0
	retiered := 0

	for {
		inputs, err := p.store.RetentionInputs(ctx, p.batchSize, offset)
		if err != nil {
			return 0, fmt.Errorf("failed to page retention inputs at offset %d: %w", offset, err)
		}
		if len(inputs) == 0 {
			break
		}

		tiers := make(map[string]common.Tier, len(inputs))
		for _, input := range inputs {
			tiers[input.Key] = TierOf(input, now, p.cfg)
		}
		if err := p.store.SetTiers(ctx, tiers); err != nil {
			return 0, fmt.Errorf("failed to apply tiers at offset %d: %w", offset, err)
		}

		retiered += len(inputs)
		if len(inputs) < p.batchSize {
			break
		}
		offset += p.batchSize
	}

	pruned, err := p.store.PruneArchived(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to prune archive tier: %w", err)
	}

	logger.Info("[Retention] Sweep complete", "retiered", retiered, "pruned", pruned)
	return pruned, nil
}
