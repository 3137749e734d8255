package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/driftline/ledger/pkg/ai"
	"github.com/driftline/ledger/pkg/common"
	"github.com/driftline/ledger/pkg/graphstore"
	"github.com/driftline/ledger/pkg/logger"
)

// Reconsolidation is stage 3: the slow background pass that works across
// correlations. It clusters recently projected events, writes summary
// nodes over large clusters, merges duplicate entities, parks orphaned
// derived nodes for the pruner and reinforces everything it confirmed.
// It must run single-flight (see pkg/leaselock); its rewrites are not
// safe under concurrent runners.
type Reconsolidation struct {
	graph  graphstore.GraphStorage
	client ai.EnrichmentClient

	minClusterSize int
	minConfidence  float64
	orphanLimit    int
}

type ReconsolidationParams struct {
	Graph  graphstore.GraphStorage
	Client ai.EnrichmentClient

	// MinClusterSize is the smallest cluster that earns a summary node
	// (default 3).
	MinClusterSize int
	// MinConfidence is the edge-confidence floor for clustering
	// (default 0.80).
	MinConfidence float64
	// OrphanLimit caps orphan repair per batch (default 100).
	OrphanLimit int
}

func NewReconsolidation(params ReconsolidationParams) *Reconsolidation {
	minClusterSize := params.MinClusterSize
	if minClusterSize <= 0 {
		minClusterSize = 3
	}
	minConfidence := params.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.80
	}
	orphanLimit := params.OrphanLimit
	if orphanLimit <= 0 {
		orphanLimit = 100
	}
	return &Reconsolidation{
		graph:          params.Graph,
		client:         params.Client,
		minClusterSize: minClusterSize,
		minConfidence:  minConfidence,
		orphanLimit:    orphanLimit,
	}
}

func (s *Reconsolidation) ID() string {
	return StageReconsolidation
}

func (s *Reconsolidation) Version() int {
	return ReconsolidationVersion
}

func (s *Reconsolidation) Process(ctx context.Context, records []common.Record) error {
	eventKeys := make([]string, 0, len(records))
	for _, record := range records {
		eventKeys = append(eventKeys, record.RecordID)
	}

	if err := s.summarizeClusters(ctx, eventKeys); err != nil {
		return err
	}
	if err := s.mergeDuplicateEntities(ctx, eventKeys); err != nil {
		return err
	}
	if err := s.parkOrphans(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Reconsolidation) summarizeClusters(ctx context.Context, eventKeys []string) error {
	edges, err := s.graph.EdgesAmong(ctx, eventKeys, []common.View{common.ViewSimilarTo, common.ViewCausedBy})
	if err != nil {
		return err
	}

	clusters := ConnectedComponents(eventKeys, edges, s.minConfidence)
	for _, members := range clusters {
		if len(members) < s.minClusterSize {
			continue
		}
		if err := s.summarizeCluster(ctx, members); err != nil {
			return err
		}
	}
	return nil
}

func (s *Reconsolidation) summarizeCluster(ctx context.Context, members []string) error {
	var fragments []string
	for _, key := range members {
		node, err := s.graph.GetNode(ctx, key)
		if err != nil {
			if errors.Is(err, graphstore.ErrNotFound) {
				continue
			}
			return err
		}
		if summary, ok := node.Attrs["summary"].(string); ok && summary != "" {
			fragments = append(fragments, summary)
		}
	}
	if len(fragments) < s.minClusterSize {
		// not enough enriched members yet; a later pass picks it up
		return nil
	}

	text, err := s.client.Summarize(ctx, fragments)
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	summaryKey := SummaryKey(members)
	node := common.Node{
		Kind: common.NodeSummary,
		Key:  summaryKey,
		Attrs: map[string]any{
			"summary":      text,
			"member_count": len(members),
		},
	}
	if err := s.graph.UpsertNode(ctx, node); err != nil {
		return err
	}

	for _, member := range members {
		err := s.graph.UpsertEdge(ctx, common.Edge{
			View:       common.ViewSummarizes,
			From:       summaryKey,
			To:         member,
			Confidence: 1,
		})
		if errors.Is(err, graphstore.ErrConsistency) {
			logger.Warn("[Reconsolidation] Skipping inconsistent summary edge", "summary", summaryKey, "member", member)
			continue
		}
		if err != nil {
			return err
		}
	}

	// confirmation is access: members of a summarized cluster decay slower
	if err := s.graph.TouchNodes(ctx, members); err != nil {
		return err
	}

	logger.Info("[Reconsolidation] Summarized cluster", "summary", summaryKey, "members", len(members))
	return nil
}

func (s *Reconsolidation) mergeDuplicateEntities(ctx context.Context, eventKeys []string) error {
	if len(eventKeys) == 0 {
		return nil
	}

	neighbourhood, err := s.graph.BoundedTraverse(ctx, graphstore.TraverseParams{
		EntryPoints: eventKeys,
		Views:       []common.View{common.ViewReferences},
		MaxDepth:    1,
		MaxNodes:    len(eventKeys) * 16,
	})
	if err != nil {
		return err
	}

	plans := PlanMerges(neighbourhood.Nodes)
	for _, plan := range plans {
		if err := s.graph.MergeEntities(ctx, plan.Canonical, plan.Duplicates); err != nil {
			return err
		}
		if err := s.graph.TouchNodes(ctx, []string{plan.Canonical}); err != nil {
			return err
		}
		logger.Info("[Reconsolidation] Merged duplicate entities",
			"canonical", plan.Canonical, "duplicates", len(plan.Duplicates))
	}
	return nil
}

// parkOrphans moves derived nodes that lost all event connectivity to the
// archive tier. The retention pruner deletes them on its next sweep; the
// graph never serves untraceable derived knowledge as fresh.
func (s *Reconsolidation) parkOrphans(ctx context.Context) error {
	orphans, err := s.graph.OrphanedDerived(ctx, s.orphanLimit)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		return nil
	}

	tiers := make(map[string]common.Tier, len(orphans))
	for _, key := range orphans {
		tiers[key] = common.TierArchive
	}
	if err := s.graph.SetTiers(ctx, tiers); err != nil {
		return err
	}
	logger.Info("[Reconsolidation] Parked orphaned derived nodes", "count", len(orphans))
	return nil
}

// SummaryKey derives a deterministic key from the cluster membership, so
// replaying the same ledger regenerates the same summary node.
func SummaryKey(members []string) string {
	h := sha256.New()
	for _, member := range members {
		h.Write([]byte(member))
		h.Write([]byte{0})
	}
	return "summary_" + hex.EncodeToString(h.Sum(nil))[:16]
}
