package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/driftline/ledger/pkg/ai"
	"github.com/driftline/ledger/pkg/common"
	"github.com/driftline/ledger/pkg/graphstore"
	"github.com/driftline/ledger/pkg/logger"
	"github.com/driftline/ledger/pkg/payload"
)

// Enrichment is stage 2: it derives everything that needs the payload or
// a model call. Embeddings and extracted attributes land on the event
// node; similarity and reference views are built from them. A record whose
// payload was erased gets its derived data cleared instead.
type Enrichment struct {
	graph    graphstore.GraphStorage
	payloads payload.Store
	client   ai.EnrichmentClient

	chunkTokens         int
	similarLimit        int
	similarityThreshold float64
	entityThreshold     float64
}

type EnrichmentParams struct {
	Graph    graphstore.GraphStorage
	Payloads payload.Store
	Client   ai.EnrichmentClient

	// ChunkTokens bounds one embedding input (default 512 tokens).
	ChunkTokens int
	// SimilarLimit caps SIMILAR_TO neighbours per event (default 5).
	SimilarLimit int
	// SimilarityThreshold is the cosine-similarity floor for SIMILAR_TO
	// edges and for "related" entity candidates (default 0.80).
	SimilarityThreshold float64
	// EntityThreshold is the cosine-similarity floor above which an
	// extracted reference resolves onto an existing entity (default 0.92).
	EntityThreshold float64
}

func NewEnrichment(params EnrichmentParams) *Enrichment {
	chunkTokens := params.ChunkTokens
	if chunkTokens <= 0 {
		chunkTokens = ai.DefaultChunkTokens
	}
	similarLimit := params.SimilarLimit
	if similarLimit <= 0 {
		similarLimit = 5
	}
	similarityThreshold := params.SimilarityThreshold
	if similarityThreshold <= 0 {
		similarityThreshold = 0.80
	}
	entityThreshold := params.EntityThreshold
	if entityThreshold <= 0 {
		entityThreshold = 0.92
	}
	return &Enrichment{
		graph:               params.Graph,
		payloads:            params.Payloads,
		client:              params.Client,
		chunkTokens:         chunkTokens,
		similarLimit:        similarLimit,
		similarityThreshold: similarityThreshold,
		entityThreshold:     entityThreshold,
	}
}

func (s *Enrichment) ID() string {
	return StageEnrichment
}

func (s *Enrichment) Version() int {
	return EnrichmentVersion
}

func (s *Enrichment) Process(ctx context.Context, records []common.Record) error {
	for _, record := range records {
		if err := s.enrichRecord(ctx, record); err != nil {
			return fmt.Errorf("failed to enrich record %s at position %d: %w",
				record.RecordID, record.GlobalPosition, err)
		}
	}
	return nil
}

func (s *Enrichment) enrichRecord(ctx context.Context, record common.Record) error {
	if record.PayloadLocator == "" {
		return nil
	}

	body, err := s.payloads.Get(ctx, record.PayloadLocator)
	if err != nil {
		if errors.Is(err, payload.ErrNotFound) {
			// erased payload: derived data must not outlive its source
			logger.Info("[Enrichment] Clearing derived data for erased payload", "record_id", record.RecordID)
			return s.graph.SetEnrichment(ctx, record.RecordID, common.Enrichment{}, nil)
		}
		return err
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return nil
	}

	embedding, err := s.embedText(ctx, text)
	if err != nil {
		return err
	}

	extracted, err := s.client.ExtractEnrichment(ctx, text)
	if err != nil {
		return err
	}

	enrichment := common.Enrichment{
		Keywords:   extracted.Keywords,
		Summary:    extracted.Summary,
		Importance: clampImportance(extracted.Importance),
	}
	for _, ref := range extracted.References {
		if strings.TrimSpace(ref.Name) == "" {
			continue
		}
		enrichment.References = append(enrichment.References, common.Reference{
			Name: ref.Name,
			Type: ref.Type,
			Role: ref.Role,
		})
	}

	if err := s.graph.SetEnrichment(ctx, record.RecordID, enrichment, embedding); err != nil {
		return err
	}

	if err := s.linkSimilarEvents(ctx, record.RecordID, embedding); err != nil {
		return err
	}

	return s.resolveReferences(ctx, record, enrichment.References)
}

// embedText chunks the payload to the token budget, embeds every chunk and
// averages the vectors into one event embedding.
func (s *Enrichment) embedText(ctx context.Context, text string) ([]float32, error) {
	chunks, err := ai.ChunkText(text, ai.DefaultEncoder, s.chunkTokens)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	inputs := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		inputs[i] = []byte(chunk)
	}
	vectors, err := s.client.GenerateEmbeddings(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return meanVector(vectors), nil
}

func (s *Enrichment) linkSimilarEvents(ctx context.Context, key string, embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}

	maxDistance := 1 - s.similarityThreshold
	matches, err := s.graph.FindSimilar(ctx, embedding, common.NodeEvent, s.similarLimit+1, maxDistance)
	if err != nil {
		return err
	}

	linked := 0
	for _, match := range matches {
		if match.Key == key {
			continue
		}
		if linked >= s.similarLimit {
			break
		}
		err := s.graph.UpsertEdge(ctx, common.Edge{
			View:       common.ViewSimilarTo,
			From:       key,
			To:         match.Key,
			Confidence: 1 - match.Distance,
		})
		if errors.Is(err, graphstore.ErrConsistency) {
			logger.Warn("[Enrichment] Skipping inconsistent similarity edge", "from", key, "to", match.Key, "err", err)
			continue
		}
		if err != nil {
			return err
		}
		linked++
	}
	return nil
}

// resolveReferences maps extracted entity mentions onto entity nodes in
// three tiers: exact normalized-name match, embedding match above the
// entity threshold, and below that a fresh entity flagged as related to
// its nearest candidate.
func (s *Enrichment) resolveReferences(ctx context.Context, record common.Record, refs []common.Reference) error {
	for _, ref := range refs {
		entityKey, err := s.resolveEntity(ctx, record, ref)
		if err != nil {
			return err
		}

		err = s.graph.UpsertEdge(ctx, common.Edge{
			View:       common.ViewReferences,
			From:       record.RecordID,
			To:         entityKey,
			Attrs:      map[string]any{"role": ref.Role},
			Confidence: 1,
		})
		if errors.Is(err, graphstore.ErrConsistency) {
			logger.Warn("[Enrichment] Skipping inconsistent reference edge",
				"record_id", record.RecordID, "entity", entityKey, "err", err)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Enrichment) resolveEntity(ctx context.Context, record common.Record, ref common.Reference) (string, error) {
	normalized := NormalizeEntityName(ref.Name)

	// tier 1: exact normalized-name match
	existing, err := s.graph.FindEntityByName(ctx, normalized)
	if err == nil {
		if err := s.shareIfCrossActor(ctx, existing, record.ActorID); err != nil {
			return "", err
		}
		return existing.Key, nil
	}
	if !errors.Is(err, graphstore.ErrNotFound) {
		return "", err
	}

	nameEmbedding, err := s.client.GenerateEmbedding(ctx, []byte(ref.Name))
	if err != nil {
		return "", err
	}

	// tier 2: embedding match above the entity threshold
	var related string
	if len(nameEmbedding) > 0 {
		matches, err := s.graph.FindSimilar(ctx, nameEmbedding, common.NodeEntity, 1, 1-s.similarityThreshold)
		if err != nil {
			return "", err
		}
		if len(matches) > 0 {
			if 1-matches[0].Distance >= s.entityThreshold {
				match, err := s.graph.GetNode(ctx, matches[0].Key)
				if err != nil && !errors.Is(err, graphstore.ErrNotFound) {
					return "", err
				}
				if err == nil {
					if err := s.shareIfCrossActor(ctx, match, record.ActorID); err != nil {
						return "", err
					}
				}
				return matches[0].Key, nil
			}
			related = matches[0].Key
		}
	}

	// tier 3: new entity, linked to its nearest candidate when one exists
	suffix, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	entityKey := "entity_" + suffix

	node := common.Node{
		Kind:           common.NodeEntity,
		Key:            entityKey,
		Attrs:          map[string]any{"name": ref.Name, "entity_type": ref.Type},
		NormalizedName: normalized,
		ActorID:        record.ActorID,
		Embedding:      nameEmbedding,
	}
	if err := s.graph.UpsertNode(ctx, node); err != nil {
		return "", err
	}

	if related != "" {
		err := s.graph.UpsertEdge(ctx, common.Edge{
			View:       common.ViewSimilarTo,
			From:       entityKey,
			To:         related,
			Attrs:      map[string]any{"related": true},
			Confidence: s.similarityThreshold,
		})
		if err != nil && !errors.Is(err, graphstore.ErrConsistency) {
			return "", err
		}
	}

	return entityKey, nil
}

// shareIfCrossActor drops an entity's actor attribution the moment a
// second actor resolves onto it. Only exclusively-attributed entities may
// fall to an actor tombstone.
func (s *Enrichment) shareIfCrossActor(ctx context.Context, entity common.Node, actorID string) error {
	if entity.ActorID == "" || entity.ActorID == actorID {
		return nil
	}
	return s.graph.MarkEntityShared(ctx, entity.Key)
}

// NormalizeEntityName is the tier-one match key: lowercased with collapsed
// inner whitespace.
func NormalizeEntityName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func clampImportance(importance int) int {
	if importance < 1 {
		return 1
	}
	if importance > 10 {
		return 10
	}
	return importance
}

func meanVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	if len(vectors) == 1 {
		return vectors[0]
	}
	mean := make([]float32, len(vectors[0]))
	for _, vec := range vectors {
		for i := range vec {
			if i < len(mean) {
				mean[i] += vec[i]
			}
		}
	}
	for i := range mean {
		mean[i] /= float32(len(vectors))
	}
	return mean
}
