package ollama

import (
	"context"

	"github.com/driftline/ledger/pkg/ai"
)

// ExtractEnrichment derives keywords, a summary, an importance rating and
// entity references from one payload text.
func (c *EnrichmentOllamaClient) ExtractEnrichment(
	ctx context.Context,
	payloadText string,
) (ai.ExtractionResponse, error) {
	var out ai.ExtractionResponse
	err := c.GenerateCompletionWithFormat(
		ctx,
		"enrichment",
		"Keywords, summary, importance and entity references for an event payload.",
		ai.ExtractionPrompt(payloadText),
		&out,
	)
	if err != nil {
		return ai.ExtractionResponse{}, err
	}
	return out, nil
}

// Summarize condenses a cluster of event summaries into one summary text.
func (c *EnrichmentOllamaClient) Summarize(
	ctx context.Context,
	fragments []string,
) (string, error) {
	return c.GenerateCompletion(ctx, ai.SummaryPrompt(fragments))
}
