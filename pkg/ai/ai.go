package ai

import (
	"context"
)

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens  int   `json:"input_tokens"`
	OutputTokens int   `json:"output_tokens"`
	TotalTokens  int   `json:"total_tokens"`
	DurationMs   int64 `json:"duration_ms"`

	TokenPerSecond float32 `json:"token_per_second"`
}

// ExtractedReference is one entity mention the extraction model found in a
// payload, with the role the entity plays in the event.
type ExtractedReference struct {
	Name string `json:"name" jsonschema_description:"The canonical name of the mentioned entity."`
	Type string `json:"type" jsonschema_description:"Entity category: actor, tool, resource or concept."`
	Role string `json:"role" jsonschema_description:"Role in the event: subject, object, tool or target."`
}

// ExtractionResponse is the structured enrichment derived from one record
// payload. Everything in it is recomputable and owned by the payload: an
// erased payload yields an empty response on re-enrichment.
type ExtractionResponse struct {
	Keywords   []string             `json:"keywords" jsonschema_description:"Up to ten salient keywords."`
	Summary    string               `json:"summary" jsonschema_description:"One-sentence summary of the event payload."`
	Importance int                  `json:"importance" jsonschema_description:"Importance of the event from 1 to 10."`
	References []ExtractedReference `json:"references" jsonschema_description:"Entities mentioned in the payload."`
}

// GenerateOptions holds per-call overrides for model requests.
type GenerateOptions struct {
	Model         string
	Temperature   float64
	SystemPrompts []string
}

// GenerateOption mutates GenerateOptions.
type GenerateOption func(*GenerateOptions)

// WithModel overrides the model used for a single request.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithTemperature overrides the sampling temperature for a single request.
func WithTemperature(temperature float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temperature
	}
}

// WithSystemPrompt appends a system prompt to the request.
func WithSystemPrompt(prompt string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = append(o.SystemPrompts, prompt)
	}
}

// EnrichmentClient is the pluggable inference boundary of the
// consolidation pipeline. The pipeline never assumes a specific provider;
// any backend that can embed text and produce the structured extraction
// satisfies it.
type EnrichmentClient interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error)

	// ExtractEnrichment derives keywords, a summary, an importance rating
	// and entity references from one payload text.
	ExtractEnrichment(ctx context.Context, payloadText string) (ExtractionResponse, error)

	// Summarize condenses a cluster of event summaries into one summary
	// text for a summary node.
	Summarize(ctx context.Context, fragments []string) (string, error)

	GetMetrics() ModelMetrics
	ResetMetrics()
}
