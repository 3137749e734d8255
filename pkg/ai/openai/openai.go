package openai

import (
	"sync"

	"github.com/driftline/ledger/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// EnrichmentOpenAIClient implements ai.EnrichmentClient against any
// OpenAI-compatible API. Embedding and chat endpoints are configured
// independently so they can point at different providers.
//
// An EnrichmentOpenAIClient should be created using NewEnrichmentOpenAIClient.
type EnrichmentOpenAIClient struct {
	embeddingModel  string
	extractionModel string
	summaryModel    string

	embeddingURL string
	chatURL      string

	timeoutMin int64
	reqLock    *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewEnrichmentOpenAIClientParams configures a new EnrichmentOpenAIClient.
//
// EmbeddingURL/EmbeddingKey and ChatURL/ChatKey configure the two API
// endpoints; an empty URL falls back to the provider default.
type NewEnrichmentOpenAIClientParams struct {
	EmbeddingModel  string
	ExtractionModel string
	SummaryModel    string

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	RequestTimeoutMin     int64
	MaxConcurrentRequests int64
}

// NewEnrichmentOpenAIClient creates a client with separate OpenAI clients
// for embeddings and chat tasks.
func NewEnrichmentOpenAIClient(
	params NewEnrichmentOpenAIClientParams,
) *EnrichmentOpenAIClient {
	timeoutMin := params.RequestTimeoutMin
	if timeoutMin <= 0 {
		timeoutMin = 5
	}
	maxRequests := params.MaxConcurrentRequests
	if maxRequests <= 0 {
		maxRequests = 4
	}

	return &EnrichmentOpenAIClient{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,
		summaryModel:    params.SummaryModel,

		embeddingURL: params.EmbeddingURL,
		chatURL:      params.ChatURL,

		timeoutMin: timeoutMin,
		reqLock:    semaphore.NewWeighted(maxRequests),

		metricsLock: sync.Mutex{},
		metrics:     ai.ModelMetrics{},

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}
