package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftline/ledger/internal/queue"
	"github.com/driftline/ledger/internal/storage"
	"github.com/driftline/ledger/internal/util"

	"github.com/driftline/ledger/pkg/ai"
	oai "github.com/driftline/ledger/pkg/ai/ollama"
	gai "github.com/driftline/ledger/pkg/ai/openai"
	graphpgx "github.com/driftline/ledger/pkg/graphstore/pgx"
	ledgerpgx "github.com/driftline/ledger/pkg/ledger/pgx"
	"github.com/driftline/ledger/pkg/leaselock"
	"github.com/driftline/ledger/pkg/ledger"
	"github.com/driftline/ledger/pkg/logger"
	"github.com/driftline/ledger/pkg/logger/console"
	payloads3 "github.com/driftline/ledger/pkg/payload/s3"
	"github.com/driftline/ledger/pkg/pipeline"
	pipelinepgx "github.com/driftline/ledger/pkg/pipeline/pgx"
	"github.com/driftline/ledger/pkg/retention"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"golang.org/x/sync/errgroup"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// Init pgx client
	pgConn, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()
	pgConn.Config().AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	// Init s3 client
	s3Client := storage.NewS3Client(ctx)
	bucket := util.GetEnvString("AWS_BUCKET", "ledger-payloads")

	aiClient := newAIClient()

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ledgerStore := ledgerpgx.NewLedgerStorage(pgConn)
	graphStore := graphpgx.NewGraphDBStorage(pgConn)
	payloadStore := payloads3.NewPayloadStore(payloads3.PayloadStoreParams{Client: s3Client, Bucket: bucket})
	checkpoints := pipelinepgx.NewCheckpointStorage(pgConn)
	locker := leaselock.New(pgConn)

	pollInterval := util.GetEnvDuration("PIPELINE_POLL_INTERVAL", 5*time.Second)
	batchSize := util.GetEnvInt("PIPELINE_BATCH_SIZE", 100)

	projection := pipeline.NewProjection(pipeline.ProjectionParams{Graph: graphStore})
	enrichment := pipeline.NewEnrichment(pipeline.EnrichmentParams{
		Graph:               graphStore,
		Payloads:            payloadStore,
		Client:              aiClient,
		ChunkTokens:         util.GetEnvInt("CHUNK_TOKENS", ai.DefaultChunkTokens),
		SimilarLimit:        util.GetEnvInt("SIMILAR_LIMIT", 5),
		SimilarityThreshold: util.GetEnvFloat("SIMILARITY_THRESHOLD", 0.80),
		EntityThreshold:     util.GetEnvFloat("ENTITY_THRESHOLD", 0.92),
	})
	reconsolidation := pipeline.NewReconsolidation(pipeline.ReconsolidationParams{
		Graph:          graphStore,
		Client:         aiClient,
		MinClusterSize: util.GetEnvInt("MIN_CLUSTER_SIZE", 3),
		MinConfidence:  util.GetEnvFloat("CLUSTER_CONFIDENCE", 0.80),
	})

	notices, err := queue.SubscribeAppends(ctx, conn)
	if err != nil {
		logger.Fatal("Failed to subscribe to append notices", "err", err)
	}

	wakeProjection := make(chan struct{}, 1)
	wakeEnrichment := make(chan struct{}, 1)
	wakeReconsolidation := make(chan struct{}, 1)
	go fanOutWakes(ctx, notices, wakeProjection, wakeEnrichment, wakeReconsolidation)

	boundBy := func(stageID string) func(context.Context) (int64, error) {
		return func(ctx context.Context) (int64, error) {
			cp, err := checkpoints.Get(ctx, stageID)
			if err != nil {
				return 0, err
			}
			return cp.LastPosition, nil
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		runner := pipeline.NewRunner(pipeline.RunnerParams{
			Stage:        projection,
			Ledger:       ledgerStore,
			Checkpoints:  checkpoints,
			Wake:         wakeProjection,
			PollInterval: pollInterval,
			BatchSize:    batchSize,
		})
		return runner.Run(groupCtx)
	})

	group.Go(func() error {
		runner := pipeline.NewRunner(pipeline.RunnerParams{
			Stage:        enrichment,
			Ledger:       ledgerStore,
			Checkpoints:  checkpoints,
			Wake:         wakeEnrichment,
			PollInterval: pollInterval,
			BatchSize:    batchSize,
			UpperBound:   boundBy(pipeline.StageProjection),
		})
		return runner.Run(groupCtx)
	})

	group.Go(func() error {
		// cluster rewrites are not safe under concurrent runners
		return locker.WithLease(groupCtx, "stage_reconsolidation", leaselock.Options{
			TTL:  2 * time.Minute,
			Wait: true,
		}, func(leaseCtx context.Context) error {
			runner := pipeline.NewRunner(pipeline.RunnerParams{
				Stage:        reconsolidation,
				Ledger:       ledgerStore,
				Checkpoints:  checkpoints,
				Wake:         wakeReconsolidation,
				PollInterval: util.GetEnvDuration("RECONSOLIDATION_INTERVAL", time.Minute),
				BatchSize:    batchSize,
				UpperBound:   boundBy(pipeline.StageEnrichment),
			})
			return runner.Run(leaseCtx)
		})
	})

	group.Go(func() error {
		return runRetention(groupCtx, locker, graphStore)
	})

	group.Go(func() error {
		return runDedupSweep(groupCtx, ledgerStore)
	})

	logger.Info("Worker started")
	if err := group.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("Worker failed", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}

func newAIClient() ai.EnrichmentClient {
	adapter := util.GetEnv("AI_ADAPTER")

	switch adapter {
	case "ollama":
		client, err := oai.NewEnrichmentOllamaClient(oai.NewEnrichmentOllamaClientParams{
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			SummaryModel:    util.GetEnv("AI_CHAT_SUMMARY_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			RequestTimeoutMin:     int64(util.GetEnvInt("AI_TIMEOUT_MIN", 10)),
			MaxConcurrentRequests: int64(util.GetEnvInt("AI_PARALLEL_REQ", 1)),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		return client
	default:
		return gai.NewEnrichmentOpenAIClient(gai.NewEnrichmentOpenAIClientParams{
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			SummaryModel:    util.GetEnv("AI_CHAT_SUMMARY_MODEL"),

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),

			RequestTimeoutMin:     int64(util.GetEnvInt("AI_TIMEOUT_MIN", 5)),
			MaxConcurrentRequests: int64(util.GetEnvInt("AI_PARALLEL_REQ", 4)),
		})
	}
}

func fanOutWakes(ctx context.Context, notices <-chan queue.AppendNotice, wakes ...chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-notices:
			if !ok {
				return
			}
			for _, wake := range wakes {
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}
}

func runRetention(ctx context.Context, locker *leaselock.Locker, graphStore *graphpgx.GraphDBStorage) error {
	interval := util.GetEnvDuration("RETENTION_INTERVAL", time.Hour)
	pruner := retention.NewPruner(retention.PrunerParams{
		Store:  graphStore,
		Config: retention.DefaultConfig(),
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		err := locker.WithLease(ctx, "retention_sweep", leaselock.Options{TTL: 10 * time.Minute}, func(leaseCtx context.Context) error {
			_, err := pruner.Sweep(leaseCtx)
			return err
		})
		if errors.Is(err, leaselock.ErrBusy) {
			// another replica is sweeping
			continue
		}
		if err != nil && ctx.Err() == nil {
			logger.Error("[Retention] Sweep failed", "err", err)
		}
	}
}

func runDedupSweep(ctx context.Context, ledgerStore ledger.Ledger) error {
	window := util.GetEnvDuration("DEDUP_WINDOW", 24*time.Hour)
	interval := util.GetEnvDuration("DEDUP_SWEEP_INTERVAL", time.Hour)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		removed, err := ledgerStore.SweepDedupIndex(ctx, window)
		if err != nil && ctx.Err() == nil {
			logger.Error("[Ledger] Dedup sweep failed", "err", err)
			continue
		}
		if removed > 0 {
			logger.Info("[Ledger] Dedup window swept", "removed", removed)
		}
	}
}
