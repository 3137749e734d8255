package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftline/ledger/internal/queue"
	mid "github.com/driftline/ledger/internal/server/middleware"
	"github.com/driftline/ledger/internal/storage"
	"github.com/driftline/ledger/internal/util"
	"github.com/driftline/ledger/pkg/envelope"
	graphpgx "github.com/driftline/ledger/pkg/graphstore/pgx"
	ledgerpgx "github.com/driftline/ledger/pkg/ledger/pgx"
	"github.com/driftline/ledger/pkg/logger"
	payloads3 "github.com/driftline/ledger/pkg/payload/s3"
	pipelinepgx "github.com/driftline/ledger/pkg/pipeline/pgx"

	"github.com/go-playground/validator"
	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runMigrations()

	conn, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()
	conn.Config().AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.Setup(ch); err != nil {
		logger.Fatal("Failed to set up queue", "err", err)
	}

	s3Client := storage.NewS3Client(ctx)
	bucket := util.GetEnvString("AWS_BUCKET", "ledger-payloads")

	app := &mid.App{
		DBConn: conn,
		Queue:  ch,
		S3:     s3Client,

		Ledger:      ledgerpgx.NewLedgerStorage(conn),
		Graph:       graphpgx.NewGraphDBStorage(conn),
		Payloads:    payloads3.NewPayloadStore(payloads3.PayloadStoreParams{Client: s3Client, Bucket: bucket}),
		Checkpoints: pipelinepgx.NewCheckpointStorage(conn),
		Envelopes:   envelope.NewValidator(),
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("16M"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

func runMigrations() {
	source := util.GetEnvString("MIGRATIONS_URL", "file://migrations")
	m, err := migrate.New(source, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Failed to open migrations", "err", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("Failed to run migrations", "err", err)
	}
	logger.Info("Migrations up to date")
}
