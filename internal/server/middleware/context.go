package middleware

import (
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/driftline/ledger/pkg/envelope"
	"github.com/driftline/ledger/pkg/graphstore"
	"github.com/driftline/ledger/pkg/ledger"
	"github.com/driftline/ledger/pkg/payload"
	"github.com/driftline/ledger/pkg/pipeline"
)

// App bundles the shared clients and stores every handler needs. Built
// once at startup; handlers reach it through AppContext.
type App struct {
	DBConn *pgxpool.Pool
	Queue  *amqp091.Channel
	S3     *s3.Client

	Ledger      ledger.Ledger
	Graph       graphstore.GraphStorage
	Payloads    payload.Store
	Checkpoints pipeline.CheckpointStore
	Envelopes   *envelope.Validator
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{Context: c, App: app})
		}
	}
}
