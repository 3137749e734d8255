package server

import (
	"github.com/driftline/ledger/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Ingestion
	apiRoutes.POST("/records", routes.AppendRecordsHandler)

	// Queries
	apiRoutes.GET("/traverse", routes.TraverseHandler)
	apiRoutes.GET("/sessions/:correlation_id/events", routes.SessionEventsHandler)
	apiRoutes.GET("/lineage/:record_id", routes.LineageHandler)

	// Compliance
	apiRoutes.DELETE("/payloads/:locator", routes.ErasePayloadHandler)
	apiRoutes.DELETE("/actors/:actor_id", routes.TombstoneActorHandler)

	// Operations
	apiRoutes.POST("/admin/stages/:stage/reset", routes.ResetStageHandler)
	apiRoutes.POST("/admin/replay", routes.ReplayHandler)
}
