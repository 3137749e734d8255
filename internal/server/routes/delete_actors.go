package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/driftline/ledger/internal/server/middleware"
	"github.com/driftline/ledger/pkg/logger"
)

// TombstoneActorHandler removes derived entity nodes attributable to one
// actor from the graph. Event nodes and ledger envelopes remain; they are
// the compliance record of what was ingested.
func TombstoneActorHandler(c echo.Context) error {
	actorID := c.Param("actor_id")
	if actorID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Missing actor id", Field: "actor_id"})
	}

	app := c.(*middleware.AppContext).App
	removed, err := app.Graph.TombstoneActor(c.Request().Context(), actorID)
	if err != nil {
		return respondError(c, err)
	}

	logger.Info("[Server] Actor tombstoned", "actor_id", actorID, "entities_removed", removed)
	return c.JSON(http.StatusOK, map[string]any{
		"actor_id":         actorID,
		"entities_removed": removed,
	})
}
