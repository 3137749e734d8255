package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/driftline/ledger/internal/server/middleware"
	"github.com/driftline/ledger/pkg/common"
)

// SessionEventsHandler returns the events of one correlation group in
// ledger order, the stable timeline every consumer can agree on.
func SessionEventsHandler(c echo.Context) error {
	type sessionQuery struct {
		Limit int `query:"limit" validate:"omitempty,min=1,max=1000"`
	}

	correlationID := c.Param("correlation_id")
	if correlationID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Missing correlation id", Field: "correlation_id"})
	}

	data := new(sessionQuery)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid query parameters"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid query parameters"})
	}
	if data.Limit <= 0 {
		data.Limit = 200
	}

	app := c.(*middleware.AppContext).App
	events, err := app.Graph.SessionEvents(c.Request().Context(), correlationID, data.Limit)
	if err != nil {
		return respondError(c, err)
	}
	if events == nil {
		events = []common.Node{}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"correlation_id": correlationID,
		"events":         events,
	})
}
