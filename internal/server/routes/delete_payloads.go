package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/driftline/ledger/internal/server/middleware"
	"github.com/driftline/ledger/pkg/logger"
	"github.com/driftline/ledger/pkg/payload"
)

// ErasePayloadHandler removes payload bytes for good. The owning record
// envelope stays in the ledger untouched; only an audit entry marks that
// the payload existed and was erased. Re-enrichment of the record later
// clears its derived attributes, so nothing derived outlives the source.
func ErasePayloadHandler(c echo.Context) error {
	type eraseBody struct {
		RequestedBy string `json:"requested_by" validate:"required,max=256"`
		Reason      string `json:"reason" validate:"max=1024"`
	}

	locator := c.Param("locator")
	if locator == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Missing locator", Field: "locator"})
	}

	data := new(eraseBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	if err := app.Payloads.Erase(ctx, locator); err != nil && !errors.Is(err, payload.ErrNotFound) {
		return respondError(c, err)
	}

	if err := app.Ledger.AuditErasure(ctx, locator, data.RequestedBy, data.Reason); err != nil {
		return respondError(c, err)
	}

	logger.Info("[Server] Payload erased", "locator", locator, "requested_by", data.RequestedBy)
	return c.JSON(http.StatusOK, map[string]any{
		"locator": locator,
		"erased":  true,
	})
}
