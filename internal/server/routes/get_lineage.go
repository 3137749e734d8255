package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/driftline/ledger/internal/server/middleware"
)

// LineageHandler returns the causal ancestry of one record: the CAUSED_BY
// chain walked up to max_depth.
func LineageHandler(c echo.Context) error {
	type lineageQuery struct {
		MaxDepth int `query:"max_depth" validate:"omitempty,min=1,max=50"`
	}

	recordID := c.Param("record_id")
	if recordID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Missing record id", Field: "record_id"})
	}

	data := new(lineageQuery)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid query parameters"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid query parameters"})
	}
	if data.MaxDepth <= 0 {
		data.MaxDepth = 10
	}

	app := c.(*middleware.AppContext).App
	lineage, err := app.Graph.Lineage(c.Request().Context(), recordID, data.MaxDepth)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, lineage)
}
