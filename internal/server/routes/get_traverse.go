package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/driftline/ledger/internal/server/middleware"
	"github.com/driftline/ledger/pkg/common"
	"github.com/driftline/ledger/pkg/graphstore"
)

// TraverseHandler walks the graph from one or more entry keys across the
// requested views. Every bound is a hard cap; a truncated result is a
// success with Truncated set, never an error.
func TraverseHandler(c echo.Context) error {
	type traverseQuery struct {
		Keys     string `query:"keys" validate:"required"`
		Views    string `query:"views"`
		MaxDepth int    `query:"max_depth" validate:"omitempty,min=1,max=10"`
		MaxNodes int    `query:"max_nodes" validate:"omitempty,min=1,max=1000"`
	}

	data := new(traverseQuery)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid query parameters"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid query parameters"})
	}

	views, ok := parseViews(data.Views)
	if !ok {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Unknown view", Field: "views"})
	}

	app := c.(*middleware.AppContext).App
	subgraph, err := app.Graph.BoundedTraverse(c.Request().Context(), graphstore.TraverseParams{
		EntryPoints: splitCSV(data.Keys),
		Views:       views,
		MaxDepth:    data.MaxDepth,
		MaxNodes:    data.MaxNodes,
		Timeout:     5 * time.Second,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, subgraph)
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseViews(raw string) ([]common.View, bool) {
	parts := splitCSV(raw)
	if len(parts) == 0 {
		return common.Views(), true
	}

	known := make(map[common.View]bool)
	for _, view := range common.Views() {
		known[view] = true
	}

	views := make([]common.View, 0, len(parts))
	for _, part := range parts {
		view := common.View(strings.ToUpper(part))
		if !known[view] {
			return nil, false
		}
		views = append(views, view)
	}
	return views, true
}
