package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/driftline/ledger/internal/server/middleware"
	"github.com/driftline/ledger/pkg/logger"
	"github.com/driftline/ledger/pkg/pipeline"
)

func knownStage(stage string) bool {
	switch stage {
	case pipeline.StageProjection, pipeline.StageEnrichment, pipeline.StageReconsolidation:
		return true
	}
	return false
}

// ResetStageHandler moves one stage's checkpoint back. The stage replays
// the ledger from that position on its next poll; idempotent upserts make
// the replay convergent.
func ResetStageHandler(c echo.Context) error {
	type resetBody struct {
		Position int64 `json:"position" validate:"min=0"`
	}

	stage := c.Param("stage")
	if !knownStage(stage) {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Unknown stage", Field: "stage"})
	}

	data := new(resetBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	if err := app.Checkpoints.Reset(c.Request().Context(), stage, data.Position); err != nil {
		return respondError(c, err)
	}

	logger.Info("[Server] Stage checkpoint reset", "stage", stage, "position", data.Position)
	return c.JSON(http.StatusOK, map[string]any{
		"stage":    stage,
		"position": data.Position,
	})
}

// ReplayHandler rebuilds derived state from the ledger. With wipe set the
// whole graph is dropped first; either way every stage restarts from the
// given position.
func ReplayHandler(c echo.Context) error {
	type replayBody struct {
		Position int64 `json:"position" validate:"min=0"`
		Wipe     bool  `json:"wipe"`
	}

	data := new(replayBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	head, err := app.Ledger.HeadPosition(ctx)
	if err != nil {
		return respondError(c, err)
	}
	if data.Position > head {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Position beyond ledger head", Field: "position"})
	}

	if data.Wipe {
		if err := app.Graph.Wipe(ctx); err != nil {
			return respondError(c, err)
		}
	}

	stages := []string{pipeline.StageProjection, pipeline.StageEnrichment, pipeline.StageReconsolidation}
	for _, stage := range stages {
		if err := app.Checkpoints.Reset(ctx, stage, data.Position); err != nil {
			return respondError(c, err)
		}
	}

	logger.Info("[Server] Replay initiated", "position", data.Position, "wipe", data.Wipe)
	return c.JSON(http.StatusAccepted, map[string]any{
		"position": data.Position,
		"wipe":     data.Wipe,
		"stages":   stages,
	})
}
