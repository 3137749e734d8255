package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/driftline/ledger/internal/server/middleware"
	"github.com/driftline/ledger/pkg/common"
	"github.com/driftline/ledger/pkg/graphstore"
	"github.com/driftline/ledger/pkg/ledger"
)

type fakeLedger struct {
	ledger.Ledger
	head int64
}

func (f *fakeLedger) HeadPosition(context.Context) (int64, error) {
	return f.head, nil
}

type fakeCheckpoints struct {
	resets map[string]int64
}

func (f *fakeCheckpoints) Get(_ context.Context, stageID string) (common.Checkpoint, error) {
	return common.Checkpoint{StageID: stageID}, nil
}

func (f *fakeCheckpoints) Commit(context.Context, common.Checkpoint) error { return nil }

func (f *fakeCheckpoints) Reset(_ context.Context, stageID string, position int64) error {
	f.resets[stageID] = position
	return nil
}

type fakeGraph struct {
	graphstore.GraphStorage
	wiped bool
}

func (f *fakeGraph) Wipe(context.Context) error {
	f.wiped = true
	return nil
}

type structValidator struct {
	validator *validator.Validate
}

func (v *structValidator) Validate(i any) error {
	return v.validator.Struct(i)
}

func adminContext(t *testing.T, app *middleware.App, target, body string) (*middleware.AppContext, *httptest.ResponseRecorder) {
	t.Helper()

	e := echo.New()
	e.Validator = &structValidator{validator: validator.New()}

	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return &middleware.AppContext{Context: e.NewContext(req, rec), App: app}, rec
}

func TestReplayHandlerResetsAllStages(t *testing.T) {
	checkpoints := &fakeCheckpoints{resets: make(map[string]int64)}
	graph := &fakeGraph{}
	app := &middleware.App{
		Ledger:      &fakeLedger{head: 100},
		Graph:       graph,
		Checkpoints: checkpoints,
	}

	c, rec := adminContext(t, app, "/api/admin/replay", `{"position": 40, "wipe": true}`)
	if err := ReplayHandler(c); err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: got %d, want %d (%s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	if !graph.wiped {
		t.Fatalf("wipe requested but graph not wiped")
	}
	if len(checkpoints.resets) != 3 {
		t.Fatalf("expected all three stages reset, got %v", checkpoints.resets)
	}
	for stage, position := range checkpoints.resets {
		if position != 40 {
			t.Fatalf("stage %s reset to %d, want 40", stage, position)
		}
	}
}

func TestReplayHandlerRejectsPositionBeyondHead(t *testing.T) {
	checkpoints := &fakeCheckpoints{resets: make(map[string]int64)}
	app := &middleware.App{
		Ledger:      &fakeLedger{head: 10},
		Graph:       &fakeGraph{},
		Checkpoints: checkpoints,
	}

	c, rec := adminContext(t, app, "/api/admin/replay", `{"position": 11}`)
	if err := ReplayHandler(c); err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected response body: %v", err)
	}
	if body.Field != "position" {
		t.Fatalf("unexpected error field: %q", body.Field)
	}
	if len(checkpoints.resets) != 0 {
		t.Fatalf("rejected replay must not touch checkpoints: %v", checkpoints.resets)
	}
}

func TestResetStageHandlerRejectsUnknownStage(t *testing.T) {
	checkpoints := &fakeCheckpoints{resets: make(map[string]int64)}
	app := &middleware.App{Checkpoints: checkpoints}

	c, rec := adminContext(t, app, "/api/admin/stages/compaction/reset", `{"position": 0}`)
	c.SetParamNames("stage")
	c.SetParamValues("compaction")

	if err := ResetStageHandler(c); err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if len(checkpoints.resets) != 0 {
		t.Fatalf("unknown stage must not reset anything: %v", checkpoints.resets)
	}
}

func TestResetStageHandlerResetsKnownStage(t *testing.T) {
	checkpoints := &fakeCheckpoints{resets: make(map[string]int64)}
	app := &middleware.App{Checkpoints: checkpoints}

	c, rec := adminContext(t, app, "/api/admin/stages/enrichment/reset", `{"position": 7}`)
	c.SetParamNames("stage")
	c.SetParamValues("enrichment")

	if err := ResetStageHandler(c); err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d, want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if checkpoints.resets["enrichment"] != 7 {
		t.Fatalf("unexpected reset positions: %v", checkpoints.resets)
	}
}
