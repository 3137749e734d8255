package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/driftline/ledger/internal/queue"
	"github.com/driftline/ledger/internal/server/middleware"
	"github.com/driftline/ledger/pkg/common"
	"github.com/driftline/ledger/pkg/envelope"
	"github.com/driftline/ledger/pkg/ledger"
)

type appendResult struct {
	RecordID  string `json:"record_id"`
	Duplicate bool   `json:"duplicate"`
	Position  int64  `json:"position"`
}

type appendResponse struct {
	Results []appendResult `json:"results"`
}

// AppendRecordsHandler accepts one envelope or a batch of them. An inline
// "payload" field is stored in the payload store and replaced by its
// locator before the envelope reaches the ledger. Batches are strict: one
// invalid envelope rejects the whole request before anything is appended.
func AppendRecordsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Unreadable request body"})
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Empty request body"})
	}

	if trimmed[0] == '[' {
		return appendBatch(ctx, c, app, trimmed)
	}
	return appendSingle(ctx, c, app, trimmed)
}

func appendSingle(ctx context.Context, c echo.Context, app *middleware.App, raw []byte) error {
	record, err := app.Envelopes.Validate(raw)
	if err != nil {
		return respondError(c, err)
	}

	if err := storeInlinePayload(ctx, app, raw, &record); err != nil {
		return respondError(c, err)
	}

	outcome, err := app.Ledger.Append(ctx, record)
	if err != nil {
		return respondError(c, err)
	}

	notifyAppend(app, outcome)

	status := http.StatusCreated
	if outcome.Duplicate {
		status = http.StatusOK
	}
	return c.JSON(status, appendResult{
		RecordID:  outcome.RecordID,
		Duplicate: outcome.Duplicate,
		Position:  outcome.Position,
	})
}

func appendBatch(ctx context.Context, c echo.Context, app *middleware.App, raw []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(raw, &raws); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Malformed batch"})
	}

	records, err := app.Envelopes.ValidateBatch(raws, ledger.MaxBatchSize)
	if err != nil {
		return respondError(c, err)
	}

	for i := range records {
		if err := storeInlinePayload(ctx, app, raws[i], &records[i]); err != nil {
			return respondError(c, err)
		}
	}

	outcomes, err := app.Ledger.AppendBatch(ctx, records)
	if err != nil {
		return respondError(c, err)
	}

	response := appendResponse{Results: make([]appendResult, len(outcomes))}
	var newest common.AppendOutcome
	created := 0
	for i, outcome := range outcomes {
		response.Results[i] = appendResult{
			RecordID:  outcome.RecordID,
			Duplicate: outcome.Duplicate,
			Position:  outcome.Position,
		}
		if !outcome.Duplicate {
			created++
			if outcome.Position > newest.Position {
				newest = outcome
			}
		}
	}
	if created > 0 {
		queue.PublishAppendNotice(app.Queue, queue.AppendNotice{Position: newest.Position, Count: created})
	}

	return c.JSON(http.StatusOK, response)
}

func storeInlinePayload(ctx context.Context, app *middleware.App, raw []byte, record *common.Record) error {
	if record.PayloadLocator != "" {
		return nil
	}

	var carrier struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &carrier); err != nil {
		return &envelope.ValidationError{Field: "payload", Message: "payload must be valid JSON"}
	}
	if len(bytes.TrimSpace(carrier.Payload)) == 0 {
		return nil
	}

	locator, err := app.Payloads.Put(ctx, carrier.Payload)
	if err != nil {
		return err
	}
	record.PayloadLocator = locator
	return nil
}

func notifyAppend(app *middleware.App, outcome common.AppendOutcome) {
	if outcome.Duplicate {
		return
	}
	queue.PublishAppendNotice(app.Queue, queue.AppendNotice{Position: outcome.Position, Count: 1})
}
