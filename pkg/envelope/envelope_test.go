package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func validEnvelope(overrides map[string]any) json.RawMessage {
	env := map[string]any{
		"record_id":      "rec-001",
		"record_type":    "agent.tool_call",
		"occurred_at":    "2026-08-30T10:00:00+02:00",
		"correlation_id": "session-42",
		"actor_id":       "agent-7",
		"schema_version": 1,
	}
	for k, v := range overrides {
		if v == nil {
			delete(env, k)
			continue
		}
		env[k] = v
	}
	raw, _ := json.Marshal(env)
	return raw
}

func TestValidateAcceptsCompleteEnvelope(t *testing.T) {
	v := NewValidator()

	record, err := v.Validate(validEnvelope(map[string]any{
		"ended_at":        "2026-08-30T10:00:05+02:00",
		"trace_id":        "trace-1",
		"status":          "ok",
		"importance_hint": 7,
	}))
	if err != nil {
		t.Fatalf("expected valid envelope, got %v", err)
	}

	if record.RecordID != "rec-001" {
		t.Fatalf("unexpected record id: %q", record.RecordID)
	}
	if record.EndedAt == nil || !record.EndedAt.After(record.OccurredAt) {
		t.Fatalf("ended_at not parsed: %+v", record.EndedAt)
	}
	if record.ImportanceHint != 7 {
		t.Fatalf("unexpected importance hint: %d", record.ImportanceHint)
	}
	if record.GlobalPosition != 0 || !record.AcceptedAt.IsZero() {
		t.Fatalf("server-assigned fields must stay zero before append")
	}
}

func TestValidateRejectsWithFieldPath(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		wantField string
	}{
		{
			name:      "missing record_id",
			overrides: map[string]any{"record_id": nil},
			wantField: "record_id",
		},
		{
			name:      "missing correlation_id",
			overrides: map[string]any{"correlation_id": nil},
			wantField: "correlation_id",
		},
		{
			name:      "record_type without namespace",
			overrides: map[string]any{"record_type": "toolcall"},
			wantField: "record_type",
		},
		{
			name:      "record_type with uppercase",
			overrides: map[string]any{"record_type": "Agent.ToolCall"},
			wantField: "record_type",
		},
		{
			name:      "timestamp without offset",
			overrides: map[string]any{"occurred_at": "2026-08-30T10:00:00"},
			wantField: "occurred_at",
		},
		{
			name: "ended_at before occurred_at",
			overrides: map[string]any{
				"ended_at": "2026-08-30T09:00:00+02:00",
			},
			wantField: "ended_at",
		},
		{
			name:      "unknown status",
			overrides: map[string]any{"status": "maybe"},
			wantField: "status",
		},
		{
			name:      "schema_version zero",
			overrides: map[string]any{"schema_version": 0},
			wantField: "schema_version",
		},
		{
			name:      "importance hint out of range",
			overrides: map[string]any{"importance_hint": 11},
			wantField: "importance_hint",
		},
		{
			name:      "self-referencing parent",
			overrides: map[string]any{"parent_record_id": "rec-001"},
			wantField: "parent_record_id",
		},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(validEnvelope(tt.overrides))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if verr.Field != tt.wantField {
				t.Fatalf("unexpected field: got %q, want %q (%s)", verr.Field, tt.wantField, verr.Message)
			}
		})
	}
}

func TestValidateBatchIsStrict(t *testing.T) {
	v := NewValidator()

	raws := []json.RawMessage{
		validEnvelope(nil),
		validEnvelope(map[string]any{"record_id": "rec-002", "actor_id": nil}),
		validEnvelope(map[string]any{"record_id": "rec-003"}),
	}

	records, err := v.ValidateBatch(raws, 100)
	if err == nil {
		t.Fatalf("expected batch rejection")
	}
	if records != nil {
		t.Fatalf("rejected batch must admit no records")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Field != "[1].actor_id" {
		t.Fatalf("unexpected field path: %q", verr.Field)
	}
}

func TestValidateBatchLimits(t *testing.T) {
	v := NewValidator()

	if _, err := v.ValidateBatch(nil, 10); err == nil {
		t.Fatalf("empty batch must be rejected")
	}

	raws := make([]json.RawMessage, 0, 11)
	for i := 0; i < 11; i++ {
		raws = append(raws, validEnvelope(map[string]any{"record_id": fmt.Sprintf("rec-%03d", i)}))
	}
	if _, err := v.ValidateBatch(raws, 10); err == nil {
		t.Fatalf("oversized batch must be rejected")
	}
	if records, err := v.ValidateBatch(raws[:10], 10); err != nil || len(records) != 10 {
		t.Fatalf("batch at the limit must pass: records=%d err=%v", len(records), err)
	}
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	v := NewValidator()
	if _, err := v.Validate(json.RawMessage(`{"record_id": `)); err == nil {
		t.Fatalf("expected malformed JSON rejection")
	}
}
