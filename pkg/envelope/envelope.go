package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator"

	"github.com/driftline/ledger/pkg/common"
)

// ValidationError reports the first offending field of a rejected envelope.
// It is fully recoverable: the producer corrects the field and resends with
// the same record_id.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid envelope field %q: %s", e.Field, e.Message)
}

var recordTypePattern = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)+$`)

// rawEnvelope is the wire shape of a record before admission. Timestamps
// stay strings here so their timezone offsets can be checked; time.Time
// would silently default to UTC.
type rawEnvelope struct {
	RecordID       string `json:"record_id" validate:"required,max=256"`
	RecordType     string `json:"record_type" validate:"required,max=256"`
	OccurredAt     string `json:"occurred_at" validate:"required"`
	EndedAt        string `json:"ended_at,omitempty"`
	CorrelationID  string `json:"correlation_id" validate:"required,max=256"`
	ActorID        string `json:"actor_id" validate:"required,max=256"`
	TraceID        string `json:"trace_id,omitempty" validate:"max=256"`
	PayloadLocator string `json:"payload_locator,omitempty" validate:"max=1024"`
	ParentRecordID string `json:"parent_record_id,omitempty" validate:"max=256"`
	Status         string `json:"status,omitempty" validate:"omitempty,oneof=ok error timeout"`
	SchemaVersion  int    `json:"schema_version" validate:"required,min=1"`
	ImportanceHint int    `json:"importance_hint,omitempty" validate:"omitempty,min=1,max=10"`
}

// Validator performs structural validation of incoming envelopes. It is
// stateless and safe for concurrent use.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate parses and checks a single raw envelope. On success it returns
// the admitted Record with server-assigned fields still zero; on failure a
// *ValidationError naming the offending field. It has no side effects.
func (v *Validator) Validate(raw json.RawMessage) (common.Record, error) {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return common.Record{}, &ValidationError{Field: "", Message: "malformed JSON: " + err.Error()}
	}

	if err := v.validate.Struct(&env); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return common.Record{}, &ValidationError{
				Field:   jsonFieldName(fe.Field()),
				Message: fmt.Sprintf("failed %q constraint", fe.Tag()),
			}
		}
		return common.Record{}, &ValidationError{Field: "", Message: err.Error()}
	}

	if !recordTypePattern.MatchString(env.RecordType) {
		return common.Record{}, &ValidationError{
			Field:   "record_type",
			Message: "must be namespaced lowercase segments like \"agent.tool_call\"",
		}
	}

	occurredAt, err := parseAwareTime(env.OccurredAt)
	if err != nil {
		return common.Record{}, &ValidationError{Field: "occurred_at", Message: err.Error()}
	}

	var endedAt *time.Time
	if env.EndedAt != "" {
		parsed, err := parseAwareTime(env.EndedAt)
		if err != nil {
			return common.Record{}, &ValidationError{Field: "ended_at", Message: err.Error()}
		}
		if parsed.Before(occurredAt) {
			return common.Record{}, &ValidationError{Field: "ended_at", Message: "must not precede occurred_at"}
		}
		endedAt = &parsed
	}

	if env.ParentRecordID == env.RecordID && env.ParentRecordID != "" {
		return common.Record{}, &ValidationError{Field: "parent_record_id", Message: "must not reference the record itself"}
	}

	return common.Record{
		RecordID:       env.RecordID,
		RecordType:     env.RecordType,
		OccurredAt:     occurredAt,
		EndedAt:        endedAt,
		CorrelationID:  env.CorrelationID,
		ActorID:        env.ActorID,
		TraceID:        env.TraceID,
		PayloadLocator: env.PayloadLocator,
		ParentRecordID: env.ParentRecordID,
		Status:         env.Status,
		SchemaVersion:  env.SchemaVersion,
		ImportanceHint: env.ImportanceHint,
		Raw:            raw,
	}, nil
}

// ValidateBatch checks a batch in strict mode: the first malformed item
// rejects the whole batch, so ingestion never admits partial batches.
func (v *Validator) ValidateBatch(raws []json.RawMessage, maxBatch int) ([]common.Record, error) {
	if len(raws) == 0 {
		return nil, &ValidationError{Field: "", Message: "empty batch"}
	}
	if maxBatch > 0 && len(raws) > maxBatch {
		return nil, &ValidationError{Field: "", Message: fmt.Sprintf("batch exceeds %d records", maxBatch)}
	}
	records := make([]common.Record, 0, len(raws))
	for i, raw := range raws {
		record, err := v.Validate(raw)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				return nil, &ValidationError{
					Field:   fmt.Sprintf("[%d].%s", i, verr.Field),
					Message: verr.Message,
				}
			}
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// parseAwareTime requires an RFC3339 timestamp with an explicit offset.
// A bare local timestamp is ambiguous across producers and is rejected.
func parseAwareTime(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be RFC3339 with timezone offset")
	}
	return parsed, nil
}

// jsonFieldName maps the Go struct field names validator reports back to
// their wire names.
func jsonFieldName(structField string) string {
	var b strings.Builder
	for i, r := range structField {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	switch name := b.String(); name {
	case "record_i_d":
		return "record_id"
	case "correlation_i_d":
		return "correlation_id"
	case "actor_i_d":
		return "actor_id"
	case "trace_i_d":
		return "trace_id"
	case "parent_record_i_d":
		return "parent_record_id"
	default:
		return name
	}
}
