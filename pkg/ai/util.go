package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// GenerateSchema creates a JSON Schema from the given Go type, suitable
// for structured-output requests.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	v := reflect.New(t).Interface()
	return reflector.Reflect(v)
}

// UnmarshalFlexible parses model-produced JSON with fallbacks: standard
// unmarshal first, then double-encoded strings, then a jsonrepair pass for
// malformed output.
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("unmarshal failed after repair: input=%s repaired=%s", input, repaired)
	}
	return nil
}

// ExtractionPrompt builds the extraction request for one payload text.
func ExtractionPrompt(payloadText string) string {
	var b strings.Builder
	b.WriteString("Analyze the following event payload. Extract up to ten keywords, ")
	b.WriteString("a one-sentence summary, an importance rating from 1 to 10, and every ")
	b.WriteString("mentioned entity with its type (actor, tool, resource, concept) and ")
	b.WriteString("its role in the event (subject, object, tool, target).\n\nPayload:\n")
	b.WriteString(payloadText)
	return b.String()
}

// SummaryPrompt builds the cluster-summary request from event summaries.
func SummaryPrompt(fragments []string) string {
	var b strings.Builder
	b.WriteString("The following are summaries of related events. Condense them into ")
	b.WriteString("a single short paragraph describing what happened overall.\n\n")
	for i, fragment := range fragments {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, fragment))
	}
	return b.String()
}
