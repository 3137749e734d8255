package ai

import (
	"strings"
	"testing"
)

func TestUnmarshalFlexible(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "plain json",
			input: `{"summary": "deploy finished", "importance": 4}`,
		},
		{
			name:  "double encoded",
			input: `"{\"summary\": \"deploy finished\", \"importance\": 4}"`,
		},
		{
			name:  "trailing comma repaired",
			input: `{"summary": "deploy finished", "importance": 4,}`,
		},
		{
			name:  "surrounding whitespace",
			input: "\n  {\"summary\": \"deploy finished\", \"importance\": 4}  \n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out ExtractionResponse
			if err := UnmarshalFlexible(tt.input, &out); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Summary != "deploy finished" {
				t.Fatalf("unexpected summary: %q", out.Summary)
			}
			if out.Importance != 4 {
				t.Fatalf("unexpected importance: %d", out.Importance)
			}
		})
	}
}

func TestUnmarshalFlexibleRejectsGarbage(t *testing.T) {
	var out ExtractionResponse
	if err := UnmarshalFlexible("not json at all }{", &out); err == nil {
		t.Fatalf("expected error for unrepairable input")
	}
}

func TestGenerateSchemaFromPointer(t *testing.T) {
	schema := GenerateSchema(&ExtractionResponse{})
	if schema == nil {
		t.Fatalf("expected a schema")
	}
	// pointer and value inputs must describe the same type
	if value := GenerateSchema(ExtractionResponse{}); value == nil {
		t.Fatalf("expected a schema for value input")
	}
}

func TestSummaryPromptNumbersFragments(t *testing.T) {
	prompt := SummaryPrompt([]string{"first thing", "second thing"})
	if !strings.Contains(prompt, "1. first thing") || !strings.Contains(prompt, "2. second thing") {
		t.Fatalf("fragments not numbered: %q", prompt)
	}
}
