package ai

import (
	"reflect"
	"testing"
)

func TestChunkTextEmptyInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t\n"} {
		chunks, err := ChunkText(input, DefaultEncoder, DefaultChunkTokens)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if chunks != nil {
			t.Fatalf("blank input must yield no chunks, got %v", chunks)
		}
	}
}

func TestSplitIntoSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "period boundaries",
			in:   "First sentence. Second sentence. Third.",
			want: []string{"First sentence.", "Second sentence.", "Third."},
		},
		{
			name: "question and exclamation",
			in:   "Did it work? It did! Great.",
			want: []string{"Did it work?", "It did!", "Great."},
		},
		{
			name: "newlines break lines",
			in:   "line one\nline two\n\nline three",
			want: []string{"line one", "line two", "line three"},
		},
		{
			name: "dotted identifiers stay whole",
			in:   "Calling agent.tool_call now. Done.",
			want: []string{"Calling agent.tool_call now.", "Done."},
		},
		{
			name: "no terminator",
			in:   "a single fragment",
			want: []string{"a single fragment"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitIntoSentences(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("unexpected sentences: got %v, want %v", got, tt.want)
			}
		})
	}
}
