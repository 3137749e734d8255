package ai

import (
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultEncoder matches the tokenizer family of current embedding models.
	DefaultEncoder = "o200k_base"

	// DefaultChunkTokens bounds one embedding input.
	DefaultChunkTokens = 512
)

// ChunkText splits a payload text into sentence-aligned chunks of at most
// maxTokens tokens each. A single sentence longer than the budget becomes
// its own oversized chunk rather than being cut mid-sentence.
func ChunkText(text string, encoder string, maxTokens int) ([]string, error) {
	if encoder == "" {
		encoder = DefaultEncoder
	}
	if maxTokens <= 0 {
		maxTokens = DefaultChunkTokens
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	enc, err := tiktoken.GetEncoding(encoder)
	if err != nil {
		return nil, err
	}

	sentences := splitIntoSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}

	var chunks []string
	chunkStart := -1
	chunkEnd := -1

	flushChunk := func() {
		if chunkStart < 0 || chunkEnd <= chunkStart {
			return
		}
		chunks = append(chunks, strings.TrimSpace(strings.Join(sentences[chunkStart:chunkEnd], " ")))
		chunkStart = -1
		chunkEnd = -1
	}

	for i := range sentences {
		if chunkStart < 0 {
			chunkStart = i
			chunkEnd = i + 1
			continue
		}

		testText := strings.Join(sentences[chunkStart:i+1], " ")
		if len(enc.Encode(testText, nil, nil)) <= maxTokens {
			chunkEnd = i + 1
		} else {
			flushChunk()
			chunkStart = i
			chunkEnd = i + 1
		}
	}
	flushChunk()

	return chunks, nil
}

// splitIntoSentences breaks text on sentence-ending punctuation followed by
// whitespace. Newline runs also terminate a sentence so list-like payloads
// chunk along their natural lines.
func splitIntoSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)

		if r == '\n' {
			flush()
			continue
		}
		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()

	return sentences
}
