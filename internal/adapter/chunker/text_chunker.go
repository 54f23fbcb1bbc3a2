package chunker

import (
	"fmt"
	"strings"
	"unicode"
)

// TextChunker splits normalized text into overlapping fragments using a
// sliding window over whitespace-delimited words. Size and overlap are
// measured in words. The same text with the same parameters always yields
// byte-identical fragment boundaries.
type TextChunker struct {
	chunkTokens int
	overlap     int
}

// NewTextChunker creates a chunker. Overlap must be strictly smaller than
// the chunk size.
func NewTextChunker(chunkTokens, overlap int) (*TextChunker, error) {
	if chunkTokens <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkTokens)
	}
	if overlap < 0 || overlap >= chunkTokens {
		return nil, fmt.Errorf("overlap (%d) must be in [0, %d)", overlap, chunkTokens)
	}
	return &TextChunker{
		chunkTokens: chunkTokens,
		overlap:     overlap,
	}, nil
}

// span marks the byte offsets of one word in the input text.
type span struct {
	start int
	end   int
}

// Chunk splits text into fragment texts covering every word of the input
// with no omitted trailing content. Input that fits one chunk yields
// exactly one fragment. Whitespace-only input yields no fragments.
func (c *TextChunker) Chunk(text string) ([]string, error) {
	words := wordSpans(text)
	if len(words) == 0 {
		return nil, nil
	}

	step := c.chunkTokens - c.overlap

	var fragments []string
	for start := 0; ; start += step {
		end := start + c.chunkTokens
		if end > len(words) {
			end = len(words)
		}

		fragment := text[words[start].start:words[end-1].end]
		fragments = append(fragments, fragment)

		if end == len(words) {
			break
		}
	}

	return fragments, nil
}

// wordSpans returns the byte offsets of each non-space run in text.
func wordSpans(text string) []span {
	var spans []span
	start := -1

	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, span{start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, span{start: start, end: len(text)})
	}

	return spans
}

// Normalize collapses Windows line endings and trims trailing whitespace so
// the same document bytes always chunk identically regardless of platform.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimRight(text, " \t\n")
}
