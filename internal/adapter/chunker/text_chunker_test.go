package chunker

import (
	"fmt"
	"strings"
	"testing"
)

func TestTextChunkerSingleFragment(t *testing.T) {
	c, err := NewTextChunker(50, 10)
	if err != nil {
		t.Fatal(err)
	}

	text := "a short document that fits in one chunk"
	fragments, err := c.Chunk(text)
	if err != nil {
		t.Fatal(err)
	}

	if len(fragments) != 1 {
		t.Fatalf("expected exactly one fragment, got %d", len(fragments))
	}
	if fragments[0] != text {
		t.Errorf("expected fragment to equal input, got %q", fragments[0])
	}
}

func TestTextChunkerCoversAllWords(t *testing.T) {
	c, err := NewTextChunker(10, 2)
	if err != nil {
		t.Fatal(err)
	}

	var words []string
	for i := 0; i < 57; i++ {
		words = append(words, fmt.Sprintf("word%d", i))
	}
	text := strings.Join(words, " ")

	fragments, err := c.Chunk(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(fragments) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(fragments))
	}

	for _, w := range words {
		found := false
		for _, f := range fragments {
			if strings.Contains(f, w) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("word %q not covered by any fragment", w)
		}
	}

	// Trailing content must not be dropped.
	last := fragments[len(fragments)-1]
	if !strings.HasSuffix(last, "word56") {
		t.Errorf("last fragment should end with the final word, got %q", last)
	}
}

func TestTextChunkerDeterministic(t *testing.T) {
	c, err := NewTextChunker(8, 3)
	if err != nil {
		t.Fatal(err)
	}

	text := "sample text about hypertension treatment with thiazide diuretics " +
		"and lifestyle modification including sodium restriction exercise " +
		"and weight loss for stage one disease"

	first, err := c.Chunk(text)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Chunk(text)
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != len(second) {
		t.Fatalf("fragment counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("fragment %d differs:\n%q\n%q", i, first[i], second[i])
		}
	}
}

func TestTextChunkerOverlap(t *testing.T) {
	c, err := NewTextChunker(4, 2)
	if err != nil {
		t.Fatal(err)
	}

	fragments, err := c.Chunk("one two three four five six seven eight")
	if err != nil {
		t.Fatal(err)
	}
	if len(fragments) < 2 {
		t.Fatal("expected at least two fragments")
	}

	// Each fragment after the first starts with the last two words of its
	// predecessor.
	for i := 1; i < len(fragments); i++ {
		prevWords := strings.Fields(fragments[i-1])
		tail := strings.Join(prevWords[len(prevWords)-2:], " ")
		if !strings.HasPrefix(fragments[i], tail) {
			t.Errorf("fragment %d does not overlap predecessor: %q / %q", i, fragments[i-1], fragments[i])
		}
	}
}

func TestTextChunkerEmptyInput(t *testing.T) {
	c, err := NewTextChunker(10, 0)
	if err != nil {
		t.Fatal(err)
	}

	for _, text := range []string{"", "   ", "\n\t\n"} {
		fragments, err := c.Chunk(text)
		if err != nil {
			t.Fatal(err)
		}
		if len(fragments) != 0 {
			t.Errorf("expected no fragments for %q, got %d", text, len(fragments))
		}
	}
}

func TestTextChunkerRejectsBadOverlap(t *testing.T) {
	if _, err := NewTextChunker(10, 10); err == nil {
		t.Error("expected error when overlap equals chunk size")
	}
	if _, err := NewTextChunker(10, 11); err == nil {
		t.Error("expected error when overlap exceeds chunk size")
	}
	if _, err := NewTextChunker(0, 0); err == nil {
		t.Error("expected error for zero chunk size")
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize("line one\r\nline two\r\n\n  ")
	want := "line one\nline two"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
