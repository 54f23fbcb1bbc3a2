package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"librarian/config"
	"librarian/internal/adapter/chunker"
	"librarian/internal/adapter/embedding"
	"librarian/internal/adapter/llm"
	"librarian/internal/adapter/memstore"
	"librarian/internal/domain"
	"librarian/internal/port"
)

func testQueryConfig() config.QueryConfig {
	return config.QueryConfig{
		TopK:          5,
		ContextBudget: 3000,
		OnEmpty:       config.OnEmptySkip,
		CacheSize:     10,
		CacheTTLSecs:  60,
	}
}

// seedStore ingests the given docID -> text pairs through the real
// coordinator so fragments carry mock-embedder vectors.
func seedStore(t *testing.T, st *memstore.MemoryStore, docs map[string]string) {
	t.Helper()
	chk, err := chunker.NewTextChunker(4, 0)
	if err != nil {
		t.Fatal(err)
	}
	c := NewCoordinator(st, chk, embedding.NewMockEmbedder(testDim))
	for id, text := range docs {
		if _, err := c.Ingest(context.Background(), id, id, text, false); err != nil {
			t.Fatalf("seeding %s: %v", id, err)
		}
	}
}

func TestQueryReturnsRankedSources(t *testing.T) {
	st := memstore.New(testDim)
	seedStore(t, st, map[string]string{"d1": hypertensionText})

	completer := llm.NewMockCompleter("Thiazide diuretics are first-line therapy. [1]")
	e := NewEngine(st, embedding.NewMockEmbedder(testDim), completer, "", testQueryConfig())

	ans, err := e.Query(context.Background(), "What treatment is discussed?", QueryOptions{TopK: 2})
	if err != nil {
		t.Fatal(err)
	}

	if ans.Text != "Thiazide diuretics are first-line therapy. [1]" {
		t.Errorf("unexpected answer text %q", ans.Text)
	}
	if ans.NoContext {
		t.Error("NoContext must be false when fragments were retrieved")
	}
	if len(ans.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(ans.Sources))
	}
	for _, s := range ans.Sources {
		if s.DocID != "d1" {
			t.Errorf("source from unexpected document %s", s.DocID)
		}
	}
	if ans.Sources[0].Score < ans.Sources[1].Score {
		t.Errorf("sources not in descending score order: %f then %f",
			ans.Sources[0].Score, ans.Sources[1].Score)
	}
	if completer.Calls != 1 {
		t.Errorf("expected one completion call, got %d", completer.Calls)
	}
}

func TestQueryPromptCarriesCitations(t *testing.T) {
	st := memstore.New(testDim)
	seedStore(t, st, map[string]string{"d1": hypertensionText})

	completer := llm.NewMockCompleter("ok")
	e := NewEngine(st, embedding.NewMockEmbedder(testDim), completer, "", testQueryConfig())

	question := "What about diuretics?"
	if _, err := e.Query(context.Background(), question, QueryOptions{TopK: 1}); err != nil {
		t.Fatal(err)
	}

	prompt := completer.Prompts[0]
	if !strings.Contains(prompt, "[1] d1#") {
		t.Errorf("prompt missing citation tag: %q", prompt)
	}
	if !strings.Contains(prompt, question) {
		t.Errorf("prompt missing the question: %q", prompt)
	}
	if completer.Systems[0] != config.DefaultSystemPrompt {
		t.Error("empty system prompt must fall back to the default")
	}
}

func TestQueryEmptyStoreSkipsCompletion(t *testing.T) {
	st := memstore.New(testDim)
	completer := llm.NewMockCompleter("should not be used")
	e := NewEngine(st, embedding.NewMockEmbedder(testDim), completer, "", testQueryConfig())

	ans, err := e.Query(context.Background(), "anything?", QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if !ans.NoContext {
		t.Error("empty retrieval must set NoContext")
	}
	if len(ans.Sources) != 0 {
		t.Errorf("expected zero sources, got %d", len(ans.Sources))
	}
	if completer.Calls != 0 {
		t.Errorf("completion backend must not be called on empty retrieval, got %d calls", completer.Calls)
	}
}

func TestQueryEmptyStorePromptMode(t *testing.T) {
	st := memstore.New(testDim)
	completer := llm.NewMockCompleter("I cannot answer from the library.")
	cfg := testQueryConfig()
	cfg.OnEmpty = config.OnEmptyPrompt
	e := NewEngine(st, embedding.NewMockEmbedder(testDim), completer, "", cfg)

	ans, err := e.Query(context.Background(), "anything?", QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if completer.Calls != 1 {
		t.Fatalf("expected one completion call, got %d", completer.Calls)
	}
	if !strings.Contains(completer.Prompts[0], "No context was found") {
		t.Errorf("prompt must state that no context was found: %q", completer.Prompts[0])
	}
	if !ans.NoContext {
		t.Error("NoContext must be set even when the backend was consulted")
	}
}

func TestQueryDocFilter(t *testing.T) {
	st := memstore.New(testDim)
	seedStore(t, st, map[string]string{
		"d1": hypertensionText,
		"d2": "a separate document about renal dosing of common antibiotics",
	})

	completer := llm.NewMockCompleter("ok")
	e := NewEngine(st, embedding.NewMockEmbedder(testDim), completer, "", testQueryConfig())

	ans, err := e.Query(context.Background(), "renal dosing?", QueryOptions{DocFilter: []string{"d2"}})
	if err != nil {
		t.Fatal(err)
	}

	if len(ans.Sources) == 0 {
		t.Fatal("expected sources from d2")
	}
	for _, s := range ans.Sources {
		if s.DocID != "d2" {
			t.Errorf("filter leaked document %s into results", s.DocID)
		}
	}
}

func TestQueryStrictUnknownDocument(t *testing.T) {
	st := memstore.New(testDim)
	seedStore(t, st, map[string]string{"d1": hypertensionText})

	e := NewEngine(st, embedding.NewMockEmbedder(testDim), llm.NewMockCompleter("ok"), "", testQueryConfig())

	_, err := e.Query(context.Background(), "q?", QueryOptions{
		DocFilter: []string{"missing"},
		Strict:    true,
	})
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}

	// Without strict, an unknown filter entry yields an empty result, not
	// an error.
	ans, err := e.Query(context.Background(), "q?", QueryOptions{DocFilter: []string{"missing"}})
	if err != nil {
		t.Fatal(err)
	}
	if !ans.NoContext || len(ans.Sources) != 0 {
		t.Errorf("expected empty no-context answer, got %+v", ans)
	}
}

// stallCompleter blocks until the context expires.
type stallCompleter struct{}

func (stallCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
func (stallCompleter) ModelName() string { return "stall" }

func TestQueryTimeout(t *testing.T) {
	st := memstore.New(testDim)
	seedStore(t, st, map[string]string{"d1": hypertensionText})

	e := NewEngine(st, embedding.NewMockEmbedder(testDim), stallCompleter{}, "", testQueryConfig())

	ans, err := e.Query(context.Background(), "q?", QueryOptions{Timeout: 20 * time.Millisecond})
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if ans.Text != "" || len(ans.Sources) != 0 {
		t.Errorf("timed-out query must not return a partial answer: %+v", ans)
	}
}

func TestQueryEmptyQuestionRejected(t *testing.T) {
	st := memstore.New(testDim)
	e := NewEngine(st, embedding.NewMockEmbedder(testDim), llm.NewMockCompleter("ok"), "", testQueryConfig())

	if _, err := e.Query(context.Background(), "   ", QueryOptions{}); err == nil {
		t.Error("expected error for blank question")
	}
}

// countingEmbedder counts Embed calls around a delegate.
type countingEmbedder struct {
	port.Embedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	return c.Embedder.Embed(ctx, texts)
}

func TestQueryEmbeddingCached(t *testing.T) {
	st := memstore.New(testDim)
	seedStore(t, st, map[string]string{"d1": hypertensionText})

	emb := &countingEmbedder{Embedder: embedding.NewMockEmbedder(testDim)}
	e := NewEngine(st, emb, llm.NewMockCompleter("ok"), "", testQueryConfig())

	for i := 0; i < 3; i++ {
		if _, err := e.Query(context.Background(), "same question?", QueryOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	if emb.calls != 1 {
		t.Errorf("repeated question should hit the embed cache, got %d provider calls", emb.calls)
	}
}

func TestBuildPromptBudget(t *testing.T) {
	cfg := testQueryConfig()
	cfg.ContextBudget = 5 // tiny budget: only the top fragment fits
	st := memstore.New(testDim)
	e := NewEngine(st, embedding.NewMockEmbedder(testDim), llm.NewMockCompleter("ok"), "", cfg)

	results := []domain.ScoredFragment{
		{Fragment: domain.Fragment{DocID: "d1", Ordinal: 0, Text: "one two three four five six seven"}, Score: 0.9},
		{Fragment: domain.Fragment{DocID: "d1", Ordinal: 1, Text: "eight nine ten eleven twelve"}, Score: 0.8},
	}

	prompt := e.buildPrompt("q?", results)
	if !strings.Contains(prompt, "[1] d1#0") {
		t.Error("top fragment must always be included")
	}
	if strings.Contains(prompt, "[2] d1#1") {
		t.Error("fragment beyond the budget must be dropped")
	}
}
