package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"librarian/config"
	"librarian/internal/adapter/analyzer"
	"librarian/internal/adapter/cache"
	"librarian/internal/domain"
	"librarian/internal/port"
)

// Engine answers natural-language questions grounded in stored fragments:
// embed the question, retrieve the most similar fragments, assemble a
// bounded cited context and invoke the completion backend. Queries are
// read-only and independent; each runs under its own deadline.
type Engine struct {
	store     port.FragmentStore
	embedder  port.Embedder
	completer port.Completer
	counter   *analyzer.TokenCounter
	embedCache *cache.EmbedCache
	cfg       config.QueryConfig
	system    string
}

// NewEngine creates a query engine.
func NewEngine(store port.FragmentStore, embedder port.Embedder, completer port.Completer, systemPrompt string, cfg config.QueryConfig) *Engine {
	if systemPrompt == "" {
		systemPrompt = config.DefaultSystemPrompt
	}
	return &Engine{
		store:      store,
		embedder:   embedder,
		completer:  completer,
		counter:    analyzer.NewTokenCounter(),
		embedCache: cache.NewEmbedCache(cfg.CacheSize, time.Duration(cfg.CacheTTLSecs)*time.Second),
		cfg:        cfg,
		system:     systemPrompt,
	}
}

// QueryOptions control a single query.
type QueryOptions struct {
	TopK      int
	DocFilter []string
	Strict    bool // error on filter entries that are not ingested
	Timeout   time.Duration
}

// Query answers a question from the stored fragments.
func (e *Engine) Query(ctx context.Context, question string, opts QueryOptions) (domain.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Answer{}, fmt.Errorf("question must not be empty")
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	timeout := opts.Timeout
	if timeout <= 0 && e.cfg.TimeoutSecs > 0 {
		timeout = time.Duration(e.cfg.TimeoutSecs) * time.Second
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if opts.Strict {
		for _, id := range opts.DocFilter {
			ok, err := e.store.HasDocument(id)
			if err != nil {
				return domain.Answer{}, err
			}
			if !ok {
				return domain.Answer{}, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
			}
		}
	}

	vector, err := e.embedQuestion(ctx, question)
	if err != nil {
		return domain.Answer{}, err
	}

	results, err := e.store.Search(vector, topK, opts.DocFilter)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("search failed: %w", err)
	}

	sources := make([]domain.Source, len(results))
	for i, r := range results {
		sources[i] = domain.Source{
			DocID:   r.Fragment.DocID,
			Ordinal: r.Fragment.Ordinal,
			Text:    r.Fragment.Text,
			Score:   r.Score,
		}
	}

	if len(results) == 0 && e.cfg.OnEmpty != config.OnEmptyPrompt {
		// Nothing retrieved: don't hand the model an empty context silently.
		return domain.Answer{
			Text:      "No relevant information found in the library.",
			Sources:   []domain.Source{},
			NoContext: true,
		}, nil
	}

	prompt := e.buildPrompt(question, results)

	text, err := e.completer.Complete(ctx, e.system, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.Answer{}, fmt.Errorf("%w: query exceeded %s", domain.ErrTimeout, timeout)
		}
		return domain.Answer{}, fmt.Errorf("completion failed: %w", err)
	}

	return domain.Answer{
		Text:      text,
		Sources:   sources,
		NoContext: len(results) == 0,
	}, nil
}

// embedQuestion embeds the question, consulting the cache first.
func (e *Engine) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	if v, ok := e.embedCache.Get(question); ok {
		return v, nil
	}

	vectors, err := e.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", domain.ErrEmbeddingMismatch, len(vectors))
	}

	e.embedCache.Put(question, vectors[0])
	return vectors[0], nil
}

// buildPrompt assembles a bounded context from the retrieved fragments in
// ranked order, each tagged with its document identity and ordinal for
// citation. The highest-ranked fragment is always included even if it
// alone exceeds the budget.
func (e *Engine) buildPrompt(question string, results []domain.ScoredFragment) string {
	var sb strings.Builder

	if len(results) == 0 {
		sb.WriteString("No context was found in the library for this question. ")
		sb.WriteString("Say so explicitly if you cannot answer from general knowledge.\n\n")
		sb.WriteString("Question: ")
		sb.WriteString(question)
		return sb.String()
	}

	budget := e.cfg.ContextBudget
	used := 0

	sb.WriteString("Context:\n\n")
	for i, r := range results {
		tokens := e.counter.CountTokens(r.Fragment.Text)
		if i > 0 && budget > 0 && used+tokens > budget {
			break
		}
		fmt.Fprintf(&sb, "[%d] %s#%d\n%s\n\n", i+1, r.Fragment.DocID, r.Fragment.Ordinal, r.Fragment.Text)
		used += tokens
	}

	sb.WriteString("Question: ")
	sb.WriteString(question)
	return sb.String()
}
