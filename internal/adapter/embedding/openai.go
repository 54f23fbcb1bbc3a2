package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"librarian/config"
	"librarian/internal/domain"
)

// Gateway embeds text via any OpenAI-compatible /embeddings endpoint.
// It is stateless: the only side effect is the remote call. Requests are
// batched, batches may be dispatched concurrently, and results are always
// reassembled in input order before being returned.
type Gateway struct {
	apiKey      string
	model       string
	baseURL     string
	dimension   int
	batchSize   int
	maxParallel int
	client      *http.Client
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// New creates a Gateway for the configured provider. Known providers select
// a default base URL; any OpenAI-compatible endpoint works via base_url.
func New(cfg config.EmbeddingConfig) (*Gateway, error) {
	baseURL := cfg.BaseURL
	apiKey := ""

	switch cfg.Provider {
	case "openai":
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
	case "jina":
		if baseURL == "" {
			baseURL = "https://api.jina.ai/v1"
		}
	case "ollama":
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		apiKey = "ollama"
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	if apiKey == "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("API key not found in environment variable: %s", cfg.APIKeyEnv)
		}
	}

	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = modelDimension(cfg.Model)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension not configured for model %s", cfg.Model)
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Gateway{
		apiKey:      apiKey,
		model:       cfg.Model,
		baseURL:     baseURL,
		dimension:   dimension,
		batchSize:   cfg.BatchSize,
		maxParallel: cfg.MaxParallel,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

// modelDimension returns the output size of well-known embedding models.
func modelDimension(model string) int {
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large", "jina-embeddings-v3":
		return 1024
	case "all-minilm":
		return 384
	}
	return 0
}

// Embed returns one vector per input text, in input order. Batches are
// dispatched concurrently up to the configured parallelism and reassembled
// by batch index before returning; a partial failure fails the whole call.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := g.batchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	type batch struct {
		index int
		start int
		texts []string
	}

	var batches []batch
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, batch{index: len(batches), start: i, texts: texts[i:end]})
	}

	results := make([][][]float32, len(batches))
	errs := make(chan error, len(batches))

	parallel := g.maxParallel
	if parallel <= 0 {
		parallel = 1
	}
	sem := make(chan struct{}, parallel)

	for _, b := range batches {
		sem <- struct{}{}
		go func(b batch) {
			defer func() { <-sem }()
			vectors, err := g.embedBatch(ctx, b.texts)
			if err != nil {
				errs <- fmt.Errorf("batch %d: %w", b.index, err)
				return
			}
			results[b.index] = vectors
			errs <- nil
		}(b)
	}

	var firstErr error
	for range batches {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	all := make([][]float32, 0, len(texts))
	for _, vectors := range results {
		all = append(all, vectors...)
	}
	return all, nil
}

func (g *Gateway) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embeddingRequest{
		Input: texts,
		Model: g.model,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", domain.ErrProviderUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return nil, fmt.Errorf("failed to parse response (body: %s): %w", preview, err)
	}
	if embResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", embResp.Error.Message)
	}

	if len(embResp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d texts, received %d vectors",
			domain.ErrEmbeddingMismatch, len(texts), len(embResp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index < 0 || data.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: vector index %d out of range", domain.ErrEmbeddingMismatch, data.Index)
		}
		if len(data.Embedding) != g.dimension {
			return nil, fmt.Errorf("%w: expected %d, got %d",
				domain.ErrDimensionMismatch, g.dimension, len(data.Embedding))
		}
		l2Normalize(data.Embedding)
		vectors[data.Index] = data.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("%w: no vector returned for input %d", domain.ErrEmbeddingMismatch, i)
		}
	}

	return vectors, nil
}

// classifyStatus maps provider HTTP failures onto the engine error taxonomy.
func classifyStatus(status int, body []byte) error {
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}

	switch {
	case status == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", domain.ErrInputTooLarge, msg)
	case status == http.StatusBadRequest && looksLikeContextOverflow(body):
		return fmt.Errorf("%w: %s", domain.ErrInputTooLarge, msg)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: API returned status %d: %s", domain.ErrProviderUnavailable, status, msg)
	default:
		return fmt.Errorf("API returned status %d: %s", status, msg)
	}
}

func looksLikeContextOverflow(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "context length") || strings.Contains(s, "maximum context") ||
		strings.Contains(s, "too many tokens") || strings.Contains(s, "input is too large")
}

// l2Normalize normalizes a vector to unit length in place, so cosine
// similarity reduces to an inner product.
func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// Dimension returns the embedding vector dimension.
func (g *Gateway) Dimension() int {
	return g.dimension
}

// ModelName returns the name of the embedding model.
func (g *Gateway) ModelName() string {
	return g.model
}
