package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"librarian/config"
	"librarian/internal/domain"
)

func testGateway(t *testing.T, url string, batchSize, maxParallel int) *Gateway {
	t.Helper()
	g, err := New(config.EmbeddingConfig{
		Provider:    "ollama",
		Model:       "nomic-embed-text",
		BaseURL:     url,
		Dimension:   4,
		BatchSize:   batchSize,
		MaxParallel: maxParallel,
	})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

// embeddingServer answers /embeddings with one 4-dim vector per input.
func embeddingServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		resp := embeddingResponse{}
		for i, text := range req.Input {
			resp.Data = append(resp.Data, embeddingData{
				Index:     i,
				Embedding: []float32{float32(len(text)), 1, 0, 0},
			})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbedOrderAcrossBatches(t *testing.T) {
	var calls atomic.Int64
	srv := embeddingServer(t, &calls)
	defer srv.Close()

	g := testGateway(t, srv.URL, 2, 4)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "g"}
	vectors, err := g.Embed(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}

	if len(vectors) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vectors))
	}
	if calls.Load() != 4 {
		t.Errorf("expected 4 batches, got %d", calls.Load())
	}

	// The first component encodes len(text) before normalization, so the
	// ratio of components recovers input order.
	for i, v := range vectors {
		ratio := v[0] / v[1]
		if math.Abs(float64(ratio)-float64(len(texts[i]))) > 1e-5 {
			t.Errorf("vector %d out of order: ratio %f, want %d", i, ratio, len(texts[i]))
		}
	}
}

func TestEmbedVectorsNormalized(t *testing.T) {
	srv := embeddingServer(t, nil)
	defer srv.Close()

	g := testGateway(t, srv.URL, 10, 1)
	vectors, err := g.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatal(err)
	}

	var norm float64
	for _, x := range vectors[0] {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("expected unit vector, squared norm %f", norm)
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := embeddingResponse{
			Data: []embeddingData{{Index: 0, Embedding: []float32{1, 0, 0, 0}}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	g := testGateway(t, srv.URL, 10, 1)
	_, err := g.Embed(context.Background(), []string{"one", "two"})
	if !errors.Is(err, domain.ErrEmbeddingMismatch) {
		t.Errorf("expected ErrEmbeddingMismatch, got %v", err)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := embeddingResponse{
			Data: []embeddingData{{Index: 0, Embedding: []float32{1, 0}}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	g := testGateway(t, srv.URL, 10, 1)
	_, err := g.Embed(context.Background(), []string{"one"})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestEmbedServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer srv.Close()

	g := testGateway(t, srv.URL, 10, 1)
	_, err := g.Embed(context.Background(), []string{"one"})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestEmbedUnreachableProvider(t *testing.T) {
	g := testGateway(t, "http://127.0.0.1:1", 10, 1)
	_, err := g.Embed(context.Background(), []string{"one"})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestEmbedInputTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"this model's maximum context length is 8192 tokens"}}`))
	}))
	defer srv.Close()

	g := testGateway(t, srv.URL, 10, 1)
	_, err := g.Embed(context.Background(), []string{"enormous"})
	if !errors.Is(err, domain.ErrInputTooLarge) {
		t.Errorf("expected ErrInputTooLarge, got %v", err)
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	g := testGateway(t, "http://127.0.0.1:1", 10, 1)
	vectors, err := g.Embed(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if vectors != nil {
		t.Errorf("expected nil vectors for empty input")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("LIBRARIAN_TEST_NO_KEY", "")
	_, err := New(config.EmbeddingConfig{
		Provider:  "openai",
		Model:     "text-embedding-3-small",
		APIKeyEnv: "LIBRARIAN_TEST_NO_KEY",
	})
	if err == nil {
		t.Error("expected error when API key env is empty")
	}
}
