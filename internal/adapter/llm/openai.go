package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"librarian/config"
	"librarian/internal/domain"
)

// Completer talks to an OpenAI-compatible chat completion endpoint. With a
// custom base URL it serves Ollama, LM Studio or any other compatible
// backend. In streaming mode tokens are collected in arrival order and
// returned as one string.
type Completer struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	stream      bool
}

// New creates a Completer for the configured provider.
func New(cfg config.CompletionConfig) (*Completer, error) {
	apiKey := ""
	baseURL := cfg.BaseURL

	switch cfg.Provider {
	case "openai":
		apiKey = os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("API key not found in environment variable: %s", cfg.APIKeyEnv)
		}
	case "ollama":
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		apiKey = "ollama"
	default:
		return nil, fmt.Errorf("unsupported completion provider: %s", cfg.Provider)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}

	return &Completer{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		stream:      cfg.Stream,
	}, nil
}

// Complete generates text for the user prompt. A context deadline cancels
// the call cleanly; no partial text is returned on timeout.
func (c *Completer) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}

	if c.stream {
		return c.completeStream(ctx, req)
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Completer) completeStream(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", classify(ctx, err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A mid-stream failure discards the partial text.
			return "", classify(ctx, err)
		}
		if len(resp.Choices) > 0 {
			sb.WriteString(resp.Choices[0].Delta.Content)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// ModelName returns the name of the model.
func (c *Completer) ModelName() string {
	return c.model
}

// classify maps transport failures onto the engine error taxonomy.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
		}
		return fmt.Errorf("completion failed: %w", err)
	}
	return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
}
