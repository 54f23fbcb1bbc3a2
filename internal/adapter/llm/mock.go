package llm

import "context"

// MockCompleter returns a canned answer and records its prompts; used in
// tests and offline runs.
type MockCompleter struct {
	Answer  string
	Calls   int
	Systems []string
	Prompts []string
	Err     error
}

// NewMockCompleter creates a mock that always answers with text.
func NewMockCompleter(text string) *MockCompleter {
	return &MockCompleter{Answer: text}
}

func (m *MockCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.Calls++
	m.Systems = append(m.Systems, systemPrompt)
	m.Prompts = append(m.Prompts, userPrompt)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Answer, nil
}

func (m *MockCompleter) ModelName() string {
	return "mock"
}
