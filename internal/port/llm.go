package port

import "context"

// Completer is a language model completion backend. Implementations may be
// synchronous or streaming; a streaming backend collects its tokens in
// arrival order and returns the concatenated text.
type Completer interface {
	// Complete generates text for the user prompt under the system prompt.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}
