package llm

import (
	"context"
)

// CompletionRequest is one prompt sent to a text model
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
	// JSON asks the provider to constrain its output to a JSON object when it can
	JSON bool
}

// Completer sends a prompt to a hosted model and returns the raw text of its reply.
// Implementations wrap provider rate-limit errors with core.RateLimited.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	ModelName() string
}
