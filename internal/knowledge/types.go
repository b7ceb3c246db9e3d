package knowledge

import (
	"context"
)

// Embedder converts text to vectors. Implementations must be deterministic for
// identical input within a process lifetime; corpus caching relies on it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// CompletionRequest is a single system+user prompt sent to a text-generation service.
type CompletionRequest struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
}

// Completer turns a prompt into generated text. Failures are reported as
// COMPLETION_FAILED errors; implementations make exactly one attempt.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
