// Package generation wraps the language-model provider behind a small client
// interface and exposes the structured-output calls the orchestrator and
// workflows need: routing decisions, field extraction, reply drafting,
// confirmation classification and summaries.
package generation

import "context"

// Client is the provider-side interface. Implementations talk to one
// OpenAI-compatible API endpoint.
type Client interface {
	// Complete sends a single-turn request and returns the text output.
	Complete(ctx context.Context, req Request) (string, error)

	// Name returns the provider identifier (e.g. "openai", "groq").
	Name() string
}

// Request is the input for a Complete call.
type Request struct {
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	// Model overrides the provider default when set.
	Model string `json:"model,omitempty"`
	// JSONOutput asks the provider for a JSON object response.
	JSONOutput  bool    `json:"jsonOutput,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
}
