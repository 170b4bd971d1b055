package adapter

import "context"

// Adapter defines the interface for LLM provider adapters.
type Adapter interface {
	// Complete sends a chat request to the model and returns the response.
	Complete(ctx context.Context, model string, req Request) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// Request holds normalized completion parameters.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// UserMessage builds a single-turn user request body.
func UserMessage(content string) []Message {
	return []Message{{Role: "user", Content: content}}
}
