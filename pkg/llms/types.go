package llms

import (
	"context"
	"errors"
	"fmt"
)

// ErrAuth marks a request the provider rejected for bad credentials.
var ErrAuth = errors.New("provider rejected the API key")

// Message is a single conversational turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stream chunk types.
const (
	ChunkTypeText  = "text"
	ChunkTypeDone  = "done"
	ChunkTypeError = "error"
)

// StreamChunk is one unit of a streaming response.
type StreamChunk struct {
	Type   string
	Text   string
	Tokens int
	Error  error
}

// Provider is the interface all LLM backends implement.
type Provider interface {
	// Generate performs a non-streaming request and returns the full text.
	Generate(ctx context.Context, prompt, contextText string) (string, error)

	// GenerateStreaming performs a streaming request. The returned channel is
	// closed after a "done" or "error" chunk.
	GenerateStreaming(ctx context.Context, prompt, contextText string) (<-chan StreamChunk, error)

	ModelName() string

	Close() error
}

// KeyStatus is the outcome of validating an API key.
type KeyStatus string

const (
	KeyStatusValid     KeyStatus = "valid"
	KeyStatusInvalid   KeyStatus = "invalid"
	KeyStatusForbidden KeyStatus = "forbidden"
	KeyStatusError     KeyStatus = "error"
)

// BuildPrompt prepends conversational context to a user request.
func BuildPrompt(prompt, contextText string) string {
	if contextText == "" {
		return prompt
	}
	return fmt.Sprintf("Context:\n%s\n\nUser Request:\n%s", contextText, prompt)
}
