// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local chat-completion API (Groq, OpenAI,
// a local Ollama instance, ...) and exposes a single blocking completion call
// so the turn orchestrator can stay independent of any specific SDK.
// Streaming is never requested.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"

	"github.com/MrWong99/talkloop/pkg/types"
)

// ErrEmptyChoices is returned when the backend answered without a single choice.
var ErrEmptyChoices = errors.New("llm: empty choices in response")

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
type CompletionRequest struct {
	// SystemPrompt is sent as the first, "system"-role message when non-empty.
	SystemPrompt string

	// Messages follow the system prompt in order.
	Messages []types.Message

	// Temperature controls output randomness in the range [0.0, 2.0]. It is
	// always forwarded, so zero requests greedy decoding.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero leaves the
	// provider default in place.
	MaxTokens int

	// TopP is the nucleus-sampling mass in (0.0, 1.0]. Zero leaves the
	// provider default in place.
	TopP float64
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply, untrimmed.
	Content string

	// FinishReason reports why generation stopped ("stop", "length", ...).
	FinishReason string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Exactly one request is issued; nothing is retried.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
