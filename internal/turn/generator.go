package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/talkloop/pkg/provider/llm"
	"github.com/MrWong99/talkloop/pkg/types"
)

// Generation defaults.
const (
	DefaultPersona     = "You are a helpful assistant."
	DefaultTemperature = 0.29
	DefaultMaxTokens   = 100
	DefaultTopP        = 1.0
)

// Generator turns one transcript into one reply. It keeps no history: every
// call sends exactly the persona and the transcript.
type Generator struct {
	LLM         llm.Provider
	Persona     string
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// NewGenerator returns a Generator with the default sampling parameters.
// An empty persona selects [DefaultPersona].
func NewGenerator(p llm.Provider, persona string) *Generator {
	if persona == "" {
		persona = DefaultPersona
	}
	return &Generator{
		LLM:         p,
		Persona:     persona,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		TopP:        DefaultTopP,
	}
}

// Request builds the completion request for transcript. The transcript is
// passed verbatim, including when it is empty.
func (g *Generator) Request(transcript string) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: g.Persona,
		Messages:     []types.Message{{Role: "user", Content: transcript}},
		Temperature:  g.Temperature,
		MaxTokens:    g.MaxTokens,
		TopP:         g.TopP,
	}
}

// Generate issues exactly one completion call and returns the trimmed reply.
// Any failure, including a blank reply, wraps [ErrGeneration].
func (g *Generator) Generate(ctx context.Context, transcript string) (string, error) {
	if g.LLM == nil {
		return "", fmt.Errorf("%w: no language model configured", ErrGeneration)
	}
	resp, err := g.LLM.Complete(ctx, g.Request(transcript))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", ErrGeneration)
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply (finish reason %q)", ErrGeneration, resp.FinishReason)
	}
	return reply, nil
}
