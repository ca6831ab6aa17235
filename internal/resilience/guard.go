package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/talkloop/pkg/audio"
	"github.com/MrWong99/talkloop/pkg/provider/llm"
	"github.com/MrWong99/talkloop/pkg/provider/stt"
	"github.com/MrWong99/talkloop/pkg/provider/tts"
	"github.com/MrWong99/talkloop/pkg/types"
)

// STT guards an [stt.Provider] with a circuit breaker.
type STT struct {
	inner stt.Provider
	cb    *CircuitBreaker
}

// GuardSTT wraps p so that calls go through cb.
func GuardSTT(p stt.Provider, cb *CircuitBreaker) *STT {
	return &STT{inner: p, cb: cb}
}

// Transcribe implements [stt.Provider].
func (g *STT) Transcribe(ctx context.Context, buf audio.Buffer, req stt.Request) (types.Transcript, error) {
	var out types.Transcript
	err := g.cb.Execute(func() error {
		var err error
		out, err = g.inner.Transcribe(ctx, buf, req)
		return err
	})
	return out, wrapOpen(g.cb, err)
}

// LLM guards an [llm.Provider] with a circuit breaker.
type LLM struct {
	inner llm.Provider
	cb    *CircuitBreaker
}

// GuardLLM wraps p so that calls go through cb.
func GuardLLM(p llm.Provider, cb *CircuitBreaker) *LLM {
	return &LLM{inner: p, cb: cb}
}

// Complete implements [llm.Provider].
func (g *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var out *llm.CompletionResponse
	err := g.cb.Execute(func() error {
		var err error
		out, err = g.inner.Complete(ctx, req)
		return err
	})
	return out, wrapOpen(g.cb, err)
}

// TTS guards a [tts.Provider] with a circuit breaker.
type TTS struct {
	inner tts.Provider
	cb    *CircuitBreaker
}

// GuardTTS wraps p so that calls go through cb.
func GuardTTS(p tts.Provider, cb *CircuitBreaker) *TTS {
	return &TTS{inner: p, cb: cb}
}

// Synthesize implements [tts.Provider].
func (g *TTS) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (*tts.Speech, error) {
	var out *tts.Speech
	err := g.cb.Execute(func() error {
		var err error
		out, err = g.inner.Synthesize(ctx, text, voice)
		return err
	})
	return out, wrapOpen(g.cb, err)
}

func wrapOpen(cb *CircuitBreaker, err error) error {
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("%s: %w", cb.Name(), err)
	}
	return err
}

// Set tracks the breakers of one process for health reporting.
type Set struct {
	mu       sync.Mutex
	breakers []*CircuitBreaker
}

// Add registers cb and returns it.
func (s *Set) Add(cb *CircuitBreaker) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakers = append(s.breakers, cb)
	return cb
}

// States returns the current state of every registered breaker by name.
func (s *Set) States() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.breakers))
	for _, cb := range s.breakers {
		out[cb.Name()] = cb.State().String()
	}
	return out
}

// Check returns an error naming every open breaker. Half-open breakers count
// as healthy. It has the signature of a readiness check.
func (s *Set) Check(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []string
	for _, cb := range s.breakers {
		if cb.State() == StateOpen {
			open = append(open, cb.Name())
		}
	}
	if len(open) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCircuitOpen, strings.Join(open, ", "))
}

var (
	_ stt.Provider = (*STT)(nil)
	_ llm.Provider = (*LLM)(nil)
	_ tts.Provider = (*TTS)(nil)
)
