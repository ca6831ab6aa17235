// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled speech and to verify the text and
// VoiceProfile handed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Speech: &tts.Speech{Data: wav, MIME: tts.MIMEWAV},
//	}
//	sp, _ := p.Synthesize(ctx, "hello", voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkloop/pkg/provider/tts"
	"github.com/MrWong99/talkloop/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Speech is returned by Synthesize when SynthesizeErr is nil. A nil value
	// yields an empty Speech with Spoken set, as an offline engine would.
	Speech *tts.Speech

	// SynthesizeErr, if non-nil, is returned from Synthesize.
	SynthesizeErr error

	// SynthesizeFunc, if set, overrides Speech and SynthesizeErr.
	SynthesizeFunc func(ctx context.Context, text string, voice types.VoiceProfile) (*tts.Speech, error)

	calls []SynthesizeCall
}

// Synthesize records the call and returns the configured response.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (*tts.Speech, error) {
	p.mu.Lock()
	p.calls = append(p.calls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	fn, sp, err := p.SynthesizeFunc, p.Speech, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voice)
	}
	if err != nil {
		return nil, err
	}
	if sp == nil {
		return &tts.Speech{Spoken: true}, nil
	}
	out := *sp
	return &out, nil
}

// Calls returns a copy of all recorded Synthesize calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

var _ tts.Provider = (*Provider)(nil)
