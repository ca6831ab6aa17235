// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to verify that the caller transcribes the expected audio with
// the expected request profile, and to script the transcript or error that
// comes back.
//
// Example:
//
//	p := &mock.Provider{Transcript: types.Transcript{Text: "hello"}}
//	t, _ := p.Transcribe(ctx, buf, stt.DefaultRequest())
//	if p.CallCount() != 1 { ... }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkloop/pkg/audio"
	"github.com/MrWong99/talkloop/pkg/provider/stt"
	"github.com/MrWong99/talkloop/pkg/types"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Buffer is the audio passed to Transcribe.
	Buffer audio.Buffer
	// Req is the request profile passed to Transcribe.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcript is returned from every successful Transcribe call.
	Transcript types.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeFunc, if set, overrides Transcript and TranscribeErr.
	TranscribeFunc func(ctx context.Context, buf audio.Buffer, req stt.Request) (types.Transcript, error)

	calls []TranscribeCall
}

// Transcribe records the call and returns the scripted result.
func (p *Provider) Transcribe(ctx context.Context, buf audio.Buffer, req stt.Request) (types.Transcript, error) {
	p.mu.Lock()
	p.calls = append(p.calls, TranscribeCall{Buffer: buf, Req: req})
	fn, tr, err := p.TranscribeFunc, p.Transcript, p.TranscribeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, buf, req)
	}
	if err != nil {
		return types.Transcript{}, err
	}
	return tr, nil
}

// Calls returns a copy of all recorded Transcribe calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of Transcribe calls. Thread-safe.
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

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
