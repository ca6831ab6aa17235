// Package mock provides test doubles for [capture.Source] and
// [capture.Recorder].
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/talkloop/pkg/audio"
	"github.com/MrWong99/talkloop/pkg/audio/capture"
)

// Source is a mock implementation of [capture.Source].
type Source struct {
	mu sync.Mutex

	// Buffer is returned from every successful Capture call.
	Buffer audio.Buffer

	// CaptureErr, if non-nil, is returned from Capture.
	CaptureErr error

	calls int
}

// Name implements [capture.Source].
func (s *Source) Name() string { return "mock" }

// Capture records the call and returns Buffer or CaptureErr.
func (s *Source) Capture(ctx context.Context) (audio.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := ctx.Err(); err != nil {
		return audio.Buffer{}, err
	}
	if s.CaptureErr != nil {
		return audio.Buffer{}, s.CaptureErr
	}
	return s.Buffer, nil
}

// CallCount returns the number of Capture invocations. Thread-safe.
func (s *Source) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Reset clears the call counter. Thread-safe.
func (s *Source) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = 0
}

// RecordCall records a single invocation of Recorder.Record.
type RecordCall struct {
	Duration   time.Duration
	SampleRate int
	Channels   int
}

// Recorder is a mock implementation of [capture.Recorder].
type Recorder struct {
	mu sync.Mutex

	// Buffer is returned from every successful Record call.
	Buffer audio.Buffer

	// RecordErr, if non-nil, is returned from Record.
	RecordErr error

	calls []RecordCall
}

// Record records the call and returns Buffer or RecordErr.
func (r *Recorder) Record(_ context.Context, d time.Duration, sampleRate, channels int) (audio.Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, RecordCall{Duration: d, SampleRate: sampleRate, Channels: channels})
	if r.RecordErr != nil {
		return audio.Buffer{}, r.RecordErr
	}
	return r.Buffer, nil
}

// Calls returns a copy of all recorded Record calls. Thread-safe.
func (r *Recorder) Calls() []RecordCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordCall, len(r.calls))
	copy(out, r.calls)
	return out
}

var (
	_ capture.Source   = (*Source)(nil)
	_ capture.Recorder = (*Recorder)(nil)
)
