// Package mock provides a test double for the [audio.Player] interface.
//
// Player records every clip it is asked to play. Because callers delete the
// backing file as soon as Play returns, the mock reads the file contents
// during Play and stores them in the call record.
//
//	p := &mock.Player{}
//	_ = p.Play(ctx, audio.Clip{Path: tmp, MIME: "audio/wav"})
//	data := p.Calls()[0].Data
package mock

import (
	"context"
	"os"
	"sync"

	"github.com/MrWong99/talkloop/pkg/audio"
)

// PlayCall records a single invocation of Player.Play.
type PlayCall struct {
	// Clip is the clip passed to Play.
	Clip audio.Clip

	// Data is the clip's audio: Clip.Data, or the file contents at Clip.Path
	// as read during the call.
	Data []byte

	// FileExisted reports whether Clip.Path pointed at a readable file during Play.
	FileExisted bool
}

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned from every Play call.
	PlayErr error

	calls []PlayCall
}

// Play records the call and returns PlayErr.
func (p *Player) Play(_ context.Context, clip audio.Clip) error {
	call := PlayCall{Clip: clip, Data: clip.Data}
	if clip.Path != "" {
		if data, err := os.ReadFile(clip.Path); err == nil {
			call.Data = data
			call.FileExisted = true
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	return p.PlayErr
}

// Calls returns a copy of all recorded Play calls. Thread-safe.
func (p *Player) Calls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlayCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

var _ audio.Player = (*Player)(nil)
