// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one reply into speech and returns only once synthesis
// has finished. Two flavours exist:
//
//   - Offline engines speak directly through the host's audio output and
//     return a Speech with Spoken set. There is nothing left to play.
//   - Remote engines return the encoded audio container (WAV or MP3) in
//     Speech.Data for the caller to persist and play.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/talkloop/pkg/types"
)

// Container MIME types returned in Speech.MIME.
const (
	MIMEWAV  = "audio/wav"
	MIMEMPEG = "audio/mpeg"
)

// ErrEmptyText is returned when Synthesize is called with blank text.
var ErrEmptyText = errors.New("tts: text must not be empty")

// Speech is the outcome of one synthesis call.
type Speech struct {
	// Data is the encoded audio container. Nil when Spoken is true.
	Data []byte

	// MIME is the container type of Data (MIMEWAV or MIMEMPEG).
	MIME string

	// Spoken reports that the engine already played the audio itself.
	Spoken bool
}

// Ext returns the file extension matching MIME, including the dot.
func (s *Speech) Ext() string {
	if s.MIME == MIMEMPEG {
		return ".mp3"
	}
	return ".wav"
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to speech using voice and blocks until the
	// speech has been produced (or, for offline engines, spoken).
	// Exactly one request is issued; nothing is retried.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (*Speech, error)
}
