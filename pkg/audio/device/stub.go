//go:build !device

package device

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/talkloop/pkg/audio"
)

// Microphone stub when PortAudio is not compiled in.
type Microphone struct{}

// NewMicrophone returns a Microphone whose Record always fails.
func NewMicrophone() *Microphone { return &Microphone{} }

// Record always returns [ErrNoDevice].
func (m *Microphone) Record(_ context.Context, _ time.Duration, _, _ int) (audio.Buffer, error) {
	return audio.Buffer{}, fmt.Errorf("%w: rebuild with -tags device", ErrNoDevice)
}

// Speaker stub when no playback backend is compiled in.
type Speaker struct{}

// NewSpeaker returns a Speaker whose Play always fails.
func NewSpeaker() *Speaker { return &Speaker{} }

// Play always returns [ErrNoDevice].
func (s *Speaker) Play(_ context.Context, _ audio.Clip) error {
	return fmt.Errorf("%w: rebuild with -tags device", ErrNoDevice)
}

var _ audio.Player = (*Speaker)(nil)
