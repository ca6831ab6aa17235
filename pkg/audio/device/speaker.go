//go:build device

package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"

	"github.com/MrWong99/talkloop/pkg/audio"
)

// Speaker plays WAV and MP3 clips on the default output device.
type Speaker struct {
	mu sync.Mutex
}

// NewSpeaker returns a Speaker bound to the default output device.
func NewSpeaker() *Speaker { return &Speaker{} }

// Play decodes clip and blocks until it has been played to the end or ctx is
// cancelled.
func (s *Speaker) Play(ctx context.Context, clip audio.Clip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, err := openClip(clip)
	if err != nil {
		return err
	}
	defer rc.Close()

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	if clip.MIME == "audio/mpeg" {
		streamer, format, err = mp3.Decode(rc)
	} else {
		streamer, format, err = wav.Decode(rc)
	}
	if err != nil {
		return fmt.Errorf("device: decode %s: %w", clip.MIME, err)
	}
	defer streamer.Close()

	if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
		return fmt.Errorf("%w: init speaker: %v", ErrNoDevice, err)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(streamer, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

func openClip(clip audio.Clip) (io.ReadCloser, error) {
	if clip.Path == "" {
		return io.NopCloser(bytes.NewReader(clip.Data)), nil
	}
	f, err := os.Open(clip.Path)
	if err != nil {
		return nil, fmt.Errorf("device: open clip: %w", err)
	}
	return f, nil
}

var _ audio.Player = (*Speaker)(nil)
