// Package capture provides the audio sources a conversational turn can start
// from. Every source produces one bounded, mono [audio.Buffer] per Capture
// call:
//
//   - [Timed] records a fixed duration from a [Recorder] (usually the local
//     microphone).
//   - [File] ingests a caller-supplied WAV container without resampling.
//   - [Stream] accumulates pushed frames until an explicit Stop.
//
// Sources never write files; any temporary artefacts belong to the caller.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/talkloop/pkg/audio"
)

// ErrNoAudio is returned when a source finished without producing a single sample.
var ErrNoAudio = errors.New("capture: no audio captured")

// ErrStopped is returned by [Stream.Push] after the stream has been stopped.
var ErrStopped = errors.New("capture: stream already stopped")

// Source produces one finished audio buffer per call. Capture blocks until
// the buffer is complete, the source fails, or ctx is cancelled.
type Source interface {
	// Name identifies the source in logs and status output.
	Name() string

	// Capture returns a mono 16-bit PCM buffer. The buffer is immutable from
	// the source's perspective once returned.
	Capture(ctx context.Context) (audio.Buffer, error)
}

// Recorder is the hardware collaborator behind [Timed]. Record captures d of
// audio and blocks until the device signals completion. The returned buffer
// reports the sample rate actually used, which may be the device's native rate.
type Recorder interface {
	Record(ctx context.Context, d time.Duration, sampleRate, channels int) (audio.Buffer, error)
}

// toMono downmixes a stereo buffer. Buffers with other channel counts are
// returned unchanged; callers validate mono-ness where it matters.
func toMono(b audio.Buffer) audio.Buffer {
	if b.Channels != 2 {
		return b
	}
	return audio.Buffer{PCM: audio.StereoToMono(b.PCM), SampleRate: b.SampleRate, Channels: 1}
}
