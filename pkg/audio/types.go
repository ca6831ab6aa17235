// Package audio defines the PCM data model shared by capture sources,
// transcription backends and playback sinks, together with the WAV codec and
// the sample-format conversions they need.
//
// All PCM in this package is 16-bit signed little-endian.
package audio

import (
	"errors"
	"time"
)

// DefaultSampleRate is the capture and transcription sample rate used when
// nothing else is configured.
const DefaultSampleRate = 16000

// bytesPerSample is fixed for 16-bit PCM.
const bytesPerSample = 2

// ErrEmptyBuffer is returned when an operation requires audio but the buffer
// holds no samples.
var ErrEmptyBuffer = errors.New("audio: buffer is empty")

// Frame is a single chunk of inbound PCM, as delivered by a streaming source
// such as a browser microphone.
type Frame struct {
	// Data is the raw PCM payload.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for browser capture, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Buffer is a finished, bounded PCM recording handed from a capture source to
// the turn orchestrator. Once a capture source returns a Buffer it no longer
// touches PCM; consumers must treat the slice as read-only.
type Buffer struct {
	// PCM holds interleaved 16-bit samples.
	PCM []byte

	// SampleRate is the rate the samples were actually recorded at. It may
	// differ from the requested rate when a device only supports its native rate.
	SampleRate int

	// Channels is 1 for every buffer produced by a capture source.
	Channels int
}

// Empty reports whether b carries no complete sample.
func (b Buffer) Empty() bool {
	return len(b.PCM) < bytesPerSample
}

// Samples returns the number of samples per channel in b.
func (b Buffer) Samples() int {
	ch := b.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(b.PCM) / (bytesPerSample * ch)
}

// Duration returns the playback length of b. Zero when the sample rate is unknown.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Samples()) * time.Second / time.Duration(b.SampleRate)
}
