package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/talkloop/pkg/audio"
)

const defaultDuration = 5 * time.Second

// TimedOption is a functional option for [Timed].
type TimedOption func(*Timed)

// WithDuration sets the recording length. Defaults to 5 s.
func WithDuration(d time.Duration) TimedOption {
	return func(t *Timed) {
		if d > 0 {
			t.duration = d
		}
	}
}

// WithSampleRate sets the requested recording rate. Defaults to 16 kHz.
func WithSampleRate(rate int) TimedOption {
	return func(t *Timed) {
		if rate > 0 {
			t.sampleRate = rate
		}
	}
}

// WithChannels sets the number of device channels to record. Stereo input is
// downmixed to mono before Capture returns. Defaults to 1.
func WithChannels(ch int) TimedOption {
	return func(t *Timed) {
		if ch > 0 {
			t.channels = ch
		}
	}
}

// Timed records a fixed-length clip on every Capture call.
type Timed struct {
	rec        Recorder
	duration   time.Duration
	sampleRate int
	channels   int
}

// NewTimed returns a Timed source that records through rec.
func NewTimed(rec Recorder, opts ...TimedOption) *Timed {
	t := &Timed{
		rec:        rec,
		duration:   defaultDuration,
		sampleRate: audio.DefaultSampleRate,
		channels:   1,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Name implements [Source].
func (t *Timed) Name() string { return "timed" }

// Capture records for the configured duration and blocks until done.
func (t *Timed) Capture(ctx context.Context) (audio.Buffer, error) {
	slog.Info("recording", "duration", t.duration, "sample_rate", t.sampleRate)

	b, err := t.rec.Record(ctx, t.duration, t.sampleRate, t.channels)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("capture: timed recording: %w", err)
	}
	if b.SampleRate <= 0 {
		b.SampleRate = t.sampleRate
	}
	if b.Channels <= 0 {
		b.Channels = t.channels
	}
	if b.SampleRate != t.sampleRate {
		slog.Debug("recorder used device native rate", "requested", t.sampleRate, "actual", b.SampleRate)
	}
	b = toMono(b)
	if b.Channels != 1 {
		return audio.Buffer{}, fmt.Errorf("capture: timed recording: unsupported channel count %d", b.Channels)
	}
	if b.Empty() {
		return audio.Buffer{}, ErrNoAudio
	}
	return b, nil
}

var _ Source = (*Timed)(nil)
