package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/MrWong99/talkloop/pkg/audio"
)

// File ingests a WAV container supplied by the caller, either as bytes (an
// HTTP upload) or as a path on disk. The container must already be mono
// 16-bit PCM. No resampling is performed: a rate that differs from the
// configured target is logged and passed through as-is, and the buffer
// reports the container's own rate.
type File struct {
	name       string
	data       []byte
	path       string
	targetRate int
}

// FromBytes returns a File source over an in-memory WAV container.
// targetRate is only used for the mismatch warning; 0 disables it.
func FromBytes(name string, data []byte, targetRate int) *File {
	return &File{name: name, data: data, targetRate: targetRate}
}

// FromPath returns a File source that reads the WAV container at path on
// every Capture call.
func FromPath(path string, targetRate int) *File {
	return &File{name: path, path: path, targetRate: targetRate}
}

// Name implements [Source].
func (f *File) Name() string { return "file" }

// Capture decodes the container and returns its PCM.
func (f *File) Capture(ctx context.Context) (audio.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return audio.Buffer{}, err
	}

	data := f.data
	if f.path != "" {
		var err error
		if data, err = os.ReadFile(f.path); err != nil {
			return audio.Buffer{}, fmt.Errorf("capture: read %q: %w", f.path, err)
		}
	}

	b, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("capture: ingest %q: %w", f.name, err)
	}
	if b.Channels != 1 {
		return audio.Buffer{}, fmt.Errorf("capture: ingest %q: expected mono audio, got %d channels", f.name, b.Channels)
	}
	if b.Empty() {
		return audio.Buffer{}, ErrNoAudio
	}
	if f.targetRate > 0 && b.SampleRate != f.targetRate {
		slog.Warn("uploaded audio sample rate differs from target; passing through unchanged",
			"file", f.name,
			"sample_rate", b.SampleRate,
			"target_sample_rate", f.targetRate,
		)
	}
	return b, nil
}

var _ Source = (*File)(nil)
