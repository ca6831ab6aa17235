//go:build device

package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/talkloop/pkg/audio"
)

// Microphone records from the host's default input device via PortAudio.
// Recordings are serialised; the device is opened per call and released
// before Record returns.
type Microphone struct {
	mu sync.Mutex
}

// NewMicrophone returns a Microphone bound to the default input device.
func NewMicrophone() *Microphone { return &Microphone{} }

// Record captures d worth of 16-bit audio at sampleRate with the given channel
// count and blocks until the recording is complete.
//
// When the device rejects sampleRate the stream is reopened at the device's
// native rate; the returned buffer reports the rate actually used.
func (m *Microphone) Record(ctx context.Context, d time.Duration, sampleRate, channels int) (audio.Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if channels <= 0 {
		channels = 1
	}
	if err := portaudio.Initialize(); err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: initialise portaudio: %v", ErrNoDevice, err)
	}
	defer portaudio.Terminate()

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}

	rate := sampleRate
	stream, buf, err := openInput(dev, rate, channels)
	if err != nil {
		native := int(dev.DefaultSampleRate)
		slog.Warn("microphone rejected sample rate, using device native rate",
			"requested", sampleRate,
			"native", native,
			"err", err,
		)
		rate = native
		if stream, buf, err = openInput(dev, rate, channels); err != nil {
			return audio.Buffer{}, fmt.Errorf("device: open input stream: %w", err)
		}
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return audio.Buffer{}, fmt.Errorf("device: start input stream: %w", err)
	}
	defer stream.Stop()

	total := int(int64(rate) * int64(d) / int64(time.Second))
	pcm := make([]byte, 0, total*channels*2)
	for recorded := 0; recorded < total; recorded += len(buf) / channels {
		if err := ctx.Err(); err != nil {
			return audio.Buffer{}, err
		}
		if err := stream.Read(); err != nil {
			return audio.Buffer{}, fmt.Errorf("device: read input stream: %w", err)
		}
		for _, s := range buf {
			pcm = binary.LittleEndian.AppendUint16(pcm, uint16(s))
		}
	}

	return audio.Buffer{PCM: pcm, SampleRate: rate, Channels: channels}, nil
}

// openInput opens a blocking input stream reading 100 ms per Read call.
func openInput(dev *portaudio.DeviceInfo, rate, channels int) (*portaudio.Stream, []int16, error) {
	framesPerBuffer := rate / 10
	buf := make([]int16, framesPerBuffer*channels)

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = channels
	params.SampleRate = float64(rate)
	params.FramesPerBuffer = framesPerBuffer

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, nil, err
	}
	return stream, buf, nil
}
