package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/talkloop/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stereo []int16
		want   []int16
	}{
		{name: "average", stereo: []int16{100, 200, -100, -200}, want: []int16{150, -150}},
		{name: "max positive", stereo: []int16{32767, 32767}, want: []int16{32767}},
		{name: "max negative", stereo: []int16{-32768, -32768}, want: []int16{-32768}},
		{name: "trailing half frame dropped", stereo: []int16{10, 20, 30}, want: []int16{15}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(audio.StereoToMono(samplesToBytes(tc.stereo)))
			if len(got) != len(tc.want) {
				t.Fatalf("length mismatch: got %d, want %d", len(got), len(tc.want))
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("sample %d: got %d, want %d", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 16000, 16000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes(make([]int16, 480))
	out := audio.ResampleMono16(pcm, 48000, 16000)
	if got := len(out) / 2; got != 160 {
		t.Errorf("samples: got %d, want 160", got)
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{0, 1000})
	out := bytesToSamples(audio.ResampleMono16(pcm, 8000, 16000))
	if len(out) != 4 {
		t.Fatalf("samples: got %d, want 4", len(out))
	}
	if out[0] != 0 || out[1] != 500 || out[2] != 1000 {
		t.Errorf("interpolation: got %v", out)
	}
}

func TestResampleMono16_ZeroRate(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{1, 2, 3})
	if out := audio.ResampleMono16(pcm, 0, 16000); len(out) != len(pcm) {
		t.Errorf("zero src rate should return input unchanged")
	}
	if out := audio.ResampleMono16(pcm, 16000, 0); len(out) != len(pcm) {
		t.Errorf("zero dst rate should return input unchanged")
	}
}

func TestFormatConverter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		target      audio.Format
		frame       audio.Frame
		wantRate    int
		wantCh      int
		wantSamples int
	}{
		{
			name:        "no-op",
			target:      audio.Format{SampleRate: 16000, Channels: 1},
			frame:       audio.Frame{Data: samplesToBytes(make([]int16, 160)), SampleRate: 16000, Channels: 1},
			wantRate:    16000,
			wantCh:      1,
			wantSamples: 160,
		},
		{
			name:        "stereo 48k to mono 16k",
			target:      audio.Format{SampleRate: 16000, Channels: 1},
			frame:       audio.Frame{Data: samplesToBytes(make([]int16, 960)), SampleRate: 48000, Channels: 2},
			wantRate:    16000,
			wantCh:      1,
			wantSamples: 160,
		},
		{
			name:        "keep native rate",
			target:      audio.Format{Channels: 1},
			frame:       audio.Frame{Data: samplesToBytes(make([]int16, 88)), SampleRate: 44100, Channels: 2},
			wantRate:    44100,
			wantCh:      1,
			wantSamples: 44,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			conv := audio.FormatConverter{Target: tc.target}
			out := conv.Convert(tc.frame)
			if out.SampleRate != tc.wantRate {
				t.Errorf("SampleRate: got %d, want %d", out.SampleRate, tc.wantRate)
			}
			if out.Channels != tc.wantCh {
				t.Errorf("Channels: got %d, want %d", out.Channels, tc.wantCh)
			}
			if got := len(out.Data) / 2; got != tc.wantSamples {
				t.Errorf("samples: got %d, want %d", got, tc.wantSamples)
			}
		})
	}
}

func TestFormatConverter_MisalignedFrameDropped(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	out := conv.Convert(audio.Frame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
	if len(out.Data) != 0 {
		t.Errorf("expected dropped frame, got %d bytes", len(out.Data))
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()
	if got := (audio.Format{SampleRate: 48000, Channels: 2}).String(); got != "48000Hz stereo" {
		t.Errorf("got %q", got)
	}
	if got := (audio.Format{SampleRate: 16000, Channels: 1}).String(); got != "16000Hz mono" {
		t.Errorf("got %q", got)
	}
}
