package whisper

import (
	"encoding/binary"

	"github.com/MrWong99/talkloop/pkg/audio"
)

// modelSampleRate is the only input rate whisper.cpp models accept.
const modelSampleRate = 16000

// whisperSamples prepares buf for in-process inference: mono float32 at 16 kHz.
// Stereo is folded to mono before resampling; other layouts are averaged
// frame by frame without resampling.
func whisperSamples(buf audio.Buffer) []float32 {
	if buf.Channels == 2 {
		buf.PCM = audio.StereoToMono(buf.PCM)
		buf.Channels = 1
	}
	if buf.Channels <= 1 && buf.SampleRate > 0 {
		buf.PCM = audio.ResampleMono16(buf.PCM, buf.SampleRate, modelSampleRate)
	}
	return framesToFloat32(buf.PCM, buf.Channels)
}

// framesToFloat32 averages each frame of 16-bit little-endian PCM into one
// float32 sample in [-1, 1]. A trailing partial frame is dropped.
func framesToFloat32(pcm []byte, channels int) []float32 {
	channels = max(channels, 1)
	frameSize := 2 * channels
	out := make([]float32, len(pcm)/frameSize)
	for i := range out {
		frame := pcm[i*frameSize : (i+1)*frameSize]
		var sum int32
		for off := 0; off < frameSize; off += 2 {
			sum += int32(int16(binary.LittleEndian.Uint16(frame[off:])))
		}
		out[i] = float32(sum) / float32(channels) / 32768
	}
	return out
}
