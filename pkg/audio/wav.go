package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeaderSize is the size of the canonical PCM RIFF header written by EncodeWAV.
const wavHeaderSize = 44

// formatPCM is the WAVE_FORMAT_PCM tag in the fmt chunk.
const formatPCM = 1

// ErrInvalidWAV is returned by [DecodeWAV] for input that is not a 16-bit PCM
// RIFF/WAVE container.
var ErrInvalidWAV = errors.New("audio: invalid WAV container")

// EncodeWAV wraps the PCM in b in a canonical RIFF/WAVE container. The result
// is suitable for uploading to speech-to-text services or writing to disk.
func EncodeWAV(b Buffer) []byte {
	channels := b.Channels
	if channels <= 0 {
		channels = 1
	}
	byteRate := b.SampleRate * channels * bytesPerSample
	blockAlign := channels * bytesPerSample
	dataSize := len(b.PCM)

	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(b.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bytesPerSample*8)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], b.PCM)

	return buf
}

// DecodeWAV parses a RIFF/WAVE container and returns its PCM payload. The
// chunk list is walked rather than assuming a 44-byte header, because many
// encoders insert LIST or fact chunks before the data.
//
// Only uncompressed 16-bit PCM is accepted. The returned buffer shares memory
// with wav.
func DecodeWAV(wav []byte) (Buffer, error) {
	if len(wav) < 12 {
		return Buffer{}, fmt.Errorf("%w: too short", ErrInvalidWAV)
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return Buffer{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		b        Buffer
		foundFmt bool
	)
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || body+16 > len(wav) {
				return Buffer{}, fmt.Errorf("%w: truncated fmt chunk", ErrInvalidWAV)
			}
			format := binary.LittleEndian.Uint16(wav[body : body+2])
			bits := binary.LittleEndian.Uint16(wav[body+14 : body+16])
			if format != formatPCM {
				return Buffer{}, fmt.Errorf("%w: unsupported format tag %d", ErrInvalidWAV, format)
			}
			if bits != bytesPerSample*8 {
				return Buffer{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, bits)
			}
			b.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			b.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			foundFmt = true

		case "data":
			if !foundFmt {
				return Buffer{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			end := body + chunkSize
			// Streaming encoders sometimes leave the size at 0 or 0xFFFFFFFF.
			if chunkSize == 0 || end > len(wav) || end < body {
				end = len(wav)
			}
			b.PCM = wav[body:end]
			return b, nil
		}

		// Chunks are word-aligned.
		offset = body + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return Buffer{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}
