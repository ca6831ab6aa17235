// Package device connects talkloop to the local sound hardware: a microphone
// recorder for timed capture and a speaker for playback.
//
// The real implementations need the PortAudio C library and an audio output
// backend, so they are only compiled with the "device" build tag:
//
//	go build -tags device ./cmd/talkloop
//
// Without the tag every operation fails with [ErrNoDevice], which the turn
// orchestrator reports as a capture failure.
package device

import "errors"

// ErrNoDevice is returned when no usable audio device is available, either
// because the binary was built without device support or because the host
// has no default input/output device.
var ErrNoDevice = errors.New("device: no audio device available")
