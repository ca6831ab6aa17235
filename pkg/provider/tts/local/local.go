// Package local provides an offline TTS provider that drives a speech engine
// installed on the host: espeak-ng, espeak, or macOS say. The engine speaks
// straight to the default output device, so Synthesize blocks until the
// utterance has finished and returns a Speech with Spoken set.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MrWong99/talkloop/pkg/provider/tts"
	"github.com/MrWong99/talkloop/pkg/types"
)

// ErrNoEngine is returned by New when none of the known engines is on PATH.
var ErrNoEngine = errors.New("local: no offline speech engine found (tried espeak-ng, espeak, say)")

// candidates are probed in order when no command is configured.
var candidates = []string{"espeak-ng", "espeak", "say"}

const (
	// espeakDefaultWPM is espeak's default speaking rate.
	espeakDefaultWPM = 175
	// sayDefaultWPM is macOS say's default speaking rate.
	sayDefaultWPM = 180
)

// Option is a functional option for configuring the local Provider.
type Option func(*Provider)

// WithCommand pins the engine binary instead of probing PATH. The flavour of
// command-line flags is derived from the binary's base name.
func WithCommand(path string) Option {
	return func(p *Provider) {
		p.command = path
	}
}

// Provider implements tts.Provider by executing a local speech engine.
type Provider struct {
	command string
}

// New locates a speech engine and returns a Provider for it.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{}
	for _, o := range opts {
		o(p)
	}
	if p.command != "" {
		return p, nil
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			p.command = path
			return p, nil
		}
	}
	return nil, ErrNoEngine
}

// Engine returns the path of the engine binary in use.
func (p *Provider) Engine() string { return p.command }

// Synthesize speaks text through the engine and waits for it to exit.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (*tts.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.command, p.args(text, voice)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("local: %s: %w: %s", filepath.Base(p.command), err, msg)
		}
		return nil, fmt.Errorf("local: %s: %w", filepath.Base(p.command), err)
	}
	return &tts.Speech{Spoken: true}, nil
}

// args builds the engine's command line. The text always comes last and is
// passed as a single argument, never through a shell. A leading dash is
// shielded so the engine cannot mistake the text for a flag.
func (p *Provider) args(text string, voice types.VoiceProfile) []string {
	var args []string
	switch filepath.Base(p.command) {
	case "say":
		if voice.ID != "" {
			args = append(args, "-v", voice.ID)
		}
		if voice.SpeedFactor > 0 {
			args = append(args, "-r", strconv.Itoa(int(sayDefaultWPM*voice.SpeedFactor)))
		}
	default:
		v := voice.ID
		if v == "" && voice.Language != "" {
			v = strings.ToLower(voice.Language)
		}
		if v != "" {
			args = append(args, "-v", v)
		}
		if voice.SpeedFactor > 0 {
			args = append(args, "-s", strconv.Itoa(int(espeakDefaultWPM*voice.SpeedFactor)))
		}
	}
	if strings.HasPrefix(text, "-") {
		text = " " + text
	}
	return append(args, text)
}

var _ tts.Provider = (*Provider)(nil)
