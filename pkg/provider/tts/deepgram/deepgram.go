// Package deepgram provides a Deepgram Aura-backed TTS provider built on the
// deepgram-go-sdk speak WebSocket client. It implements the tts.Provider
// interface.
//
// The reply is sent as one text message and flushed. Linear16 audio chunks
// are collected until Deepgram confirms the flush, then wrapped in a WAV
// container for playback.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/MrWong99/talkloop/pkg/audio"
	"github.com/MrWong99/talkloop/pkg/provider/tts"
	"github.com/MrWong99/talkloop/pkg/types"
)

const (
	defaultModel      = "aura-asteria-en"
	defaultSampleRate = 24000
	defaultTimeout    = 30 * time.Second
	encodingLinear16  = "linear16"
)

// ErrNoAudio is returned when Deepgram flushed without sending any audio.
var ErrNoAudio = errors.New("deepgram tts: no audio received")

// Option is a functional option for configuring the Deepgram TTS Provider.
type Option func(*Provider)

// WithModel sets the default Aura voice model (e.g., "aura-orion-en").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithSampleRate sets the linear16 output rate requested from Deepgram.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// WithHost overrides the Deepgram API host, for self-hosted deployments.
func WithHost(host string) Option {
	return func(p *Provider) {
		p.host = strings.TrimPrefix(strings.TrimPrefix(host, "wss://"), "https://")
	}
}

// WithTimeout bounds how long Synthesize waits for the flush confirmation.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// session is the part of the SDK speak client Synthesize drives.
type session interface {
	Connect() bool
	SpeakWithText(text string) error
	Flush() error
	Stop()
}

// dialFunc opens a speak session that reports to cb.
type dialFunc func(ctx context.Context, opts *clientinterfaces.WSSpeakOptions, cb *collector) (session, error)

// Provider implements tts.Provider backed by Deepgram Aura.
type Provider struct {
	apiKey     string
	model      string
	sampleRate int
	host       string
	timeout    time.Duration
	dial       dialFunc
}

// New creates a new Deepgram TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram tts: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		sampleRate: defaultSampleRate,
		timeout:    defaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	if p.dial == nil {
		p.dial = p.dialSDK
	}
	return p, nil
}

func (p *Provider) dialSDK(ctx context.Context, opts *clientinterfaces.WSSpeakOptions, cb *collector) (session, error) {
	return speak.NewWSUsingCallback(ctx, p.apiKey, &clientinterfaces.ClientOptions{Host: p.host}, opts, cb)
}

// Synthesize speaks text with the Aura model named by voice.ID, or the
// default model, and returns the audio as WAV.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (*tts.Speech, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, tts.ErrEmptyText
	}
	model := voice.ID
	if model == "" {
		model = p.model
	}

	cb := newCollector()
	sess, err := p.dial(ctx, &clientinterfaces.WSSpeakOptions{
		Model:      model,
		Encoding:   encodingLinear16,
		SampleRate: p.sampleRate,
	}, cb)
	if err != nil {
		return nil, fmt.Errorf("deepgram tts: create client: %w", err)
	}
	defer sess.Stop()

	if !sess.Connect() {
		return nil, errors.New("deepgram tts: connect failed")
	}
	if err := sess.SpeakWithText(text); err != nil {
		return nil, fmt.Errorf("deepgram tts: send text: %w", err)
	}
	if err := sess.Flush(); err != nil {
		return nil, fmt.Errorf("deepgram tts: flush: %w", err)
	}

	if err := cb.wait(ctx, p.timeout); err != nil {
		return nil, err
	}

	pcm := cb.audio()
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}
	return &tts.Speech{
		Data: audio.EncodeWAV(audio.Buffer{PCM: pcm, SampleRate: p.sampleRate, Channels: 1}),
		MIME: tts.MIMEWAV,
	}, nil
}

// collector receives speak events from the SDK. Audio arrives as binary
// messages; the Flushed event marks the end of the reply.
type collector struct {
	mu  sync.Mutex
	pcm []byte

	flushed   chan struct{}
	flushOnce sync.Once
	failed    chan error
}

func newCollector() *collector {
	return &collector{flushed: make(chan struct{}), failed: make(chan error, 1)}
}

// wait blocks until the flush is confirmed. A failure reported after the
// flush does not count.
func (c *collector) wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.flushed:
		return nil
	case err := <-c.failed:
		select {
		case <-c.flushed:
			return nil
		default:
			return err
		}
	case <-ctx.Done():
		return fmt.Errorf("deepgram tts: %w", ctx.Err())
	case <-timer.C:
		return fmt.Errorf("deepgram tts: no flush confirmation after %s", timeout)
	}
}

func (c *collector) audio() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pcm
}

func (c *collector) fail(err error) {
	select {
	case c.failed <- err:
	default:
	}
}

func (c *collector) Binary(data []byte) error {
	c.mu.Lock()
	c.pcm = append(c.pcm, data...)
	c.mu.Unlock()
	return nil
}

func (c *collector) Flush(*msginterfaces.FlushedResponse) error {
	c.flushOnce.Do(func() { close(c.flushed) })
	return nil
}

func (c *collector) Error(er *msginterfaces.ErrorResponse) error {
	if er == nil {
		c.fail(errors.New("deepgram tts: server error"))
		return nil
	}
	c.fail(fmt.Errorf("deepgram tts: server error: %+v", *er))
	return nil
}

func (c *collector) Close(*msginterfaces.CloseResponse) error {
	c.fail(errors.New("deepgram tts: connection closed before flush"))
	return nil
}

func (c *collector) Open(*msginterfaces.OpenResponse) error         { return nil }
func (c *collector) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (c *collector) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (c *collector) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (c *collector) UnhandledEvent([]byte) error                    { return nil }

var _ tts.Provider = (*Provider)(nil)
