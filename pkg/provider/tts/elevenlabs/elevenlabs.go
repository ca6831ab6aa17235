// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs stream-input WebSocket API. It implements the tts.Provider
// interface.
//
// The whole reply is sent in one go, the stream is flushed, and all PCM
// chunks are collected until ElevenLabs marks the output final. The result is
// wrapped in a WAV container so it can be persisted and played like any
// other remote synthesis.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkloop/pkg/audio"
	"github.com/MrWong99/talkloop/pkg/provider/tts"
	"github.com/MrWong99/talkloop/pkg/types"
)

const (
	defaultBaseURL   = "wss://api.elevenlabs.io"
	streamPathFmt    = "/v1/text-to-speech/%s/stream-input"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"

	// defaultVoiceID is the stock "Rachel" voice.
	defaultVoiceID = "21m00Tcm4TlvDq8wRMmT"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the PCM output format (e.g., "pcm_16000", "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithDefaultVoice sets the voice used when the VoiceProfile carries no ID.
func WithDefaultVoice(id string) Option {
	return func(p *Provider) {
		p.voiceID = id
	}
}

// WithBaseURL overrides the WebSocket origin. Used for tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	sampleRate   int
	voiceID      string
	baseURL      string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty and the
// output format must be one of the raw pcm_<rate> formats.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		voiceID:      defaultVoiceID,
		baseURL:      defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	rate, err := pcmRate(p.outputFormat)
	if err != nil {
		return nil, err
	}
	p.sampleRate = rate
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize streams text to ElevenLabs and returns the collected audio as WAV.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (*tts.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}

	headers := http.Header{}
	headers.Set("xi-api-key", p.apiKey)
	conn, _, err := websocket.Dial(ctx, p.streamURL(voice), &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if voice.SpeedFactor > 0 {
		vs.Speed = voice.SpeedFactor
	}
	// ElevenLabs requires a single space as the first text value. Text must
	// end with a space so the final word is not held back for more input.
	for _, msg := range []textMessage{
		{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey},
		{Text: strings.TrimSpace(text) + " "},
		{Text: ""},
	} {
		if err := writeJSON(ctx, conn, msg); err != nil {
			return nil, fmt.Errorf("elevenlabs: send text: %w", err)
		}
	}

	pcm, err := collect(ctx, conn)
	if err != nil {
		return nil, err
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")

	return &tts.Speech{
		Data: audio.EncodeWAV(audio.Buffer{PCM: pcm, SampleRate: p.sampleRate, Channels: 1}),
		MIME: tts.MIMEWAV,
	}, nil
}

// collect reads audio messages until the final marker or a normal close.
func collect(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(pcm) > 0 {
				return pcm, nil
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}

		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return nil, fmt.Errorf("elevenlabs: decode message: %w", err)
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("elevenlabs: server error: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			if len(pcm) == 0 {
				return nil, errors.New("elevenlabs: stream ended without audio")
			}
			return pcm, nil
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// streamURL constructs the WebSocket URL for voice.
func (p *Provider) streamURL(voice types.VoiceProfile) string {
	id := voice.ID
	if id == "" {
		id = p.voiceID
	}
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return p.baseURL + fmt.Sprintf(streamPathFmt, url.PathEscape(id)) + "?" + q.Encode()
}

// pcmRate extracts the sample rate from a "pcm_<rate>" output format.
func pcmRate(format string) (int, error) {
	rate, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not raw PCM", format)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("elevenlabs: output format %q has no valid sample rate", format)
	}
	return n, nil
}

var _ tts.Provider = (*Provider)(nil)
