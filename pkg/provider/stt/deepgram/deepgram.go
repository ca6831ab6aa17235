// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// prerecorded REST API. It implements the stt.Provider interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/MrWong99/talkloop/pkg/audio"
	"github.com/MrWong99/talkloop/pkg/provider/stt"
	"github.com/MrWong99/talkloop/pkg/types"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultTimeout   = 60 * time.Second

	// maxErrorBody caps how much of a non-2xx body is echoed into the error.
	maxErrorBody = 512
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL overrides the listen endpoint. Used for tests and self-hosted
// deployments.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.endpoint = u
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by the Deepgram prerecorded API.
type Provider struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		endpoint:   deepgramEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads buf as a WAV container and returns the first channel's
// first alternative.
func (p *Provider) Transcribe(ctx context.Context, buf audio.Buffer, req stt.Request) (types.Transcript, error) {
	if buf.Empty() {
		return types.Transcript{}, fmt.Errorf("deepgram: %w", audio.ErrEmptyBuffer)
	}

	listenURL, err := p.buildURL(req)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, listenURL, bytes.NewReader(audio.EncodeWAV(buf)))
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return types.Transcript{}, fmt.Errorf("deepgram: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	return parseResponse(data)
}

// buildURL constructs the listen endpoint URL for the given request profile.
func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := req.Language
	if lang == "" {
		lang = stt.DefaultLanguage
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", strconv.FormatBool(req.Punctuate))

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the subset of the prerecorded response body that is read.
type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results *struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word       string  `json:"word"`
					Start      float64 `json:"start"`
					End        float64 `json:"end"`
					Confidence float64 `json:"confidence"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// parseResponse extracts results.channels[0].alternatives[0]. Additional
// channels and alternatives are ignored.
func parseResponse(data []byte) (types.Transcript, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: parse JSON response: %w", err)
	}
	if resp.Results == nil || len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return types.Transcript{}, fmt.Errorf("deepgram: %w", stt.ErrEmptyResult)
	}

	alt := resp.Results.Channels[0].Alternatives[0]
	t := types.Transcript{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		Duration:   secondsToDuration(resp.Metadata.Duration),
	}
	for _, w := range alt.Words {
		t.Words = append(t.Words, types.WordDetail{
			Word:       w.Word,
			Start:      secondsToDuration(w.Start),
			End:        secondsToDuration(w.End),
			Confidence: w.Confidence,
		})
	}
	return t, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

var _ stt.Provider = (*Provider)(nil)
