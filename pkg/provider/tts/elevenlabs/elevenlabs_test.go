package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkloop/pkg/audio"
	"github.com/MrWong99/talkloop/pkg/provider/tts"
	"github.com/MrWong99/talkloop/pkg/types"
)

// fakeServer accepts one stream-input connection, records the text messages
// and answers with the scripted responses once the flush arrives.
type fakeServer struct {
	mu        sync.Mutex
	path      string
	query     url.Values
	apiKey    string
	messages  []textMessage
	responses []audioResponse
}

func (f *fakeServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.path = r.URL.Path
		f.query = r.URL.Query()
		f.apiKey = r.Header.Get("xi-api-key")
		f.mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg textMessage
			_ = json.Unmarshal(data, &msg)
			f.mu.Lock()
			f.messages = append(f.messages, msg)
			f.mu.Unlock()
			if msg.Text == "" {
				break
			}
		}
		for _, resp := range f.responses {
			data, _ := json.Marshal(resp)
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func TestSynthesize_CollectsPCMIntoWAV(t *testing.T) {
	f := &fakeServer{responses: []audioResponse{
		{Audio: b64([]byte{1, 0, 2, 0})},
		{Audio: b64([]byte{3, 0})},
		{IsFinal: true},
	}}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	p, err := New("xi-key", WithBaseURL(srv.URL), WithOutputFormat("pcm_24000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sp, err := p.Synthesize(context.Background(), "Hello there", types.VoiceProfile{ID: "voice-1", SpeedFactor: 1.1})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if sp.MIME != tts.MIMEWAV || sp.Spoken {
		t.Errorf("speech: MIME %q spoken %v", sp.MIME, sp.Spoken)
	}
	buf, err := audio.DecodeWAV(sp.Data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if buf.SampleRate != 24000 || !bytes.Equal(buf.PCM, []byte{1, 0, 2, 0, 3, 0}) {
		t.Errorf("wav: %d Hz, pcm %v", buf.SampleRate, buf.PCM)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.path != "/v1/text-to-speech/voice-1/stream-input" {
		t.Errorf("path: got %q", f.path)
	}
	if f.query.Get("model_id") != defaultModel || f.query.Get("output_format") != "pcm_24000" {
		t.Errorf("query: got %v", f.query)
	}
	if f.apiKey != "xi-key" {
		t.Errorf("xi-api-key header: got %q", f.apiKey)
	}
	if len(f.messages) != 3 {
		t.Fatalf("messages: got %d, want 3 (BOI, text, flush)", len(f.messages))
	}
	boi := f.messages[0]
	if boi.Text != " " || boi.XiAPIKey != "xi-key" || boi.VoiceSettings == nil || boi.VoiceSettings.Speed != 1.1 {
		t.Errorf("BOI: got %+v", boi)
	}
	if f.messages[1].Text != "Hello there " {
		t.Errorf("text: got %q", f.messages[1].Text)
	}
}

func TestSynthesize_DefaultVoice(t *testing.T) {
	f := &fakeServer{responses: []audioResponse{{Audio: b64([]byte{0, 0}), IsFinal: true}}}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), "hi", types.VoiceProfile{}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !strings.Contains(f.path, defaultVoiceID) {
		t.Errorf("path: got %q, want default voice", f.path)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	f := &fakeServer{responses: []audioResponse{{Error: "quota_exceeded", Message: "out of credits"}}}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), "hi", types.VoiceProfile{})
	if err == nil || !strings.Contains(err.Error(), "quota_exceeded") {
		t.Errorf("got %v, want quota error", err)
	}
}

func TestSynthesize_NoAudio(t *testing.T) {
	f := &fakeServer{responses: []audioResponse{{IsFinal: true}}}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), "hi", types.VoiceProfile{}); err == nil {
		t.Fatal("expected error for empty audio stream")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("k")
	if _, err := p.Synthesize(context.Background(), "", types.VoiceProfile{}); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("got %v, want ErrEmptyText", err)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		opts    []Option
		wantErr bool
	}{
		{"ok", "k", nil, false},
		{"empty key", "", nil, true},
		{"mp3 format", "k", []Option{WithOutputFormat("mp3_44100_128")}, true},
		{"bad rate", "k", []Option{WithOutputFormat("pcm_fast")}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.key, tc.opts...)
			if (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
