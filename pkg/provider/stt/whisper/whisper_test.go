package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/talkloop/pkg/audio"
	"github.com/MrWong99/talkloop/pkg/provider/stt"
	"github.com/MrWong99/talkloop/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// inferenceRequest captures the multipart fields of one /inference call.
type inferenceRequest struct {
	language       string
	model          string
	responseFormat string
	file           []byte
}

// newMockServer creates a test server that responds to POST /inference with
// body. It records the last request into *got and counts calls.
func newMockServer(t *testing.T, body string, got *inferenceRequest, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if got != nil {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			got.language = r.FormValue("language")
			got.model = r.FormValue("model")
			got.responseFormat = r.FormValue("response_format")
			if f, _, err := r.FormFile("file"); err == nil {
				got.file, _ = io.ReadAll(f)
				f.Close()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func speech() audio.Buffer {
	return audio.Buffer{PCM: make([]byte, 3200), SampleRate: 16000, Channels: 1}
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

// ---- Transcribe -------------------------------------------------------------

func TestTranscribe_ReturnsText(t *testing.T) {
	t.Parallel()

	var (
		got   inferenceRequest
		calls atomic.Int32
	)
	body, _ := json.Marshal(map[string]string{"text": "  hello world \n"})
	srv := newMockServer(t, string(body), &got, &calls)

	p, err := whisper.New(srv.URL+"/", whisper.WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tr, err := p.Transcribe(context.Background(), speech(), stt.DefaultRequest())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "hello world" {
		t.Errorf("text: got %q, want %q", tr.Text, "hello world")
	}
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want exactly 1", calls.Load())
	}
	if got.language != "en" {
		t.Errorf("language field: got %q, want en", got.language)
	}
	if got.model != "base.en" {
		t.Errorf("model field: got %q", got.model)
	}
	if got.responseFormat != "json" {
		t.Errorf("response_format field: got %q", got.responseFormat)
	}
	if b, err := audio.DecodeWAV(got.file); err != nil || b.SampleRate != 16000 {
		t.Errorf("uploaded file is not a 16 kHz WAV: %v", err)
	}
}

func TestTranscribe_EmptyTextPassesThrough(t *testing.T) {
	t.Parallel()

	srv := newMockServer(t, `{"text":""}`, nil, nil)
	p, _ := whisper.New(srv.URL)

	tr, err := p.Transcribe(context.Background(), speech(), stt.DefaultRequest())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "" {
		t.Errorf("text: got %q, want empty", tr.Text)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name:    "missing text field",
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, `{}`) },
			wantErr: stt.ErrEmptyResult,
		},
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) { http.Error(w, "boom", http.StatusInternalServerError) },
		},
		{
			name:    "malformed json",
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, `{"text":`) },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			p, _ := whisper.New(srv.URL)
			_, err := p.Transcribe(context.Background(), speech(), stt.DefaultRequest())
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestTranscribe_EmptyBuffer_NoRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newMockServer(t, `{"text":"x"}`, nil, &calls)
	p, _ := whisper.New(srv.URL)

	if _, err := p.Transcribe(context.Background(), audio.Buffer{}, stt.DefaultRequest()); !errors.Is(err, audio.ErrEmptyBuffer) {
		t.Errorf("got %v, want ErrEmptyBuffer", err)
	}
	if calls.Load() != 0 {
		t.Errorf("server was called %d times", calls.Load())
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	t.Parallel()

	srv := newMockServer(t, `{"text":"x"}`, nil, nil)
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, speech(), stt.DefaultRequest()); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
