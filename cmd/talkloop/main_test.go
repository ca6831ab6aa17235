package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/MrWong99/talkloop/internal/config"
	"github.com/MrWong99/talkloop/internal/turn"
)

func TestResolveMode(t *testing.T) {
	t.Parallel()

	serving := &config.Config{Server: config.ServerConfig{ListenAddr: ":8080"}}
	local := &config.Config{}

	tests := []struct {
		name    string
		mode    string
		file    string
		cfg     *config.Config
		want    string
		wantErr bool
	}{
		{name: "default mic", cfg: local, want: modeMic},
		{name: "default serve", cfg: serving, want: modeServe},
		{name: "file implies file mode", file: "q.wav", cfg: serving, want: modeFile},
		{name: "explicit mic", mode: modeMic, cfg: serving, want: modeMic},
		{name: "file mode without file", mode: modeFile, cfg: local, wantErr: true},
		{name: "serve without addr", mode: modeServe, cfg: local, wantErr: true},
		{name: "unknown", mode: "radio", cfg: local, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := resolveMode(tc.mode, tc.file, tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got mode %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestConsoleDisplay(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	d := consoleDisplay(&buf)
	d.Show(turn.Event{Kind: turn.EventState, State: turn.Transcribing})
	d.Show(turn.Event{Kind: turn.EventTranscript, Text: "What time is it?"})
	d.Show(turn.Event{Kind: turn.EventReply, Text: "It is noon."})
	d.Show(turn.Event{Kind: turn.EventError, Err: errors.New("boom"), Text: "boom"})

	want := "You said: What time is it?\nAssistant: It is noon.\nError: boom\n"
	if got := buf.String(); got != want {
		t.Errorf("output:\ngot  %q\nwant %q", got, want)
	}
}

func TestInitTelemetry(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	tel, err := initTelemetry(context.Background())
	if err != nil {
		t.Fatalf("initTelemetry: %v", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}()

	rec := httptest.NewRecorder()
	tel.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK || !strings.Contains(string(body), `service_version="dev"`) {
		t.Errorf("/metrics: status %d, body without service_version:\n%s", rec.Code, body)
	}
}
