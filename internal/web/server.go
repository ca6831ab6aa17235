// Package web serves the browser surface of talkloop: an embedded page,
// a JSON API to control the microphone conversation, single-turn uploads,
// and a WebSocket that streams PCM from the browser into turns.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/talkloop/internal/health"
	"github.com/MrWong99/talkloop/internal/observe"
	"github.com/MrWong99/talkloop/internal/session"
	"github.com/MrWong99/talkloop/internal/turn"
)

//go:embed static
var staticFS embed.FS

// defaultMaxUpload caps the size of an uploaded recording.
const defaultMaxUpload = 25 << 20

// TurnRunner runs a single turn with per-call endpoints.
// *turn.Orchestrator satisfies it.
type TurnRunner interface {
	RunWith(ctx context.Context, conv *turn.ConversationState, io turn.IO) turn.Result
}

// Conversations controls the background microphone conversation.
type Conversations interface {
	// Start launches a conversation. It returns an error wrapping
	// [session.ErrAlreadyRunning] when one is active.
	Start() error
	// Stop ends the active conversation, if any. It is idempotent.
	Stop()
	// Status reports the active or most recent conversation.
	Status() session.Status
}

// Config holds the dependencies of a [Server].
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	Turns         TurnRunner
	Conversations Conversations
	Health        *health.Handler
	Metrics       *observe.Metrics

	// MetricsHandler serves /metrics. Defaults to promhttp.Handler().
	MetricsHandler http.Handler

	// TargetSampleRate is the rate uploaded and streamed audio is converted
	// to before transcription. Zero keeps the client's rate.
	TargetSampleRate int

	// MaxUploadBytes bounds POST /api/turns bodies. Default: 25 MiB.
	MaxUploadBytes int64
}

// Server is the HTTP server.
type Server struct {
	cfg     Config
	handler http.Handler
}

// New builds a Server and its routes.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.Health == nil {
		cfg.Health = health.New(nil)
	}

	s := &Server{cfg: cfg}

	mux := http.NewServeMux()
	static, _ := fs.Sub(staticFS, "static")
	mux.Handle("GET /", http.FileServerFS(static))
	mux.HandleFunc("POST /api/conversation/start", s.handleStart)
	mux.HandleFunc("POST /api/conversation/stop", s.handleStop)
	mux.HandleFunc("GET /api/conversation", s.handleStatus)
	mux.HandleFunc("POST /api/turns", s.handleTurn)
	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.Handle("GET /metrics", cfg.MetricsHandler)
	cfg.Health.Register(mux)

	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s
}

// Handler returns the root handler with all routes and middleware.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves until ctx is cancelled and then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("web: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web: serve: %w", err)
	}
	return nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Conversations == nil {
		http.Error(w, "microphone conversations are not available", http.StatusServiceUnavailable)
		return
	}
	if err := s.cfg.Conversations.Start(); err != nil {
		if errors.Is(err, session.ErrAlreadyRunning) {
			writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
			return
		}
		observe.Logger(r.Context()).Error("start conversation", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, s.cfg.Conversations.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Conversations == nil {
		http.Error(w, "microphone conversations are not available", http.StatusServiceUnavailable)
		return
	}
	s.cfg.Conversations.Stop()
	writeJSON(w, http.StatusOK, s.cfg.Conversations.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Conversations == nil {
		writeJSON(w, http.StatusOK, session.Status{})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Conversations.Status())
}
