// Package app wires talkloop's subsystems into a running application.
//
// New assembles the turn orchestrator from config and providers. The three
// run modes share it: RunConversation talks through the microphone until a
// stop keyword, RunFile answers one recorded question, and Serve exposes
// the web UI while watching the config file for hot-reloadable changes.
//
// Test doubles are injected through functional options (WithRecorder,
// WithPlayer, WithDisplay, WithMetrics).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talkloop/internal/config"
	"github.com/MrWong99/talkloop/internal/health"
	"github.com/MrWong99/talkloop/internal/observe"
	"github.com/MrWong99/talkloop/internal/resilience"
	"github.com/MrWong99/talkloop/internal/session"
	"github.com/MrWong99/talkloop/internal/turn"
	"github.com/MrWong99/talkloop/internal/web"
	"github.com/MrWong99/talkloop/pkg/audio"
	"github.com/MrWong99/talkloop/pkg/audio/capture"
	"github.com/MrWong99/talkloop/pkg/audio/device"
	"github.com/MrWong99/talkloop/pkg/provider/stt"
	"github.com/MrWong99/talkloop/pkg/types"
)

// App owns the orchestrator and the run modes built on it.
type App struct {
	cfg       *config.Config
	providers *Providers

	recorder capture.Recorder
	player   audio.Player
	display  turn.Display
	metrics  *observe.Metrics
	scrape   http.Handler
	breakers *resilience.Set
	level    *slog.LevelVar

	configPath string

	orch *turn.Orchestrator

	mu    sync.Mutex
	pause time.Duration
}

// Option is a functional option for New.
type Option func(*App)

// WithRecorder replaces the default microphone.
func WithRecorder(r capture.Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithPlayer replaces the default speaker.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithDisplay sets the sink for transcripts, replies and errors.
func WithDisplay(d turn.Display) Option {
	return func(a *App) { a.display = d }
}

// WithMetrics sets the metrics instruments. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the /metrics handler of the web server.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.scrape = h }
}

// WithBreakers exposes the providers' circuit breakers in health output.
func WithBreakers(s *resilience.Set) Option {
	return func(a *App) { a.breakers = s }
}

// WithLogLevel lets config hot reload adjust the process log level.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithConfigPath enables hot reload of path while serving.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// New creates an App from a validated config and its providers.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.LLM == nil || providers.TTS == nil {
		return nil, errors.New("app: stt, llm and tts providers are required")
	}
	a := &App{cfg: cfg, providers: providers, pause: cfg.Conversation.Pause}
	for _, o := range opts {
		o(a)
	}
	if a.recorder == nil {
		a.recorder = device.NewMicrophone()
	}
	if a.player == nil {
		a.player = device.NewSpeaker()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.breakers == nil {
		a.breakers = &resilience.Set{}
	}

	source := capture.NewTimed(a.recorder,
		capture.WithDuration(cfg.Capture.Duration),
		capture.WithSampleRate(cfg.Capture.SampleRate),
		capture.WithChannels(cfg.Capture.Channels),
	)

	a.orch = turn.New(turn.Deps{
		Source:  source,
		STT:     providers.STT,
		LLM:     providers.LLM,
		TTS:     providers.TTS,
		Player:  a.player,
		Display: a.display,
	}, SettingsFromConfig(cfg),
		turn.WithMetrics(a.metrics),
		turn.WithTempDir(cfg.Server.TempDir),
		turn.WithKeepTemp(cfg.Server.KeepTempFiles),
		turn.WithProviderNames(providers.STTName, providers.LLMName, providers.TTSName),
	)
	return a, nil
}

// Orchestrator returns the turn orchestrator.
func (a *App) Orchestrator() *turn.Orchestrator { return a.orch }

// SettingsFromConfig derives the per-turn settings from cfg.Conversation.
// cfg must have had defaults applied.
func SettingsFromConfig(cfg *config.Config) turn.Settings {
	cv := cfg.Conversation
	s := turn.DefaultSettings()
	s.Persona = cv.SystemPrompt
	s.MaxTokens = cv.MaxTokens
	s.StopKeywords = append([]string(nil), cv.StopKeywords...)
	s.Farewell = cv.Farewell
	if cv.Temperature != nil {
		s.Temperature = *cv.Temperature
	}
	if cv.TopP != nil {
		s.TopP = *cv.TopP
	}
	s.STT = stt.Request{Language: cv.Language, Punctuate: cv.Punctuate == nil || *cv.Punctuate}
	s.Voice = types.VoiceProfile{
		ID:          cv.Voice.ID,
		Name:        cv.Voice.Name,
		Provider:    cfg.Providers.TTS.Name,
		Language:    cv.Voice.Language,
		SpeedFactor: cv.Voice.SpeedFactor,
	}
	return s
}

func (a *App) newLoop() *session.Loop {
	a.mu.Lock()
	pause := a.pause
	a.mu.Unlock()
	return session.New(a.orch, session.Options{
		Pause:   pause,
		Metrics: a.metrics,
	})
}

// RunConversation runs a microphone conversation until a stop keyword is
// heard or ctx is cancelled. Cancellation is not an error.
func (a *App) RunConversation(ctx context.Context) error {
	err := a.newLoop().Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunFile runs one turn on the WAV file at path.
func (a *App) RunFile(ctx context.Context, path string) turn.Result {
	var conv turn.ConversationState
	return a.orch.RunWith(ctx, &conv, turn.IO{
		Source: capture.FromPath(path, a.cfg.Capture.TargetSampleRate),
	})
}

// Serve runs the web server until ctx is cancelled. When a config path was
// given, the file is watched and conversation settings and the log level are
// applied on change.
func (a *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	conversations := NewConversations(ctx, a.newLoop)

	hh := health.New([]health.Checker{
		{Name: "providers", Check: a.breakers.Check},
	},
		health.WithDetail("conversation", func() any { return conversations.Info() }),
		health.WithDetail("breakers", func() any { return a.breakers.States() }),
	)

	srv := web.New(web.Config{
		Addr:             a.cfg.Server.ListenAddr,
		Turns:            a.orch,
		Conversations:    conversations,
		Health:           hh,
		Metrics:          a.metrics,
		MetricsHandler:   a.scrape,
		TargetSampleRate: a.cfg.Capture.TargetSampleRate,
	})

	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err == nil {
			w, err := config.NewWatcher(a.configPath, a.ApplyConfig)
			if err != nil {
				return fmt.Errorf("app: watch config: %w", err)
			}
			g.Go(func() error { return w.Run(ctx) })
		}
	}

	g.Go(func() error { return srv.ListenAndServe(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		conversations.Stop()
		return nil
	})
	return g.Wait()
}

// ApplyConfig applies the hot-reloadable parts of a changed config. It is a
// [config.ChangeFunc].
func (a *App) ApplyConfig(_, new *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ConversationChanged {
		a.orch.UpdateSettings(SettingsFromConfig(new))
		a.mu.Lock()
		a.pause = new.Conversation.Pause
		a.mu.Unlock()
		slog.Info("conversation settings reloaded", "fields", d.ConversationFields)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
}
