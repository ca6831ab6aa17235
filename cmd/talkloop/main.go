// Command talkloop is a voice assistant: it records a question, transcribes
// it, asks a language model for a short answer and speaks the reply.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/talkloop/internal/app"
	"github.com/MrWong99/talkloop/internal/config"
	"github.com/MrWong99/talkloop/internal/observe"
	"github.com/MrWong99/talkloop/internal/resilience"
	"github.com/MrWong99/talkloop/internal/turn"
)

const (
	modeMic   = "mic"
	modeFile  = "file"
	modeServe = "serve"
)

// version is reported as service.version; set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mode := flag.String("mode", "", "run mode: mic, file or serve (default: serve when server.listen_addr is set, else mic)")
	file := flag.String("file", "", "WAV file to answer in file mode")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "talkloop: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "talkloop: %v\n", err)
		return 1
	}
	if err := config.ResolveSecrets(cfg, nil); err != nil {
		fmt.Fprintf(os.Stderr, "talkloop: %v\n", err)
		return 1
	}

	m, err := resolveMode(*mode, *file, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "talkloop: %v\n", err)
		flag.Usage()
		return 2
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(newLogger(cfg.Server.LogLevel, &level))

	slog.Info("talkloop starting",
		"config", *configPath,
		"mode", m,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := initTelemetry(ctx)
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)

	var breakers resilience.Set
	providers, err := app.BuildProviders(cfg, reg, &breakers)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg, m)

	opts := []app.Option{
		app.WithMetrics(tel.Metrics),
		app.WithMetricsHandler(tel.Handler),
		app.WithBreakers(&breakers),
		app.WithLogLevel(&level),
		app.WithConfigPath(*configPath),
	}
	if m != modeServe {
		opts = append(opts, app.WithDisplay(consoleDisplay(os.Stdout)))
	}
	application, err := app.New(cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	switch m {
	case modeFile:
		res := application.RunFile(ctx, *file)
		if res.Final == turn.Aborted {
			return 1
		}
	case modeServe:
		slog.Info("web UI ready, press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
		if err := application.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("server error", "err", err)
			return 1
		}
	default:
		fmt.Println("Listening. Say \"goodbye\" to end the conversation.")
		if err := application.RunConversation(ctx); err != nil {
			slog.Error("conversation error", "err", err)
			return 1
		}
	}

	slog.Info("goodbye")
	return 0
}

// resolveMode picks the run mode from the flags and config.
func resolveMode(mode, file string, cfg *config.Config) (string, error) {
	if mode == "" {
		switch {
		case file != "":
			mode = modeFile
		case cfg.Server.ListenAddr != "":
			mode = modeServe
		default:
			mode = modeMic
		}
	}
	switch mode {
	case modeMic:
	case modeFile:
		if file == "" {
			return "", errors.New("-file is required in file mode")
		}
	case modeServe:
		if cfg.Server.ListenAddr == "" {
			return "", errors.New("serve mode needs server.listen_addr")
		}
	default:
		return "", fmt.Errorf("unknown mode %q", mode)
	}
	return mode, nil
}

// newLogger returns a text logger on stderr whose level is held in lv so
// config reloads can change it.
func newLogger(level config.LogLevel, lv *slog.LevelVar) *slog.Logger {
	lv.Set(level.Slog())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}

// initTelemetry installs the process-wide meter and tracer providers.
func initTelemetry(ctx context.Context) (*observe.Telemetry, error) {
	return observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "talkloop", ServiceVersion: version})
}

func printStartupSummary(cfg *config.Config, mode string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        talkloop - startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	fmt.Printf("║  %-12s    : %-19s ║\n", "Mode", mode)
	fmt.Printf("║  %-12s    : %-19s ║\n", "Language", cfg.Conversation.Language)
	if mode == modeServe {
		fmt.Printf("║  %-12s    : %-19s ║\n", "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
