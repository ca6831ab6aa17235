package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks every configuration failure: unreadable or
// malformed files, invalid values, and missing credentials. It is fatal at
// startup.
var ErrConfiguration = errors.New("config: invalid configuration")

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "whisper", "whisper-native"},
	"llm": {"groq", "openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "llamacpp", "llamafile"},
	"tts": {"local", "coqui", "elevenlabs", "deepgram"},
}

// Load reads the YAML configuration file at path, applies defaults and
// returns a validated [Config]. A missing file yields the all-defaults config.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		cfg := &Config{}
		cfg.ApplyDefaults()
		return cfg, Validate(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %w", ErrConfiguration, path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document is valid.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode yaml: %w", ErrConfiguration, err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns an error wrapping [ErrConfiguration] and listing all failures.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	for _, p := range []struct {
		kind  string
		entry ProviderEntry
	}{
		{"stt", cfg.Providers.STT},
		{"llm", cfg.Providers.LLM},
		{"tts", cfg.Providers.TTS},
	} {
		if p.entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", p.kind))
			continue
		}
		validateProviderName(p.kind, p.entry.Name)
	}

	// Conversation
	cv := cfg.Conversation
	if cv.Temperature != nil && (*cv.Temperature < 0 || *cv.Temperature > 2) {
		errs = append(errs, fmt.Errorf("conversation.temperature %.2f is out of range [0, 2]", *cv.Temperature))
	}
	if cv.TopP != nil && (*cv.TopP <= 0 || *cv.TopP > 1) {
		errs = append(errs, fmt.Errorf("conversation.top_p %.2f is out of range (0, 1]", *cv.TopP))
	}
	switch {
	case cv.MaxTokens < 1 || cv.MaxTokens > 4096:
		errs = append(errs, fmt.Errorf("conversation.max_tokens %d is out of range [1, 4096]", cv.MaxTokens))
	case cv.MaxTokens < 80 || cv.MaxTokens > 100:
		slog.Warn("conversation.max_tokens outside the recommended 80-100 range; replies may be cut short or run long",
			"max_tokens", cv.MaxTokens)
	}
	if cv.Language == "" {
		errs = append(errs, errors.New("conversation.language is required"))
	}
	if sf := cv.Voice.SpeedFactor; sf != 0 && (sf < 0.5 || sf > 2.0) {
		errs = append(errs, fmt.Errorf("conversation.voice.speed_factor %.2f is out of range [0.5, 2.0]", sf))
	}
	if cv.Farewell == "" {
		errs = append(errs, errors.New("conversation.farewell must not be empty"))
	}

	// Capture
	if cfg.Capture.Duration <= 0 {
		errs = append(errs, fmt.Errorf("capture.duration %s must be positive", cfg.Capture.Duration))
	}
	for name, rate := range map[string]int{
		"capture.sample_rate":        cfg.Capture.SampleRate,
		"capture.target_sample_rate": cfg.Capture.TargetSampleRate,
	} {
		if rate != 0 && (rate < 8000 || rate > 48000) {
			errs = append(errs, fmt.Errorf("%s %d is out of range [8000, 48000]", name, rate))
		}
	}
	if ch := cfg.Capture.Channels; ch != 0 && ch != 1 && ch != 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is invalid; valid values: 1, 2", ch))
	}

	// Resilience
	if cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("resilience.reset_timeout %s must not be negative", cfg.Resilience.ResetTimeout))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
}

// validateProviderName logs a warning if name is not found in the
// [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or an unregistered provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
