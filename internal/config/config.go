// Package config provides the configuration schema, loader, secret
// resolution, and provider registry for talkloop.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the corresponding slog level. Unknown values map to Info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultSTTProvider  = "deepgram"
	DefaultLLMProvider  = "groq"
	DefaultLLMModel     = "llama3-8b-8192"
	DefaultTTSProvider  = "local"
	DefaultLanguage     = "en-US"
	DefaultSampleRate   = 16000
	DefaultChannels     = 1
	DefaultDuration     = 5 * time.Second
	DefaultPause        = 500 * time.Millisecond
	DefaultMaxTokens    = 100
	DefaultTemperature  = 0.29
	DefaultTopP         = 1.0
	DefaultPersona      = "You are a helpful assistant."
	DefaultFarewell     = "Goodbye! Have a great day!"
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
)

// DefaultStopKeywords are used when conversation.stop_keywords is empty.
var DefaultStopKeywords = []string{"thank you", "goodbye", "exit"}

// Config is the root configuration structure for talkloop.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Conversation ConversationConfig `yaml:"conversation"`
	Capture      CaptureConfig      `yaml:"capture"`
	Resilience   ResilienceConfig   `yaml:"resilience"`
}

// ServerConfig holds network, logging and debugging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the web UI (e.g., ":8080"). Empty
	// disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TempDir holds the per-turn speech files. Empty uses the OS default.
	TempDir string `yaml:"temp_dir"`

	// KeepTempFiles leaves speech files on disk after playback. Debugging only.
	KeepTempFiles bool `yaml:"keep_temp_files"`
}

// ProvidersConfig declares which implementation to use for each capability.
// Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "deepgram", "groq").
	Name string `yaml:"name"`

	// APIKey is the authentication key. Normally left empty and resolved from
	// the environment by [ResolveSecrets].
	APIKey string `yaml:"api_key"`

	// APIKeyEnv names the environment variable holding the API key. Empty
	// selects the provider's conventional variable (e.g., DEEPGRAM_API_KEY).
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g., "llama3-8b-8192", "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// ConversationConfig holds the parameters of every turn. All of these can be
// hot-reloaded; changes apply from the next turn.
type ConversationConfig struct {
	// SystemPrompt is the persona sent as the system message.
	SystemPrompt string `yaml:"system_prompt"`

	// Temperature is the sampling temperature. Nil selects 0.29.
	Temperature *float64 `yaml:"temperature"`

	// MaxTokens caps the reply length.
	MaxTokens int `yaml:"max_tokens"`

	// TopP is the nucleus-sampling mass. Nil selects 1.
	TopP *float64 `yaml:"top_p"`

	// Language is the recognition locale sent to the STT provider.
	Language string `yaml:"language"`

	// Punctuate asks the STT provider for punctuation. Nil selects true.
	Punctuate *bool `yaml:"punctuate"`

	// StopKeywords end the conversation when contained in a transcript.
	StopKeywords []string `yaml:"stop_keywords"`

	// Farewell is spoken when a stop keyword is detected.
	Farewell string `yaml:"farewell"`

	// Pause is the delay between turns. Negative disables it.
	Pause time.Duration `yaml:"pause"`

	// Voice selects the TTS voice.
	Voice VoiceConfig `yaml:"voice"`
}

// VoiceConfig specifies the TTS voice parameters.
type VoiceConfig struct {
	// ID is the provider-specific voice identifier.
	ID string `yaml:"id"`

	// Name is a display name for the UI.
	Name string `yaml:"name"`

	// Language is the voice's locale, used by multilingual engines.
	Language string `yaml:"language"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// CaptureConfig configures the microphone recording.
type CaptureConfig struct {
	// Duration is the length of one timed recording.
	Duration time.Duration `yaml:"duration"`

	// SampleRate is the requested recording rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the requested channel count (1 or 2). Stereo is downmixed.
	Channels int `yaml:"channels"`

	// TargetSampleRate is the rate uploaded and streamed audio is expected to
	// have. Mismatches are logged, never resampled. Zero uses SampleRate.
	TargetSampleRate int `yaml:"target_sample_rate"`
}

// ResilienceConfig configures the per-provider circuit breakers.
type ResilienceConfig struct {
	// MaxFailures is the number of consecutive failures that opens a
	// breaker. Zero selects the default; negative disables the breakers.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker rejects calls.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}

	if c.Providers.STT.Name == "" {
		c.Providers.STT.Name = DefaultSTTProvider
	}
	if c.Providers.LLM.Name == "" {
		c.Providers.LLM.Name = DefaultLLMProvider
		if c.Providers.LLM.Model == "" {
			c.Providers.LLM.Model = DefaultLLMModel
		}
	}
	if c.Providers.TTS.Name == "" {
		c.Providers.TTS.Name = DefaultTTSProvider
	}

	cv := &c.Conversation
	if cv.SystemPrompt == "" {
		cv.SystemPrompt = DefaultPersona
	}
	if cv.Temperature == nil {
		t := DefaultTemperature
		cv.Temperature = &t
	}
	if cv.MaxTokens == 0 {
		cv.MaxTokens = DefaultMaxTokens
	}
	if cv.TopP == nil {
		p := DefaultTopP
		cv.TopP = &p
	}
	if cv.Language == "" {
		cv.Language = DefaultLanguage
	}
	if cv.Punctuate == nil {
		p := true
		cv.Punctuate = &p
	}
	if len(cv.StopKeywords) == 0 {
		cv.StopKeywords = append([]string(nil), DefaultStopKeywords...)
	}
	if cv.Farewell == "" {
		cv.Farewell = DefaultFarewell
	}
	if cv.Pause == 0 {
		cv.Pause = DefaultPause
	}

	if c.Capture.Duration == 0 {
		c.Capture.Duration = DefaultDuration
	}
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = DefaultSampleRate
	}
	if c.Capture.Channels == 0 {
		c.Capture.Channels = DefaultChannels
	}
	if c.Capture.TargetSampleRate == 0 {
		c.Capture.TargetSampleRate = c.Capture.SampleRate
	}

	if c.Resilience.MaxFailures == 0 {
		c.Resilience.MaxFailures = DefaultMaxFailures
	}
	if c.Resilience.ResetTimeout == 0 {
		c.Resilience.ResetTimeout = DefaultResetTimeout
	}
}
