package app

import (
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/talkloop/internal/config"
	"github.com/MrWong99/talkloop/internal/resilience"
	"github.com/MrWong99/talkloop/pkg/provider/llm"
	"github.com/MrWong99/talkloop/pkg/provider/llm/anyllm"
	"github.com/MrWong99/talkloop/pkg/provider/llm/openai"
	"github.com/MrWong99/talkloop/pkg/provider/stt"
	"github.com/MrWong99/talkloop/pkg/provider/stt/deepgram"
	"github.com/MrWong99/talkloop/pkg/provider/stt/whisper"
	"github.com/MrWong99/talkloop/pkg/provider/tts"
	"github.com/MrWong99/talkloop/pkg/provider/tts/coqui"
	ttsdeepgram "github.com/MrWong99/talkloop/pkg/provider/tts/deepgram"
	"github.com/MrWong99/talkloop/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/talkloop/pkg/provider/tts/local"
)

// Providers holds one provider per capability, as built from config.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	// Names are the configured provider names, used as metric labels.
	STTName, LLMName, TTSName string
}

// RegisterBuiltins wires every built-in provider factory into reg.
func RegisterBuiltins(reg *config.Registry) {
	// any-llm-go backends share the same shape: optional key, optional base URL.
	for _, name := range []string{"groq", "anthropic", "gemini", "deepseek", "mistral", "ollama", "llamacpp", "llamafile"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		key := entry.APIKey
		if key == "" && entry.BaseURL != "" {
			// Local OpenAI-compatible servers ignore the key but the SDK wants one.
			key = "local"
		}
		return openai.New(key, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterTTS("local", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []local.Option
		if cmd := optString(entry.Options, "command"); cmd != "" {
			opts = append(opts, local.WithCommand(cmd))
		}
		return local.New(opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f := optString(entry.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if v := optString(entry.Options, "voice_id"); v != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(v))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("deepgram", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsdeepgram.Option
		if entry.Model != "" {
			opts = append(opts, ttsdeepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsdeepgram.WithHost(entry.BaseURL))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, ttsdeepgram.WithSampleRate(rate))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, ttsdeepgram.WithTimeout(d))
		}
		return ttsdeepgram.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"stt", "llm", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// BuildProviders instantiates the providers named in cfg. Unless breakers
// are disabled in cfg.Resilience, each provider is guarded by its own
// circuit breaker, registered in set.
func BuildProviders(cfg *config.Config, reg *config.Registry, set *resilience.Set) (*Providers, error) {
	ps := &Providers{
		STTName: cfg.Providers.STT.Name,
		LLMName: cfg.Providers.LLM.Name,
		TTSName: cfg.Providers.TTS.Name,
	}

	sttP, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("%w: stt provider %q: %w", config.ErrConfiguration, ps.STTName, err)
	}
	llmP, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("%w: llm provider %q: %w", config.ErrConfiguration, ps.LLMName, err)
	}
	ttsP, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("%w: tts provider %q: %w", config.ErrConfiguration, ps.TTSName, err)
	}
	ps.STT, ps.LLM, ps.TTS = sttP, llmP, ttsP

	if rc := cfg.Resilience; rc.MaxFailures >= 0 && set != nil {
		breaker := func(kind, name string) *resilience.CircuitBreaker {
			return set.Add(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
				Name:         kind + "/" + name,
				MaxFailures:  rc.MaxFailures,
				ResetTimeout: rc.ResetTimeout,
			}))
		}
		ps.STT = resilience.GuardSTT(sttP, breaker("stt", ps.STTName))
		ps.LLM = resilience.GuardLLM(llmP, breaker("llm", ps.LLMName))
		ps.TTS = resilience.GuardTTS(ttsP, breaker("tts", ps.TTSName))
	}

	slog.Info("providers created",
		"stt", ps.STTName,
		"llm", ps.LLMName+"/"+cfg.Providers.LLM.Model,
		"tts", ps.TTSName,
	)
	return ps, nil
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer from a provider Options map. YAML decodes
// numbers as int; float64 is accepted for values set from JSON.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optDuration parses a duration string such as "30s" from a provider
// Options map. Missing or malformed values yield 0.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
