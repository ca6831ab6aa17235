package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/joho/godotenv"
)

// DefaultAPIKeyEnv maps provider names to the environment variable their API
// key is read from when ProviderEntry.APIKeyEnv is empty.
var DefaultAPIKeyEnv = map[string]string{
	"deepgram":   "DEEPGRAM_API_KEY",
	"groq":       "GROQ_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"mistral":    "MISTRAL_API_KEY",
	"elevenlabs": "ELEVENLABS_API_KEY",
}

// keyRequired lists, per kind, the providers that cannot run without a key.
// An openai entry with a base_url is assumed to point at a local server.
var keyRequired = map[string][]string{
	"stt": {"deepgram"},
	"llm": {"groq", "openai", "anthropic", "gemini", "deepseek", "mistral"},
	"tts": {"elevenlabs", "deepgram"},
}

// LoadDotEnv loads KEY=value pairs from the given files (".env" when none
// are given) into the process environment. Variables already set are not
// overwritten and missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("%w: load %q: %w", ErrConfiguration, p, err)
		}
		slog.Debug("loaded environment file", "path", p)
	}
	return nil
}

// RequiresAPIKey reports whether the provider of the given kind needs an API key.
func RequiresAPIKey(kind string, entry ProviderEntry) bool {
	if kind == "llm" && entry.Name == "openai" && entry.BaseURL != "" {
		return false
	}
	return slices.Contains(keyRequired[kind], entry.Name)
}

// APIKeyEnvName returns the environment variable the entry's key is read from,
// or "" when the provider has no conventional variable.
func (e ProviderEntry) APIKeyEnvName() string {
	if e.APIKeyEnv != "" {
		return e.APIKeyEnv
	}
	return DefaultAPIKeyEnv[e.Name]
}

// ResolveSecrets fills empty APIKey fields from the environment using
// getenv (os.Getenv when nil). A provider that requires a key but has none
// yields an error wrapping [ErrConfiguration] that names the variable.
func ResolveSecrets(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}

	var errs []error
	for _, p := range []struct {
		kind  string
		entry *ProviderEntry
	}{
		{"stt", &cfg.Providers.STT},
		{"llm", &cfg.Providers.LLM},
		{"tts", &cfg.Providers.TTS},
	} {
		env := p.entry.APIKeyEnvName()
		if p.entry.APIKey == "" && env != "" {
			p.entry.APIKey = getenv(env)
		}
		if p.entry.APIKey == "" && RequiresAPIKey(p.kind, *p.entry) {
			if env == "" {
				errs = append(errs, fmt.Errorf("providers.%s: %s requires an API key; set api_key or api_key_env", p.kind, p.entry.Name))
			} else {
				errs = append(errs, fmt.Errorf("providers.%s: %s requires an API key; set %s", p.kind, p.entry.Name, env))
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
}
