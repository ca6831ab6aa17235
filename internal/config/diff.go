package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// ConversationChanged is true if any conversation parameter changed.
	// These apply from the next turn.
	ConversationChanged bool
	ConversationFields  []string

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists changed sections that are only read at startup
	// (providers, capture, resilience, server address).
	RestartRequired []string
}

// Empty reports whether nothing relevant changed.
func (d ConfigDiff) Empty() bool {
	return !d.ConversationChanged && !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.ConversationFields = diffConversation(&old.Conversation, &new.Conversation)
	d.ConversationChanged = len(d.ConversationFields) > 0

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !providerEqual(old.Providers.STT, new.Providers.STT) {
		d.RestartRequired = append(d.RestartRequired, "providers.stt")
	}
	if !providerEqual(old.Providers.LLM, new.Providers.LLM) {
		d.RestartRequired = append(d.RestartRequired, "providers.llm")
	}
	if !providerEqual(old.Providers.TTS, new.Providers.TTS) {
		d.RestartRequired = append(d.RestartRequired, "providers.tts")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Resilience != new.Resilience {
		d.RestartRequired = append(d.RestartRequired, "resilience")
	}

	return d
}

// diffConversation returns the YAML names of changed conversation fields.
func diffConversation(old, new *ConversationConfig) []string {
	var fields []string
	if old.SystemPrompt != new.SystemPrompt {
		fields = append(fields, "system_prompt")
	}
	if !ptrEqual(old.Temperature, new.Temperature) {
		fields = append(fields, "temperature")
	}
	if old.MaxTokens != new.MaxTokens {
		fields = append(fields, "max_tokens")
	}
	if !ptrEqual(old.TopP, new.TopP) {
		fields = append(fields, "top_p")
	}
	if old.Language != new.Language {
		fields = append(fields, "language")
	}
	if !ptrEqual(old.Punctuate, new.Punctuate) {
		fields = append(fields, "punctuate")
	}
	if !slices.Equal(old.StopKeywords, new.StopKeywords) {
		fields = append(fields, "stop_keywords")
	}
	if old.Farewell != new.Farewell {
		fields = append(fields, "farewell")
	}
	if old.Pause != new.Pause {
		fields = append(fields, "pause")
	}
	if old.Voice != new.Voice {
		fields = append(fields, "voice")
	}
	return fields
}

// providerEqual compares entries ignoring the resolved API key, which is
// never present in a freshly loaded file.
func providerEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKeyEnv != b.APIKeyEnv || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) == 0 && len(b.Options) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Options, b.Options)
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
