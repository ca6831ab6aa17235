// Package types defines the shared types used across talkloop packages.
//
// These types are the lingua franca between providers and the turn
// orchestrator. Each package defines its own domain types; cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// Transcript is the text recognised from one captured audio buffer.
// It is owned by the turn that produced it and never retained across turns.
type Transcript struct {
	// Text is the transcribed speech content. May be empty when the speaker
	// said nothing recognisable.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when available. Nil for providers that
	// don't support word-level output.
	Words []WordDetail

	// Duration is the length of the recognised audio when the provider reports it.
	Duration time.Duration
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Message represents a single role-tagged message sent to a language model.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// VoiceProfile selects the voice a TTS backend speaks with.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier. Empty selects the
	// backend's default voice.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is the BCP-47 locale the text is spoken in (e.g., "en-US").
	Language string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default, 0 = unset).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}
