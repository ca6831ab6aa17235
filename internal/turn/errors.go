package turn

import "errors"

// Failure sentinels. Every error recorded in a [Result] wraps exactly one of
// these; match them with [errors.Is].
var (
	// ErrCapture means no audio buffer was produced. The turn is aborted.
	ErrCapture = errors.New("turn: capture failed")

	// ErrTranscription means the STT call failed or returned no alternative.
	// The turn is aborted.
	ErrTranscription = errors.New("turn: transcription failed")

	// ErrGeneration means no usable reply was produced. The turn still
	// completes, without speech.
	ErrGeneration = errors.New("turn: generation failed")

	// ErrSynthesis means the reply could not be turned into speech.
	ErrSynthesis = errors.New("turn: synthesis failed")

	// ErrPlayback means synthesized speech could not be played.
	ErrPlayback = errors.New("turn: playback failed")

	// ErrBusy means the caller gave up waiting for the running turn. Nothing
	// was captured or called.
	ErrBusy = errors.New("turn: another turn is running")
)
