// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (Deepgram's prerecorded
// API, a whisper.cpp server, or whisper.cpp linked in-process) and turns one
// finished audio buffer into one transcript. Exactly one request is issued per
// call and nothing is retried.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/talkloop/pkg/audio"
	"github.com/MrWong99/talkloop/pkg/types"
)

// DefaultLanguage is the recognition locale used when a Request leaves
// Language empty.
const DefaultLanguage = "en-US"

// ErrEmptyResult is returned when the backend answered successfully but the
// response carried no channel or no alternative to read a transcript from.
// A present-but-empty transcript string is not an error.
var ErrEmptyResult = errors.New("stt: response contained no transcript alternative")

// Request is the fixed recognition profile sent with every transcription.
type Request struct {
	// Language is the BCP-47 locale to recognise (e.g., "en-US").
	Language string

	// Punctuate asks the backend to insert punctuation and capitalisation.
	Punctuate bool
}

// DefaultRequest returns the profile used when nothing else is configured:
// en-US with punctuation enabled.
func DefaultRequest() Request {
	return Request{Language: DefaultLanguage, Punctuate: true}
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe sends buf to the backend and returns the top alternative of
	// the first channel. The buffer is not modified.
	//
	// Returns ErrEmptyResult (wrapped) for a structurally empty response and a
	// wrapped transport, status or decoding error for everything else.
	Transcribe(ctx context.Context, buf audio.Buffer, req Request) (types.Transcript, error)
}
