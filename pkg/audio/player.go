package audio

import "context"

// Clip is one piece of synthesised speech ready for playback. Exactly one of
// Path or Data is normally set: remote synthesis backends hand the player a
// scoped temporary file, while in-memory sinks may receive the bytes directly.
type Clip struct {
	// Path is a file holding the encoded audio. The caller owns the file and
	// deletes it once Play returns; players must not retain the path.
	Path string

	// Data holds the encoded audio when no backing file exists.
	Data []byte

	// MIME is the container type, e.g. "audio/wav" or "audio/mpeg".
	MIME string
}

// Player plays synthesised speech. Play blocks until playback has finished
// (or the clip has been handed to its final consumer) so that the caller can
// release the backing file afterwards.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}

// PlayerFunc adapts an ordinary function to the [Player] interface.
type PlayerFunc func(ctx context.Context, clip Clip) error

// Play calls f(ctx, clip).
func (f PlayerFunc) Play(ctx context.Context, clip Clip) error { return f(ctx, clip) }

// Discard is a [Player] that drops every clip. Useful for headless runs where
// only transcripts and replies matter.
var Discard Player = PlayerFunc(func(context.Context, Clip) error { return nil })
