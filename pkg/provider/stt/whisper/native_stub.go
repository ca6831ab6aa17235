//go:build !whispercpp

package whisper

import (
	"context"
	"errors"

	"github.com/MrWong99/talkloop/pkg/audio"
	"github.com/MrWong99/talkloop/pkg/provider/stt"
	"github.com/MrWong99/talkloop/pkg/types"
)

// ErrNativeUnavailable is returned by [NewNative] in builds without the
// whispercpp tag.
var ErrNativeUnavailable = errors.New("whisper: native inference not compiled in; rebuild with -tags whispercpp")

// NativeProvider stub when whisper.cpp is not linked in.
type NativeProvider struct{}

// NativeOption configures a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage is accepted for configuration compatibility.
func WithNativeLanguage(string) NativeOption { return func(*NativeProvider) {} }

// NewNative always returns [ErrNativeUnavailable].
func NewNative(string, ...NativeOption) (*NativeProvider, error) {
	return nil, ErrNativeUnavailable
}

// Close is a no-op.
func (*NativeProvider) Close() error { return nil }

// Transcribe always returns [ErrNativeUnavailable].
func (*NativeProvider) Transcribe(context.Context, audio.Buffer, stt.Request) (types.Transcript, error) {
	return types.Transcript{}, ErrNativeUnavailable
}

var _ stt.Provider = (*NativeProvider)(nil)
