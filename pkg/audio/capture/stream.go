package capture

import (
	"context"
	"sync"

	"github.com/MrWong99/talkloop/pkg/audio"
)

// Stream accumulates inbound frames until Stop is called and then yields
// them as one linear buffer. Frames are appended in the order Push is
// called; Stream never reorders them.
//
// A Stream is single-use: after Stop, Push fails with [ErrStopped] and
// Capture returns the same accumulated buffer.
//
// Frames are folded to mono as they arrive and kept at the rate of the first
// frame. Resampling to the target rate happens once, over the whole
// utterance, so frame boundaries never lose samples.
type Stream struct {
	mu       sync.Mutex
	conv     audio.FormatConverter
	pcm      []byte
	srcRate  int
	target   int
	frames   int
	stopped  bool
	done     chan struct{}
	stopOnce sync.Once
}

// NewStream returns an empty Stream. Captured audio is mono, at
// target.SampleRate when it is non-zero; with a zero rate the first frame's
// rate is kept.
func NewStream(target audio.Format) *Stream {
	return &Stream{
		conv:   audio.FormatConverter{Target: audio.Format{Channels: 1}},
		target: target.SampleRate,
		done:   make(chan struct{}),
	}
}

// Name implements [Source].
func (s *Stream) Name() string { return "stream" }

// Push appends frame to the accumulation. Safe for concurrent use, although
// ordering between concurrent callers is whatever order they acquire the lock.
func (s *Stream) Push(frame audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	out := s.conv.Convert(frame)
	if len(out.Data) == 0 {
		return nil
	}
	if s.srcRate == 0 {
		// Later frames at another rate are converted to this one.
		s.srcRate = out.SampleRate
		s.conv.Target.SampleRate = out.SampleRate
	}
	s.pcm = append(s.pcm, out.Data...)
	s.frames++
	return nil
}

// Stop is the explicit end-of-utterance trigger. Calling it more than once is safe.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.done)
	})
}

// Frames returns the number of frames accumulated so far.
func (s *Stream) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Capture blocks until Stop is called or ctx is cancelled and returns the
// accumulated audio.
func (s *Stream) Capture(ctx context.Context) (audio.Buffer, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return audio.Buffer{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b := audio.Buffer{PCM: s.pcm, SampleRate: s.srcRate, Channels: 1}
	if s.target > 0 && s.srcRate > 0 && s.target != s.srcRate {
		b.PCM = audio.ResampleMono16(s.pcm, s.srcRate, s.target)
		b.SampleRate = s.target
	}
	if b.Empty() {
		return audio.Buffer{}, ErrNoAudio
	}
	return b, nil
}

var _ Source = (*Stream)(nil)
