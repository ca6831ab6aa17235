package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/talkloop/pkg/audio"
	"github.com/MrWong99/talkloop/pkg/provider/llm"
	llmmock "github.com/MrWong99/talkloop/pkg/provider/llm/mock"
	"github.com/MrWong99/talkloop/pkg/provider/stt"
	sttmock "github.com/MrWong99/talkloop/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/talkloop/pkg/provider/tts/mock"
	"github.com/MrWong99/talkloop/pkg/types"
)

func TestGuardSTT_ShortCircuitsWithoutRetry(t *testing.T) {
	inner := &sttmock.Provider{TranscribeErr: errTest}
	g := GuardSTT(inner, NewCircuitBreaker(CircuitBreakerConfig{Name: "stt/deepgram", MaxFailures: 2, ResetTimeout: time.Hour}))

	for range 2 {
		if _, err := g.Transcribe(context.Background(), audio.Buffer{}, stt.DefaultRequest()); !errors.Is(err, errTest) {
			t.Fatalf("err = %v, want errTest", err)
		}
	}
	_, err := g.Transcribe(context.Background(), audio.Buffer{}, stt.DefaultRequest())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if !strings.Contains(err.Error(), "stt/deepgram") {
		t.Errorf("error should name the breaker: %v", err)
	}
	if got := inner.CallCount(); got != 2 {
		t.Errorf("inner calls = %d, want 2", got)
	}
}

func TestGuardLLM_PassesResponseThrough(t *testing.T) {
	inner := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hello"}}
	g := GuardLLM(inner, NewCircuitBreaker(CircuitBreakerConfig{Name: "llm/groq"}))

	resp, err := g.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestGuardTTS_Records(t *testing.T) {
	inner := &ttsmock.Provider{SynthesizeErr: errTest}
	g := GuardTTS(inner, NewCircuitBreaker(CircuitBreakerConfig{Name: "tts/local", MaxFailures: 1, ResetTimeout: time.Hour}))

	_, _ = g.Synthesize(context.Background(), "hi", types.VoiceProfile{})
	if _, err := g.Synthesize(context.Background(), "hi", types.VoiceProfile{}); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if inner.CallCount() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.CallCount())
	}
}

func TestSet_Check(t *testing.T) {
	var s Set
	a := s.Add(NewCircuitBreaker(CircuitBreakerConfig{Name: "stt/deepgram", MaxFailures: 1, ResetTimeout: time.Hour}))
	s.Add(NewCircuitBreaker(CircuitBreakerConfig{Name: "llm/groq"}))

	if err := s.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}

	fail(a, 1)
	err := s.Check(context.Background())
	if !errors.Is(err, ErrCircuitOpen) || !strings.Contains(err.Error(), "stt/deepgram") {
		t.Errorf("Check = %v", err)
	}

	states := s.States()
	if states["stt/deepgram"] != "open" || states["llm/groq"] != "closed" {
		t.Errorf("States = %v", states)
	}
}
