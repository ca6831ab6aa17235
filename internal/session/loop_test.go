package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/talkloop/internal/observe"
	"github.com/MrWong99/talkloop/internal/turn"
	"github.com/MrWong99/talkloop/pkg/audio"
	audiomock "github.com/MrWong99/talkloop/pkg/audio/mock"
	capturemock "github.com/MrWong99/talkloop/pkg/audio/capture/mock"
	"github.com/MrWong99/talkloop/pkg/provider/llm"
	llmmock "github.com/MrWong99/talkloop/pkg/provider/llm/mock"
	"github.com/MrWong99/talkloop/pkg/provider/stt"
	sttmock "github.com/MrWong99/talkloop/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/talkloop/pkg/provider/tts/mock"
	"github.com/MrWong99/talkloop/pkg/types"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// runnerFunc adapts a function to TurnRunner.
type runnerFunc func(ctx context.Context, conv *turn.ConversationState) turn.Result

func (f runnerFunc) Run(ctx context.Context, conv *turn.ConversationState) turn.Result {
	return f(ctx, conv)
}

func TestLoop_RunsUntilTerminated(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := runnerFunc(func(_ context.Context, conv *turn.ConversationState) turn.Result {
		if calls.Add(1) == 3 {
			conv.Terminate()
			return turn.Result{Final: turn.Done, Terminated: true}
		}
		return turn.Result{Final: turn.Done}
	})

	l := New(r, Options{Pause: -1, Metrics: testMetrics(t)})
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("turns = %d, want 3", got)
	}
	st := l.Status()
	if st.Running || !st.Terminated || st.Turns != 3 || st.LastState != "Done" {
		t.Errorf("status = %+v", st)
	}
}

func TestLoop_FailuresDoNotEndLoop(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := runnerFunc(func(context.Context, *turn.ConversationState) turn.Result {
		calls.Add(1)
		return turn.Result{Final: turn.Aborted, Err: turn.ErrCapture}
	})

	l := New(r, Options{Pause: -1, MaxTurns: 4, Metrics: testMetrics(t)})
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := calls.Load(); got != 4 {
		t.Errorf("turns = %d, want 4", got)
	}
	if st := l.Status(); st.LastState != "Aborted" || st.LastError == "" || st.Terminated {
		t.Errorf("status = %+v", st)
	}
}

func TestLoop_NoPauseAfterTermination(t *testing.T) {
	t.Parallel()

	r := runnerFunc(func(_ context.Context, conv *turn.ConversationState) turn.Result {
		conv.Terminate()
		return turn.Result{Final: turn.Done, Terminated: true}
	})

	l := New(r, Options{Pause: time.Hour, Metrics: testMetrics(t)})
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop paused after termination")
	}
}

func TestLoop_AlreadyRunning(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	r := runnerFunc(func(context.Context, *turn.ConversationState) turn.Result {
		once.Do(func() { close(started) })
		<-release
		return turn.Result{Final: turn.Done}
	})

	l := New(r, Options{Pause: -1, Metrics: testMetrics(t)})
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	<-started

	if err := l.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run = %v, want ErrAlreadyRunning", err)
	}
	if !l.Status().Running {
		t.Error("status not running")
	}

	l.Stop()
	close(release)
	if err := <-done; err != nil {
		t.Errorf("Run after Stop = %v, want nil", err)
	}
}

func TestLoop_StopLetsRunningTurnFinish(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var (
		calls  atomic.Int32
		ctxErr atomic.Value
	)
	r := runnerFunc(func(ctx context.Context, _ *turn.ConversationState) turn.Result {
		calls.Add(1)
		close(started)
		<-release
		ctxErr.Store(fmt.Sprint(ctx.Err()))
		return turn.Result{Final: turn.Done, Reply: "finished"}
	})

	l := New(r, Options{Pause: time.Hour, Metrics: testMetrics(t)})
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	<-started

	l.Stop()
	select {
	case err := <-done:
		t.Fatalf("Run returned %v while the turn was still running", err)
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the turn finished")
	}
	if got := ctxErr.Load(); got != "<nil>" {
		t.Errorf("turn context error = %v, want none", got)
	}
	st := l.Status()
	if calls.Load() != 1 || st.Turns != 1 || st.LastState != "Done" || st.LastReply != "finished" {
		t.Errorf("calls %d, status %+v", calls.Load(), st)
	}
}

func TestLoop_StopCutsPauseShort(t *testing.T) {
	t.Parallel()

	finished := make(chan struct{}, 1)
	r := runnerFunc(func(context.Context, *turn.ConversationState) turn.Result {
		return turn.Result{Final: turn.Done}
	})
	l := New(r, Options{Pause: time.Hour, Metrics: testMetrics(t), OnTurn: func(turn.Result) {
		finished <- struct{}{}
	}})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	<-finished
	l.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not interrupt the pause")
	}
}

func TestLoop_StopIdempotent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := runnerFunc(func(context.Context, *turn.ConversationState) turn.Result {
		calls.Add(1)
		return turn.Result{Final: turn.Done}
	})
	l := New(r, Options{Metrics: testMetrics(t)})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Stop()
		}()
	}
	wg.Wait()
	l.Stop()

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run after Stop = %v", err)
	}
	if calls.Load() != 0 {
		t.Error("turn ran after Stop")
	}
	if !l.Conversation().Terminated() {
		t.Error("conversation not terminated")
	}
}

func TestLoop_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	r := runnerFunc(func(context.Context, *turn.ConversationState) turn.Result {
		cancel()
		return turn.Result{Final: turn.Done}
	})

	l := New(r, Options{Pause: time.Hour, Metrics: testMetrics(t)})
	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if l.Status().Turns != 1 {
		t.Errorf("turns = %d, want 1", l.Status().Turns)
	}
}

func TestLoop_OnTurn(t *testing.T) {
	t.Parallel()

	var seen []string
	r := runnerFunc(func(context.Context, *turn.ConversationState) turn.Result {
		return turn.Result{Final: turn.Done, Reply: "ok"}
	})
	l := New(r, Options{Pause: -1, MaxTurns: 2, Metrics: testMetrics(t), OnTurn: func(res turn.Result) {
		seen = append(seen, res.Reply)
	}})
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("OnTurn calls = %d, want 2", len(seen))
	}
}

// TestLoop_Conversation drives the real orchestrator through a three-turn
// conversation that ends with a stop phrase.
func TestLoop_Conversation(t *testing.T) {
	t.Parallel()

	m := testMetrics(t)
	transcripts := []string{"Hello there", "", "Goodbye for now"}
	var idx atomic.Int32
	sttp := &sttmock.Provider{TranscribeFunc: func(context.Context, audio.Buffer, stt.Request) (types.Transcript, error) {
		i := int(idx.Add(1)) - 1
		return types.Transcript{Text: transcripts[i]}, nil
	}}
	llmp := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hi!"}}
	ttsp := &ttsmock.Provider{}
	player := &audiomock.Player{}

	orch := turn.New(turn.Deps{
		Source: &capturemock.Source{Buffer: audio.Buffer{PCM: make([]byte, 320), SampleRate: 16000, Channels: 1}},
		STT:    sttp,
		LLM:    llmp,
		TTS:    ttsp,
		Player: player,
	}, turn.DefaultSettings(), turn.WithMetrics(m), turn.WithTempDir(t.TempDir()))

	var results []turn.Result
	l := New(orch, Options{Pause: time.Millisecond, Metrics: m, OnTurn: func(r turn.Result) {
		results = append(results, r)
	}})
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("turns = %d, want 3", len(results))
	}
	if !results[2].Terminated || results[2].Keyword != "goodbye" {
		t.Errorf("last turn = %+v", results[2])
	}
	if llmp.CallCount() != 2 {
		t.Errorf("LLM calls = %d, want 2 (one per non-terminating turn)", llmp.CallCount())
	}
	calls := ttsp.Calls()
	if len(calls) != 3 || calls[2].Text != turn.DefaultFarewell {
		t.Errorf("tts calls = %+v", calls)
	}
	if sttp.CallCount() != 3 {
		t.Errorf("stt calls = %d after termination, want 3", sttp.CallCount())
	}
}
