package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/talkloop/internal/app"
	"github.com/MrWong99/talkloop/internal/observe"
	"github.com/MrWong99/talkloop/internal/session"
	"github.com/MrWong99/talkloop/internal/turn"
)

// blockingRunner runs turns that last until ctx is cancelled or a value
// arrives on end; true ends the conversation. Every turn start is signalled
// on entered.
type blockingRunner struct {
	end     chan bool
	entered chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context, conv *turn.ConversationState) turn.Result {
	select {
	case r.entered <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return turn.Result{Final: turn.Aborted, Err: ctx.Err()}
	case stop := <-r.end:
		if stop {
			conv.Terminate()
			return turn.Result{Final: turn.Done, Terminated: true}
		}
		return turn.Result{Final: turn.Done}
	}
}

func newConversations(t *testing.T, ctx context.Context) (*app.Conversations, *blockingRunner) {
	t.Helper()
	ctx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	r := &blockingRunner{end: make(chan bool), entered: make(chan struct{}, 8)}
	c := app.NewConversations(ctx, func() *session.Loop {
		return session.New(r, session.Options{Pause: -1, Metrics: m})
	})
	return c, r
}

func waitRunning(t *testing.T, c *app.Conversations) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !c.Status().Running {
		if time.Now().After(deadline) {
			t.Fatal("conversation did not start")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConversations_StartStop(t *testing.T) {
	t.Parallel()
	c, r := newConversations(t, context.Background())

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-r.entered
	if c.Info().ID == "" {
		t.Error("conversation has no ID")
	}

	if err := c.Start(); !errors.Is(err, session.ErrAlreadyRunning) {
		t.Errorf("second Start: got %v, want ErrAlreadyRunning", err)
	}

	c.Stop()
	if st := c.Status(); !st.Running || !st.Terminated {
		t.Errorf("turn in progress after Stop: got %+v", st)
	}

	r.end <- false
	if err := c.Wait(context.Background()); err != nil {
		t.Errorf("Wait: %v", err)
	}
	if st := c.Status(); st.Running || !st.Terminated || st.Turns != 1 || st.LastState != "Done" {
		t.Errorf("after Stop: got %+v", st)
	}
}

func TestConversations_RestartAfterStopKeyword(t *testing.T) {
	t.Parallel()
	c, r := newConversations(t, context.Background())

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := c.Info().ID
	r.end <- false
	r.end <- true
	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if st := c.Status(); st.Turns != 2 || !st.Terminated {
		t.Errorf("status: got %+v", st)
	}

	if err := c.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if c.Info().ID == first {
		t.Error("restart reused the conversation ID")
	}
	if c.Status().Turns != 0 {
		t.Error("restart kept the previous loop")
	}
	c.Stop()
}

func TestConversations_StopWithoutStart(t *testing.T) {
	t.Parallel()
	c, _ := newConversations(t, context.Background())

	c.Stop()
	if err := c.Wait(context.Background()); err != nil {
		t.Errorf("Wait: %v", err)
	}
	if c.Status().Running {
		t.Error("running without Start")
	}
}

func TestConversations_ParentCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	c, _ := newConversations(t, ctx)

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRunning(t, c)
	cancel()
	if err := c.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait: got %v, want context.Canceled", err)
	}
	if err := c.Start(); !errors.Is(err, context.Canceled) {
		t.Errorf("Start after cancel: got %v, want context.Canceled", err)
	}
}
