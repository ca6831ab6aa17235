// Package session drives repeated conversational turns until the
// conversation is terminated.
//
// A [Loop] runs turns back to back with an optional pause between them. It
// stops when a turn detects a stop keyword, when [Loop.Stop] is called, when
// its context is cancelled, or after MaxTurns turns. Turn failures never end
// the loop.
//
// Stop never interrupts a turn: the running turn finishes its calls and no
// further turn starts. Only cancelling the context reaches in-flight calls.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/talkloop/internal/observe"
	"github.com/MrWong99/talkloop/internal/turn"
)

// DefaultPause is the gap between two turns.
const DefaultPause = 500 * time.Millisecond

// ErrAlreadyRunning is returned by [Loop.Run] while another Run is active.
var ErrAlreadyRunning = errors.New("session: loop is already running")

// TurnRunner executes one turn. *turn.Orchestrator satisfies it.
type TurnRunner interface {
	Run(ctx context.Context, conv *turn.ConversationState) turn.Result
}

// Options configures a [Loop].
type Options struct {
	// Pause is the delay between turns. Zero selects DefaultPause; a
	// negative value disables the pause.
	Pause time.Duration

	// MaxTurns ends the loop after that many turns. Zero means unlimited.
	MaxTurns int

	// OnTurn, if set, is called after every finished turn.
	OnTurn func(turn.Result)

	// Metrics receives the active-session gauge. Defaults to
	// observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Status is a snapshot of the loop for progress reporting.
type Status struct {
	Running        bool   `json:"running"`
	Turns          int    `json:"turns"`
	Terminated     bool   `json:"terminated"`
	LastState      string `json:"last_state,omitempty"`
	LastTranscript string `json:"last_transcript,omitempty"`
	LastReply      string `json:"last_reply,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

// Loop is the session loop. It owns the [turn.ConversationState] shared by
// all of its turns. A Loop runs at most once at a time and, once terminated,
// never runs again; create a new Loop for a new conversation.
type Loop struct {
	runner TurnRunner
	opts   Options
	conv   turn.ConversationState

	stopped  chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	running bool
	turns   int
	last    turn.Result
}

// New creates a Loop around runner.
func New(runner TurnRunner, opts Options) *Loop {
	if opts.Pause == 0 {
		opts.Pause = DefaultPause
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	return &Loop{runner: runner, opts: opts, stopped: make(chan struct{})}
}

// Conversation returns the state shared by this loop's turns.
func (l *Loop) Conversation() *turn.ConversationState {
	return &l.conv
}

// Run executes turns until the conversation is terminated, Stop is called,
// ctx is cancelled or MaxTurns is reached. It returns nil when the
// conversation ended, or ctx.Err() when ctx was cancelled first.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	if l.conv.Terminated() {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	l.mu.Unlock()

	l.opts.Metrics.ActiveSessions.Add(ctx, 1)
	defer func() {
		l.opts.Metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	slog.Info("conversation started")
	for {
		if l.conv.Terminated() {
			slog.Info("conversation ended", "turns", l.Status().Turns)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return l.exitErr(err)
		}

		res := l.runner.Run(ctx, &l.conv)

		l.mu.Lock()
		l.turns++
		l.last = res
		turns := l.turns
		l.mu.Unlock()
		if l.opts.OnTurn != nil {
			l.opts.OnTurn(res)
		}

		if l.conv.Terminated() {
			continue
		}
		if l.opts.MaxTurns > 0 && turns >= l.opts.MaxTurns {
			slog.Info("turn limit reached", "turns", turns)
			return nil
		}
		if l.opts.Pause > 0 {
			t := time.NewTimer(l.opts.Pause)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			case <-l.stopped:
				t.Stop()
			}
		}
	}
}

// exitErr reports a cancellation that raced with termination as a clean exit.
func (l *Loop) exitErr(err error) error {
	if l.conv.Terminated() {
		return nil
	}
	return err
}

// Stop terminates the conversation. A running turn completes normally and
// Run returns after it; a pending pause is cut short. Stop is idempotent and
// safe to call at any time, including before Run.
func (l *Loop) Stop() {
	l.conv.Terminate()
	l.stopOnce.Do(func() { close(l.stopped) })
}

// Status returns a snapshot of the loop.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Status{
		Running:        l.running,
		Turns:          l.turns,
		Terminated:     l.conv.Terminated(),
		LastTranscript: l.last.Transcript,
		LastReply:      l.last.Reply,
	}
	if l.turns > 0 {
		s.LastState = l.last.Final.String()
	}
	if l.last.Err != nil {
		s.LastError = l.last.Err.Error()
	}
	return s
}
