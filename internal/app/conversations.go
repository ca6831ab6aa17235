package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/talkloop/internal/session"
)

// ConversationInfo describes the active or most recent conversation.
type ConversationInfo struct {
	ID        string
	StartedAt time.Time
	Status    session.Status
}

// Conversations runs at most one background microphone conversation at a
// time. Each Start creates a fresh [session.Loop], so a conversation that
// ended on a stop keyword can be followed by a new one.
//
// All exported methods are safe for concurrent use.
type Conversations struct {
	parent  context.Context
	newLoop func() *session.Loop

	mu   sync.Mutex
	loop *session.Loop
	info ConversationInfo
	done chan struct{}
	err  error
}

// NewConversations returns a manager whose loops run under parent and are
// built by newLoop.
func NewConversations(parent context.Context, newLoop func() *session.Loop) *Conversations {
	return &Conversations{parent: parent, newLoop: newLoop}
}

// Start launches a new conversation in the background. It returns an error
// wrapping [session.ErrAlreadyRunning] while one is active.
func (c *Conversations) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		select {
		case <-c.done:
		default:
			return fmt.Errorf("app: conversation %s: %w", c.info.ID, session.ErrAlreadyRunning)
		}
	}
	if err := c.parent.Err(); err != nil {
		return fmt.Errorf("app: start conversation: %w", err)
	}

	loop := c.newLoop()
	done := make(chan struct{})
	c.loop = loop
	c.done = done
	c.err = nil
	c.info = ConversationInfo{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	id := c.info.ID

	slog.Info("conversation starting", "conversation_id", id)
	go func() {
		defer close(done)
		err := loop.Run(c.parent)
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		slog.Info("conversation finished", "conversation_id", id, "turns", loop.Status().Turns, "err", err)
	}()
	return nil
}

// Stop ends the active conversation. The turn in progress still completes;
// use Wait to block until the loop has exited. It is a no-op when nothing is
// running.
func (c *Conversations) Stop() {
	c.mu.Lock()
	loop := c.loop
	c.mu.Unlock()
	if loop != nil {
		loop.Stop()
	}
}

// Wait blocks until the current conversation ends or ctx is done and
// returns the loop's error. It returns nil immediately when none was started.
func (c *Conversations) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Info returns the active or most recent conversation.
func (c *Conversations) Info() ConversationInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.info
	if c.loop != nil {
		info.Status = c.loop.Status()
	}
	return info
}

// Status returns the session status of the active or most recent
// conversation.
func (c *Conversations) Status() session.Status {
	return c.Info().Status
}
