package turn

import (
	"fmt"
	"sync/atomic"
)

// State is a stage of the per-turn state machine.
//
//	Idle → Capturing → Transcribing → CheckingTermination → Generating → Synthesizing → Playing → Done
//
// Capturing and Transcribing may divert to Aborted. CheckingTermination may
// jump to Synthesizing (farewell) and Generating may jump straight to Done.
type State int

const (
	Idle State = iota
	Capturing
	Transcribing
	CheckingTermination
	Generating
	Synthesizing
	Playing
	Done
	Aborted
)

var stateNames = [...]string{
	Idle:                "Idle",
	Capturing:           "Capturing",
	Transcribing:        "Transcribing",
	CheckingTermination: "CheckingTermination",
	Generating:          "Generating",
	Synthesizing:        "Synthesizing",
	Playing:             "Playing",
	Done:                "Done",
	Aborted:             "Aborted",
}

// String returns the state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Final reports whether s ends a turn.
func (s State) Final() bool {
	return s == Done || s == Aborted
}

// ConversationState is the state shared across turns. It carries a single
// flag: once terminated, no further turn may start.
//
// The zero value is ready to use and safe for concurrent use.
type ConversationState struct {
	terminated atomic.Bool
}

// Terminated reports whether the conversation has ended.
func (c *ConversationState) Terminated() bool {
	return c.terminated.Load()
}

// Terminate marks the conversation ended. It is idempotent.
func (c *ConversationState) Terminate() {
	c.terminated.Store(true)
}
