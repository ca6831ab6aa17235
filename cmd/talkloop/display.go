package main

import (
	"fmt"
	"io"

	"github.com/MrWong99/talkloop/internal/turn"
)

// consoleDisplay prints transcripts, replies and errors to w.
func consoleDisplay(w io.Writer) turn.Display {
	return turn.DisplayFunc(func(e turn.Event) {
		switch e.Kind {
		case turn.EventTranscript:
			fmt.Fprintf(w, "You said: %s\n", e.Text)
		case turn.EventReply:
			fmt.Fprintf(w, "Assistant: %s\n", e.Text)
		case turn.EventError:
			fmt.Fprintf(w, "Error: %s\n", e.Text)
		case turn.EventState:
			if e.State == turn.Capturing {
				fmt.Fprintln(w, "Recording...")
			}
		}
	})
}
