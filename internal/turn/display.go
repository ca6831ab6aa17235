package turn

// EventKind classifies a [Event].
type EventKind int

const (
	// EventState announces a state transition.
	EventState EventKind = iota
	// EventTranscript carries what the user said.
	EventTranscript
	// EventReply carries what the assistant answers.
	EventReply
	// EventError carries a user-visible failure.
	EventError
)

// String returns the lower-case kind name used on the wire.
func (k EventKind) String() string {
	switch k {
	case EventState:
		return "status"
	case EventTranscript:
		return "transcript"
	case EventReply:
		return "reply"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one user-facing update emitted while a turn runs.
type Event struct {
	TurnID string
	Kind   EventKind
	State  State
	Text   string
	Err    error
}

// Display receives turn events. Show must not block for long; it runs on
// the turn's goroutine.
type Display interface {
	Show(Event)
}

// DisplayFunc adapts an ordinary function to the [Display] interface.
type DisplayFunc func(Event)

// Show calls f(e).
func (f DisplayFunc) Show(e Event) { f(e) }

type nopDisplay struct{}

func (nopDisplay) Show(Event) {}
