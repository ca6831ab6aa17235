package turn

import "strings"

// DefaultFarewell is spoken when a stop keyword ends the conversation.
const DefaultFarewell = "Goodbye! Have a great day!"

// DefaultStopKeywords returns the built-in stop phrases.
func DefaultStopKeywords() []string {
	return []string{"thank you", "goodbye", "exit"}
}

// Terminator detects stop phrases in a transcript.
//
// Matching is plain substring containment on the lower-cased transcript, so
// "exit" also fires inside "exiting" and "thank you" inside "thank you for
// the help".
type Terminator struct {
	Keywords []string
}

// NewTerminator returns a Terminator for keywords, or for
// [DefaultStopKeywords] when none are given. Keywords are lower-cased and
// blank entries dropped.
func NewTerminator(keywords ...string) Terminator {
	if len(keywords) == 0 {
		keywords = DefaultStopKeywords()
	}
	t := Terminator{Keywords: make([]string, 0, len(keywords))}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			t.Keywords = append(t.Keywords, k)
		}
	}
	return t
}

// Match reports the first keyword contained in transcript. The empty
// transcript never matches.
func (t Terminator) Match(transcript string) (string, bool) {
	if transcript == "" {
		return "", false
	}
	lower := strings.ToLower(transcript)
	for _, k := range t.Keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return k, true
		}
	}
	return "", false
}
