package session

import "strings"

// State is the inferred lifecycle classification of a session.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateWaiting   State = "waiting"
	StateCompleted State = "completed"
)

// Status tokens as they appear in the status signal file.
const (
	TokenIdle       = "idle"
	TokenRunning    = "running"
	TokenWaiting    = "waiting"
	TokenCompletion = "completion"
)

// DecodeStatus maps status file content to a State. Matching is
// case-insensitive after trimming whitespace; anything unrecognised,
// including empty content, is Idle.
func DecodeStatus(content string) State {
	switch strings.ToLower(strings.TrimSpace(content)) {
	case TokenRunning:
		return StateRunning
	case TokenWaiting:
		return StateWaiting
	case TokenCompletion:
		return StateCompleted
	default:
		return StateIdle
	}
}

// Token returns the status file token for s.
func (s State) Token() string {
	switch s {
	case StateRunning:
		return TokenRunning
	case StateWaiting:
		return TokenWaiting
	case StateCompleted:
		return TokenCompletion
	default:
		return TokenIdle
	}
}

// ParseState accepts a state name or a status token ("completion").
func ParseState(s string) (State, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle":
		return StateIdle, true
	case "running":
		return StateRunning, true
	case "waiting":
		return StateWaiting, true
	case "completed", "completion":
		return StateCompleted, true
	}
	return StateIdle, false
}

// wantsSnippet reports whether entering s recomputes the latest response.
func (s State) wantsSnippet() bool {
	return s == StateWaiting || s == StateCompleted
}
