package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecodeStatus(t *testing.T) {
	tests := []struct {
		content string
		want    State
	}{
		{"running", StateRunning},
		{"RUNNING", StateRunning},
		{" Waiting\n", StateWaiting},
		{"completion\n", StateCompleted},
		{"idle", StateIdle},
		{"", StateIdle},
		{"   \n", StateIdle},
		{"completed", StateIdle},
		{"running now", StateIdle},
		{"garbage", StateIdle},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DecodeStatus(tt.content), "content %q", tt.content)
	}
}

func TestStateToken_RoundTrip(t *testing.T) {
	for _, st := range []State{StateIdle, StateRunning, StateWaiting, StateCompleted} {
		assert.Equal(t, st, DecodeStatus(st.Token()), st)
	}
	assert.Equal(t, "completion", StateCompleted.Token())
}

func TestParseState(t *testing.T) {
	st, ok := ParseState("Completion")
	assert.True(t, ok)
	assert.Equal(t, StateCompleted, st)

	st, ok = ParseState("completed")
	assert.True(t, ok)
	assert.Equal(t, StateCompleted, st)

	_, ok = ParseState("paused")
	assert.False(t, ok)
}

func TestIdleDetector_Boundary(t *testing.T) {
	d := idleDetector{timeout: 5 * time.Second}
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, d.check(StateRunning, last, last.Add(5*time.Second)), "exactly the timeout does not fire")
	assert.True(t, d.check(StateRunning, last, last.Add(5*time.Second+time.Millisecond)))
	assert.False(t, d.check(StateWaiting, last, last.Add(time.Hour)), "only Running times out")
	assert.False(t, d.check(StateIdle, last, last.Add(time.Hour)))
}
