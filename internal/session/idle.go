package session

import "time"

// idleDetector forces Idle when a session has claimed Running for longer
// than timeout without a fresh running signal.
type idleDetector struct {
	timeout time.Duration
}

// check reports whether the session should be forced to Idle. The boundary
// is exclusive: exactly timeout since the last signal does not fire.
func (d idleDetector) check(state State, lastRunning, now time.Time) bool {
	if state != StateRunning {
		return false
	}
	return now.Sub(lastRunning) > d.timeout
}
