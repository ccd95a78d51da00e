package terminal

import (
	"bytes"
	"sync"
)

// DefaultScrollbackBytes bounds the in-memory scrollback of a PTY terminal.
const DefaultScrollbackBytes = 1 << 20

// Scrollback is a bounded, concurrency-safe byte buffer that keeps the most
// recent output. When trimmed it drops whole lines where possible so the
// oldest retained line is never a fragment.
type Scrollback struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

// NewScrollback returns a buffer that retains at most limit bytes.
// limit <= 0 selects DefaultScrollbackBytes.
func NewScrollback(limit int) *Scrollback {
	if limit <= 0 {
		limit = DefaultScrollbackBytes
	}
	return &Scrollback{limit: limit}
}

// Write appends p. It never fails.
func (s *Scrollback) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, p...)
	if over := len(s.buf) - s.limit; over > 0 {
		cut := over
		if nl := bytes.IndexByte(s.buf[over:], '\n'); nl >= 0 && over+nl+1 < len(s.buf) {
			cut = over + nl + 1
		}
		s.buf = append(s.buf[:0:0], s.buf[cut:]...)
	}
	return len(p), nil
}

// Bytes returns a copy of the retained output.
func (s *Scrollback) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	return out
}

// Len returns the number of retained bytes.
func (s *Scrollback) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Reset discards everything.
func (s *Scrollback) Reset() {
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
}
