package logging

import (
	"bytes"
	"os"
	"sync"
)

// RingBuffer keeps the most recent log output in memory so it can be dumped
// after a crash or on SIGUSR1. Old bytes are overwritten once full; dumps
// skip the record the wrap cut in half so the file stays one JSON object per
// line.
type RingBuffer struct {
	mu   sync.Mutex
	buf  []byte
	pos  int
	full bool
}

// NewRingBuffer creates a ring buffer holding size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 2 * 1024 * 1024
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write implements io.Writer. It never fails.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	size := len(rb.buf)
	if n >= size {
		copy(rb.buf, p[n-size:])
		rb.pos = 0
		rb.full = true
		return n, nil
	}

	written := copy(rb.buf[rb.pos:], p)
	if written < n {
		copy(rb.buf, p[written:])
		rb.full = true
	}
	rb.pos = (rb.pos + n) % size
	if rb.pos == 0 && n > 0 {
		rb.full = true
	}
	return n, nil
}

// Bytes returns the contents in write order.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.full {
		return append([]byte(nil), rb.buf[:rb.pos]...)
	}
	out := make([]byte, 0, len(rb.buf))
	out = append(out, rb.buf[rb.pos:]...)
	return append(out, rb.buf[:rb.pos]...)
}

// Records returns the complete newline-terminated records held, oldest
// first. After a wrap the leading partial record is dropped, as is any
// trailing record still being written.
func (rb *RingBuffer) Records() []byte {
	rb.mu.Lock()
	wrapped := rb.full
	rb.mu.Unlock()

	data := rb.Bytes()
	if wrapped {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return nil
		}
		data = data[i+1:]
	}
	if end := bytes.LastIndexByte(data, '\n'); end >= 0 {
		return data[:end+1]
	}
	return nil
}

// DumpToFile writes the complete records to path.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Records(), 0o644)
}
