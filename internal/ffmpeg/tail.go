package ffmpeg

import (
	"strings"
	"sync"
)

// DefaultTailSize bounds how much stderr each process keeps.
const DefaultTailSize = 64 * 1024

// TailBuffer keeps the last N bytes written to it.
type TailBuffer struct {
	mu  sync.Mutex
	buf []byte
	cap int
}

// NewTailBuffer returns a TailBuffer holding at most capacity bytes.
func NewTailBuffer(capacity int) *TailBuffer {
	if capacity <= 0 {
		capacity = DefaultTailSize
	}
	return &TailBuffer{buf: make([]byte, 0, capacity), cap: capacity}
}

func (r *TailBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	if n >= r.cap {
		r.buf = append(r.buf[:0], p[n-r.cap:]...)
		return n, nil
	}
	if over := len(r.buf) + n - r.cap; over > 0 {
		copy(r.buf, r.buf[over:])
		r.buf = r.buf[:len(r.buf)-over]
	}
	r.buf = append(r.buf, p...)
	return n, nil
}

// String returns everything retained.
func (r *TailBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf)
}

// Tail returns the last n lines retained, without a trailing newline.
func (r *TailBuffer) Tail(lines int) string {
	s := strings.TrimRight(r.String(), "\n")
	if s == "" {
		return ""
	}
	all := strings.Split(s, "\n")
	if len(all) <= lines {
		return s
	}
	return strings.Join(all[len(all)-lines:], "\n")
}
