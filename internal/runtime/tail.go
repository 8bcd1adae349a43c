package runtime

import (
	"sync"
	"unicode/utf8"
)

// Tail returns at most limit bytes from the end of s without splitting a
// UTF-8 sequence. A limit <= 0 means OutputBudget.
func Tail(s string, limit int) string {
	if limit <= 0 {
		limit = OutputBudget
	}
	if len(s) <= limit {
		return s
	}
	cut := len(s) - limit
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

// TailBuffer is an io.Writer that keeps only the last Limit bytes written.
type TailBuffer struct {
	mu        sync.Mutex
	limit     int
	buf       []byte
	truncated bool
}

func NewTailBuffer(limit int) *TailBuffer {
	if limit <= 0 {
		limit = OutputBudget
	}
	return &TailBuffer{limit: limit}
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > 2*b.limit {
		b.buf = append(b.buf[:0], b.buf[len(b.buf)-b.limit:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *TailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Tail(string(b.buf), b.limit)
}

func (b *TailBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated || len(b.buf) > b.limit
}
