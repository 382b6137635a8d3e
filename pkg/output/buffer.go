// Package output accumulates streamed text and derives its display form.
package output

import (
	"strings"
	"sync"
)

// Buffer holds the full response seen so far. Write appends a delta and is the
// only way content grows; Reset empties it for the next generation.
type Buffer struct {
	mu  sync.RWMutex
	buf strings.Builder
}

// NewBuffer returns an empty Buffer
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Write appends delta to the buffer
func (b *Buffer) Write(delta string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.WriteString(delta)
}

// String returns the accumulated text
func (b *Buffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.buf.String()
}

// Len returns the accumulated length in bytes
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.buf.Len()
}

// Reset empties the buffer
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}
