// Package outputbuf implements the bounded byte ring that retains recent SSH
// shell output for AI context reads (spec §3, §4.2). It is single-writer
// (the SSH read task) / many-reader (tool-service tail requests), grounded
// in the teacher's pkg/store in-memory-store shape: a mutex-guarded map
// generalized here to a mutex-guarded ring of bytes.
package outputbuf

import (
	"bytes"
	"regexp"
	"sync"
)

// DefaultCapacity is the default ring capacity (~64 KiB, spec §3).
const DefaultCapacity = 64 * 1024

// Buffer is a fixed-capacity byte ring. Appends are serialized; a Tail call
// copies under a short lock so it never observes a partial multi-byte UTF-8
// sequence split across an append boundary (append always appends whole
// chunks, never touching already-written bytes).
type Buffer struct {
	mu       sync.Mutex
	capacity int
	data     []byte // logical contents, oldest first; len(data) <= capacity
}

// New creates a Buffer with the given capacity. A capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity}
}

// Append adds bytes to the buffer, discarding the oldest bytes on overflow.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if over := len(b.data) - b.capacity; over > 0 {
		b.data = b.data[over:]
	}
}

// Len returns the number of bytes currently retained.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

// Tail returns the last <= maxLines newline-delimited lines from the
// buffer's current end, capped at maxBytes total, with carriage returns and
// ANSI escape sequences stripped.
func (b *Buffer) Tail(maxLines, maxBytes int) []string {
	b.mu.Lock()
	snapshot := make([]byte, len(b.data))
	copy(snapshot, b.data)
	b.mu.Unlock()

	if maxBytes > 0 && len(snapshot) > maxBytes {
		snapshot = snapshot[len(snapshot)-maxBytes:]
	}

	clean := ansiEscape.ReplaceAll(snapshot, nil)
	clean = bytes.ReplaceAll(clean, []byte{'\r'}, nil)

	lines := bytes.Split(clean, []byte{'\n'})
	// Drop a trailing empty element produced by a terminal newline.
	if len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}

	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}

	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(l)
	}
	return out
}
