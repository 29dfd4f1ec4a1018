// Package audio holds a session's retained audio and PCM helpers.
package audio

import "sync"

// Buffer retains the audio chunks a session has received since its last segment
// boundary. Release trims it to a recent window so long recordings stay bounded.
type Buffer struct {
	mu       sync.Mutex
	chunks   [][]byte
	size     int
	released int
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append retains a copy of chunk.
func (b *Buffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)

	b.mu.Lock()
	b.chunks = append(b.chunks, c)
	b.size += len(c)
	b.mu.Unlock()
}

// Release drops all but the newest keep chunks and returns how many were dropped.
func (b *Buffer) Release(keep int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	keep = max(keep, 0)
	drop := len(b.chunks) - keep
	if drop <= 0 {
		return 0
	}
	for _, c := range b.chunks[:drop] {
		b.size -= len(c)
	}
	kept := make([][]byte, keep)
	copy(kept, b.chunks[drop:])
	b.chunks = kept
	b.released += drop
	return drop
}

// Bytes returns the retained audio as one contiguous buffer.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Len returns the number of retained chunks.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Size returns the retained byte count.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Released returns how many chunks have been dropped over the buffer's lifetime.
func (b *Buffer) Released() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// Reset drops everything.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.size = 0
}
