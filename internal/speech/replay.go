package speech

// ReplayBuffer keeps the most recent audio chunks up to a byte cap, evicting the
// oldest first. The newest chunk is always kept even if it alone exceeds the cap.
// It is not safe for concurrent use; Handle guards it with its own lock.
type ReplayBuffer struct {
	chunks   [][]byte
	size     int
	maxBytes int
}

// NewReplayBuffer creates a buffer holding at most maxBytes.
func NewReplayBuffer(maxBytes int) *ReplayBuffer {
	return &ReplayBuffer{maxBytes: maxBytes}
}

// Add appends a copy of chunk and evicts from the front until under the cap.
func (b *ReplayBuffer) Add(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)
	b.chunks = append(b.chunks, c)
	b.size += len(c)

	drop := 0
	for b.size > b.maxBytes && len(b.chunks)-drop > 1 {
		b.size -= len(b.chunks[drop])
		b.chunks[drop] = nil
		drop++
	}
	if drop > 0 {
		b.chunks = b.chunks[drop:]
	}
}

// Chunks returns the buffered chunks, oldest first.
func (b *ReplayBuffer) Chunks() [][]byte {
	out := make([][]byte, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Size returns the buffered byte count.
func (b *ReplayBuffer) Size() int { return b.size }

// Len returns the number of buffered chunks.
func (b *ReplayBuffer) Len() int { return len(b.chunks) }

// Reset empties the buffer.
func (b *ReplayBuffer) Reset() {
	b.chunks = nil
	b.size = 0
}
