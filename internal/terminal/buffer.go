package terminal

import "sync"

// OutputBuffer is a bounded sliding window over a session's output. Appends
// beyond capacity drop the oldest bytes; the most recent window is always
// retained intact. The buffer also tracks the total number of bytes ever
// appended so polling clients can address output by absolute offset.
type OutputBuffer struct {
	mu       sync.RWMutex
	data     []byte
	capacity int
	total    int64
}

// NewOutputBuffer creates a buffer retaining at most capacity bytes
func NewOutputBuffer(capacity int) *OutputBuffer {
	return &OutputBuffer{
		data:     make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a chunk, truncating from the front if the window would overflow
func (b *OutputBuffer) Append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))

	if len(p) >= b.capacity {
		b.data = append(b.data[:0], p[len(p)-b.capacity:]...)
		return
	}

	b.data = append(b.data, p...)
	if overflow := len(b.data) - b.capacity; overflow > 0 {
		b.data = append(b.data[:0], b.data[overflow:]...)
	}
}

// Snapshot returns the sanitized current window, for replay to a late-attaching client
func (b *OutputBuffer) Snapshot() []byte {
	b.mu.RLock()
	raw := make([]byte, len(b.data))
	copy(raw, b.data)
	b.mu.RUnlock()

	return Sanitize(raw)
}

// Since returns the raw output produced after the given absolute offset,
// plus the current total. The bytes are not sanitized: the returned offset
// accounts for every byte, and stripping a trailing partial escape sequence
// here would lose it forever while its continuation arrived on the next poll
// as orphaned text. Incremental reads may split escape sequences across
// responses, exactly as the streaming transport splits them across frames; a
// terminal parser reassembles them. A client that has been away longer than
// the window covers sees only the window; that gap is an accepted lossy
// degradation.
func (b *OutputBuffer) Since(offset int64) ([]byte, int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if offset >= b.total {
		return nil, b.total
	}

	windowStart := b.total - int64(len(b.data))
	if offset < windowStart {
		offset = windowStart
	}

	out := make([]byte, b.total-offset)
	copy(out, b.data[int64(len(b.data))-(b.total-offset):])
	return out, b.total
}

// Len returns the current window size
func (b *OutputBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Total returns the total number of bytes ever appended
func (b *OutputBuffer) Total() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// Tail returns up to n raw trailing bytes of the window, for prompt detection
func (b *OutputBuffer) Tail(n int) []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := len(b.data) - n
	if start < 0 {
		start = 0
	}
	tail := make([]byte, len(b.data)-start)
	copy(tail, b.data[start:])
	return tail
}
