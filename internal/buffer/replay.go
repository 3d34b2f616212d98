// Package buffer provides the bounded replay buffer for terminal output.
package buffer

import (
	"sync"
)

const (
	// DefaultCapacity is the default maximum size of the replay buffer (1 MiB).
	DefaultCapacity = 1024 * 1024

	// DefaultRetained is the default size retained after eviction (512 KiB).
	DefaultRetained = 512 * 1024
)

// ReplayBuffer is a thread-safe byte store that keeps the most recent output
// so that late-joining viewers can catch up. Appends go to the tail; once the
// total size exceeds the capacity, bytes are discarded from the head until
// the retained floor is reached. The contents are always a contiguous suffix
// of everything written since the last Clear.
type ReplayBuffer struct {
	data     []byte
	capacity int
	retained int
	mu       sync.RWMutex
}

// NewReplayBuffer creates a ReplayBuffer with the given capacity and retained
// floor. Non-positive values fall back to the defaults; a floor larger than
// the capacity is clamped to it.
func NewReplayBuffer(capacity, retained int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if retained <= 0 {
		retained = DefaultRetained
	}
	if retained > capacity {
		retained = capacity
	}
	return &ReplayBuffer{
		data:     make([]byte, 0, capacity),
		capacity: capacity,
		retained: retained,
	}
}

// Append adds p to the tail of the buffer, evicting from the head down to
// the retained floor if the capacity is exceeded.
func (b *ReplayBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if len(b.data) > b.capacity {
		drop := len(b.data) - b.retained
		remaining := make([]byte, b.retained, b.capacity)
		copy(remaining, b.data[drop:])
		b.data = remaining
	}
}

// Snapshot returns a copy of the current contents. The copy is safe to use
// without holding any lock and never observes a partial Append.
func (b *ReplayBuffer) Snapshot() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.data) == 0 {
		return nil
	}

	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Clear empties the buffer.
func (b *ReplayBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = b.data[:0]
}

// Len returns the current number of bytes in the buffer.
func (b *ReplayBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.data)
}

// Cap returns the capacity of the buffer.
func (b *ReplayBuffer) Cap() int {
	return b.capacity
}

// Retained returns the floor the buffer shrinks to on eviction.
func (b *ReplayBuffer) Retained() int {
	return b.retained
}
