package sequence

import "sync"

// History is a sender's outbound log: it assigns sequence numbers and keeps
// payloads for resend. With a positive limit the lowest sequences are evicted
// first; a resend for an evicted sequence is an ordinary miss.
type History[T any] struct {
	mu     sync.RWMutex
	items  map[int64]T
	next   int64
	oldest int64
	limit  int
}

// NewHistory returns an empty history. limit <= 0 keeps everything.
func NewHistory[T any](limit int) *History[T] {
	return &History[T]{items: make(map[int64]T), limit: limit}
}

// Append stores payload under the next sequence number and returns it.
func (h *History[T]) Append(payload T) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	seq := h.next
	h.next++
	h.items[seq] = payload
	if h.limit > 0 {
		for len(h.items) > h.limit {
			delete(h.items, h.oldest)
			h.oldest++
		}
	}
	return seq
}

// Get returns the payload recorded under seq.
func (h *History[T]) Get(seq int64) (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.items[seq]
	return v, ok
}

// Next is the sequence the following Append will assign.
func (h *History[T]) Next() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.next
}

// Len returns the number of retained payloads.
func (h *History[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}
