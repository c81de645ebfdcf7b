package agent

import (
	"sync"
	"time"
)

const defaultHistorySize = 100

// Exchange is one completed prompt and its reply.
type Exchange struct {
	Prompt       string        `json:"prompt"`
	Reply        string        `json:"reply"`
	At           time.Time     `json:"at"`
	Duration     time.Duration `json:"duration"`
	OutputTokens int64         `json:"output_tokens,omitempty"`
}

// History keeps the most recent exchanges of an agent in a fixed-size ring.
type History struct {
	mu    sync.Mutex
	ring  []Exchange
	next  int
	total int
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{ring: make([]Exchange, size)}
}

func (h *History) Record(exchange Exchange) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring[h.next] = exchange
	h.next = (h.next + 1) % len(h.ring)
	h.total++
}

// Recent returns up to n exchanges, oldest first. n <= 0 returns all retained.
func (h *History) Recent(n int) []Exchange {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := min(h.total, len(h.ring))
	if n <= 0 || n > kept {
		n = kept
	}

	out := make([]Exchange, 0, n)
	for i := n; i > 0; i-- {
		idx := (h.next - i + len(h.ring)) % len(h.ring)
		out = append(out, h.ring[idx])
	}
	return out
}

// Total counts every exchange ever recorded, including evicted ones.
func (h *History) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.total
}
