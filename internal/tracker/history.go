package tracker

import (
	"sync"
	"time"

	"tokenscope/internal/model"
)

// historyCap bounds the retained snapshots per token. Oldest entries are
// evicted first.
const historyCap = 1000

type ring struct {
	entries []model.PriceSnapshot
	head    int
}

func (r *ring) append(snapshot model.PriceSnapshot) {
	if len(r.entries) < historyCap {
		r.entries = append(r.entries, snapshot)
		return
	}
	r.entries[r.head] = snapshot
	r.head = (r.head + 1) % historyCap
}

// ordered returns the entries oldest-first as a copy.
func (r *ring) ordered() []model.PriceSnapshot {
	out := make([]model.PriceSnapshot, 0, len(r.entries))
	for i := 0; i < len(r.entries); i++ {
		out = append(out, r.entries[(r.head+i)%len(r.entries)])
	}
	return out
}

// History keeps a bounded per-token snapshot buffer.
type History struct {
	mu      sync.Mutex
	buffers map[string]*ring
}

func NewHistory() *History {
	return &History{buffers: make(map[string]*ring)}
}

// Append records a snapshot for its token, evicting the oldest entry when
// the buffer is full.
func (h *History) Append(snapshot model.PriceSnapshot) {
	address := model.NormalizeAddress(snapshot.TokenAddress)
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, ok := h.buffers[address]
	if !ok {
		buf = &ring{}
		h.buffers[address] = buf
	}
	buf.append(snapshot)
}

// Window returns the snapshots for a token at or after since, oldest first.
func (h *History) Window(address string, since time.Time) []model.PriceSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, ok := h.buffers[model.NormalizeAddress(address)]
	if !ok {
		return nil
	}
	all := buf.ordered()
	out := make([]model.PriceSnapshot, 0, len(all))
	for _, snapshot := range all {
		if !snapshot.Timestamp.Before(since) {
			out = append(out, snapshot)
		}
	}
	return out
}

// Len returns the number of retained snapshots for a token.
func (h *History) Len(address string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, ok := h.buffers[model.NormalizeAddress(address)]
	if !ok {
		return 0
	}
	return len(buf.entries)
}
