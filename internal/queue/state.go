package queue

import (
	"sync"
	"time"
)

// Progress summarizes queue composition. Items still waiting or in flight
// count as pending.
type Progress struct {
	Success int
	Failed  int
	Pending int
}

// Total returns the number of items the summary covers.
func (p Progress) Total() int { return p.Success + p.Failed + p.Pending }

// Done reports whether no deliverable work remains.
func (p Progress) Done() bool { return p.Pending == 0 }

// State is the ordered in-memory queue. All methods are safe for
// concurrent use; enqueue order is delivery order.
type State struct {
	mu    sync.Mutex
	order []string
	items map[string]*Item
}

// NewState returns an empty queue.
func NewState() *State {
	return &State{items: make(map[string]*Item)}
}

// Enqueue appends a new pending item and returns a copy of it.
func (s *State) Enqueue(payload []byte, meta Metadata) *Item {
	item := NewItem(payload, meta)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, item.ID)
	s.items[item.ID] = item
	return item.clone()
}

// Restore re-inserts an item recovered from durable storage. Items already
// present are left untouched so repeated hydration stays idempotent.
// Terminal failures come back as failed with their retry count and error
// intact; an explicit RetryFailed is what resurrects them. Anything else
// resumes as pending.
func (s *State) Restore(item *Item) bool {
	if item == nil || item.ID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return false
	}
	cp := item.clone()
	if cp.Status != StatusFailed {
		cp.Status = StatusPending
		cp.ErrorMessage = ""
	}
	s.order = append(s.order, cp.ID)
	s.items[cp.ID] = cp
	return true
}

// NextEligible returns a copy of the first pending item in enqueue order,
// or nil when nothing is deliverable.
func (s *State) NextEligible() *Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if item := s.items[id]; item.Status == StatusPending {
			return item.clone()
		}
	}
	return nil
}

// MarkInFlight transitions a pending item to in_flight and records the
// attempt time. Unknown or non-pending items are ignored, which makes
// late marks from a cancelled attempt harmless.
func (s *State) MarkInFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.Status != StatusPending {
		return false
	}
	item.Status = StatusInFlight
	item.LastAttemptAt = time.Now().UTC()
	return true
}

// MarkSuccess finalizes a delivered item.
func (s *State) MarkSuccess(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.Status != StatusInFlight {
		return false
	}
	item.Status = StatusSuccess
	item.ErrorMessage = ""
	return true
}

// MarkFailed records a failed attempt. The retry counter advances; below
// MaxRetries the item returns to pending for another pass, at MaxRetries
// it becomes permanently failed and keeps the final error message.
// The returned bool reports whether the failure was terminal.
func (s *State) MarkFailed(id, message string) (terminal bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, found := s.items[id]
	if !found || item.Status != StatusInFlight {
		return false, false
	}
	item.RetryCount++
	if item.RetryCount >= MaxRetries {
		item.Status = StatusFailed
		item.ErrorMessage = message
		return true, true
	}
	item.Status = StatusPending
	item.ErrorMessage = ""
	return false, true
}

// MarkRateLimited returns an in-flight item to pending without touching
// its retry counter. Rate limiting is the service pushing back, not the
// item failing.
func (s *State) MarkRateLimited(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.Status != StatusInFlight {
		return false
	}
	item.Status = StatusPending
	return true
}

// RetryFailed resets permanently failed items to pending with a fresh
// retry budget and returns how many were reset.
func (s *State) RetryFailed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, id := range s.order {
		item := s.items[id]
		if item.Status != StatusFailed {
			continue
		}
		item.Status = StatusPending
		item.RetryCount = 0
		item.ErrorMessage = ""
		count++
	}
	return count
}

// Get returns a copy of the item, if present.
func (s *State) Get(id string) (*Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, false
	}
	return item.clone(), true
}

// List returns copies of all items in enqueue order.
func (s *State) List() []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Item, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].clone())
	}
	return out
}

// Progress tallies item statuses.
func (s *State) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p Progress
	for _, item := range s.items {
		switch item.Status {
		case StatusSuccess:
			p.Success++
		case StatusFailed:
			p.Failed++
		default:
			p.Pending++
		}
	}
	return p
}

// Len returns the number of tracked items.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Clear drops every item.
func (s *State) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.order)
	s.order = nil
	s.items = make(map[string]*Item)
	return n
}
