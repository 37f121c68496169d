package spillover

import (
	"context"
	"sync"

	"courier/internal/queue"
)

// MemoryStore is an in-process Store used by tests and by deployments
// that explicitly opt out of durability.
type MemoryStore struct {
	mu    sync.Mutex
	order []string
	items map[string]*queue.Item
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*queue.Item)}
}

func (m *MemoryStore) Save(_ context.Context, item *queue.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; !ok {
		m.order = append(m.order, item.ID)
	}
	cp := *item
	cp.Payload = append([]byte(nil), item.Payload...)
	m.items[item.ID] = &cp
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[itemID]; !ok {
		return nil
	}
	delete(m.items, itemID)
	for i, id := range m.order {
		if id == itemID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) ListAll(_ context.Context) ([]*queue.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*queue.Item, 0, len(m.order))
	for _, id := range m.order {
		cp := *m.items[id]
		cp.Payload = append([]byte(nil), cp.Payload...)
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order), nil
}

func (m *MemoryStore) Clear(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.order)
	m.order = nil
	m.items = make(map[string]*queue.Item)
	return n, nil
}

func (m *MemoryStore) Close() error { return nil }
