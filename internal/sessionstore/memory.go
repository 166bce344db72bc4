package sessionstore

import (
	"context"
	"sync"
	"time"
)

const defaultTTL = 30 * time.Minute

// MemoryStore is an in-process Store suitable for single-node deployments.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	session   Session
	expiresAt time.Time
}

// NewMemoryStore builds a memory store. A non-positive ttl uses the default
// of 30 minutes.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) Put(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked()
	m.entries[s.ID] = memoryEntry{session: s, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || m.now().After(e.expiresAt) {
		delete(m.entries, id)
		return Session{}, ErrNotFound
	}
	e.expiresAt = m.now().Add(m.ttl)
	m.entries[id] = e
	return e.session, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) purgeLocked() {
	now := m.now()
	for id, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, id)
		}
	}
}
