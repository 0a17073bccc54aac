package lease

import (
	"context"
	"sync"
	"time"

	"github.com/mini-maxit/grader/pkg/errors"
)

type entry struct {
	holder    string
	expiresAt time.Time
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryStore returns a Store shared by the workers of a single process.
func NewMemoryStore() Store {
	return newMemoryStore(time.Now)
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{entries: make(map[string]entry), now: now}
}

func (m *memoryStore) Acquire(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expiresAt) && e.holder != holder {
		return false, nil
	}
	m.entries[key] = entry{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *memoryStore) Renew(_ context.Context, key, holder string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || e.holder != holder || !now.Before(e.expiresAt) {
		return errors.ErrLeaseNotHeld
	}
	e.expiresAt = now.Add(ttl)
	m.entries[key] = e
	return nil
}

func (m *memoryStore) Release(_ context.Context, key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && e.holder == holder {
		delete(m.entries, key)
	}
	return nil
}

func (m *memoryStore) Holder(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expiresAt) {
		return "", nil
	}
	return e.holder, nil
}
