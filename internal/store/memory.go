// memory.go -- In-process session store, used when no Redis URL is configured.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps sessions in a map guarded by a mutex.
// Sessions are stored as JSON so callers get the same copy semantics as RedisStore.
// Expired entries read as misses and are removed on access or by Sweep.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	now      func() time.Time
}

type memoryEntry struct {
	raw       []byte
	expiresAt time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
		now:      time.Now,
	}
}

func (m *MemoryStore) SetSession(_ context.Context, tokenHash string, sess Session, ttl int) error {
	if ttl <= 0 {
		return fmt.Errorf("caching session: non-positive ttl %d", ttl)
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	m.mu.Lock()
	m.sessions[tokenHash] = memoryEntry{raw: raw, expiresAt: m.now().Add(time.Duration(ttl) * time.Second)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, tokenHash string) (*Session, error) {
	m.mu.Lock()
	e, ok := m.sessions[tokenHash]
	if ok && !e.expiresAt.After(m.now()) {
		delete(m.sessions, tokenHash)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrCacheMiss
	}

	var sess Session
	if err := json.Unmarshal(e.raw, &sess); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	return &sess, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	delete(m.sessions, tokenHash)
	m.mu.Unlock()
	return nil
}

// CheckHealth always succeeds.
func (m *MemoryStore) CheckHealth(context.Context) error { return nil }

// Sweep removes expired sessions and returns how many were deleted.
func (m *MemoryStore) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.sessions {
		if !e.expiresAt.After(now) {
			delete(m.sessions, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
