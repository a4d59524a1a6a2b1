// stores.go
//
// Shared mock implementation of auth.SessionStore.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/MGallo-Code/discord-auth/internal/store"
)

// MockSessionStore implements auth.SessionStore for tests.
// Always stateful...Sessions is a map, like a real store.
// Sessions are kept as JSON so reads return copies, matching Redis.
// Use *Err fields to inject errors for specific operations.
type MockSessionStore struct {
	// Error injection...zero value means no error
	GetSessionErr    error
	SetSessionErr    error
	DeleteSessionErr error
	HealthErr        error

	Sessions map[string][]byte // keyed by base64 token hash
	TTLs     map[string]int

	mu sync.Mutex
}

// NewMockSessionStore returns an empty MockSessionStore ready for use.
func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{
		Sessions: make(map[string][]byte),
		TTLs:     make(map[string]int),
	}
}

func (m *MockSessionStore) GetSession(_ context.Context, tokenHash string) (*store.Session, error) {
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	m.mu.Lock()
	raw, ok := m.Sessions[tokenHash]
	m.mu.Unlock()
	if !ok {
		return nil, store.ErrCacheMiss
	}
	var s store.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *MockSessionStore) SetSession(_ context.Context, tokenHash string, sess store.Session, ttl int) error {
	if m.SetSessionErr != nil {
		return m.SetSessionErr
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.Sessions == nil {
		m.Sessions = make(map[string][]byte)
		m.TTLs = make(map[string]int)
	}
	m.Sessions[tokenHash] = raw
	m.TTLs[tokenHash] = ttl
	m.mu.Unlock()
	return nil
}

func (m *MockSessionStore) DeleteSession(_ context.Context, tokenHash string) error {
	if m.DeleteSessionErr != nil {
		return m.DeleteSessionErr
	}
	m.mu.Lock()
	delete(m.Sessions, tokenHash)
	delete(m.TTLs, tokenHash)
	m.mu.Unlock()
	return nil
}

func (m *MockSessionStore) CheckHealth(context.Context) error {
	return m.HealthErr
}

// Len returns the number of stored sessions.
func (m *MockSessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sessions)
}

// Only returns the single stored session and its key; ok is false unless exactly one exists.
func (m *MockSessionStore) Only() (key string, sess *store.Session, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sessions) != 1 {
		return "", nil, false
	}
	for k, raw := range m.Sessions {
		var s store.Session
		if json.Unmarshal(raw, &s) != nil {
			return "", nil, false
		}
		return k, &s, true
	}
	return "", nil, false
}
