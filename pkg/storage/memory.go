package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/castellanosj/warelay/pkg/bridge"
)

// MemoryStore is an in-process session store for tests and ephemeral
// runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*bridge.Session

	observerMu sync.RWMutex
	observers  []Observer
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*bridge.Session)}
}

// AddObserver registers an observer for session mutations.
func (m *MemoryStore) AddObserver(observer Observer) {
	m.observerMu.Lock()
	m.observers = append(m.observers, observer)
	m.observerMu.Unlock()
}

func (m *MemoryStore) notify(event Event) {
	m.observerMu.RLock()
	observers := append([]Observer(nil), m.observers...)
	m.observerMu.RUnlock()
	for _, o := range observers {
		o.OnStorageEvent(event)
	}
}

// Save upserts a session record.
func (m *MemoryStore) Save(_ context.Context, session *bridge.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session id required")
	}
	m.mu.Lock()
	m.sessions[session.ID] = session.Clone()
	m.mu.Unlock()
	m.notify(newEvent(EventSessionSaved, session))
	return nil
}

// Load retrieves a session by id.
func (m *MemoryStore) Load(_ context.Context, id string) (*bridge.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, bridge.ErrNotFound
	}
	return session.Clone(), nil
}

// ListByOwner returns an owner's sessions, newest first.
func (m *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]*bridge.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sessions []*bridge.Session
	for _, session := range m.sessions {
		if session.OwnerID == ownerID {
			sessions = append(sessions, session.Clone())
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Delete purges a session record.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.notify(Event{Type: EventSessionDeleted, SessionID: id, Timestamp: time.Now().UTC()})
	return nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error { return nil }
