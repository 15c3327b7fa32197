package state

import (
	"context"
	"sync"
)

type memoryStore[S any] struct {
	mu       sync.RWMutex
	sessions map[int64]S
}

// NewMemoryStore constructs an in-memory Store. Sessions live for the process lifetime.
func NewMemoryStore[S any]() Store[S] {
	return &memoryStore[S]{
		sessions: make(map[int64]S),
	}
}

// Get returns the session for a chat if it exists.
func (m *memoryStore[S]) Get(_ context.Context, chatID int64) (S, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[chatID]
	return s, ok, nil
}

// Set replaces the session for a chat, creating it if necessary.
func (m *memoryStore[S]) Set(_ context.Context, chatID int64, s S) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[chatID] = s
	return nil
}

// Clear removes the entire session for a chat.
func (m *memoryStore[S]) Clear(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, chatID)
	return nil
}

// Len reports the number of active sessions.
func (m *memoryStore[S]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
