package storage

import (
	"context"
	"sync"

	"github.com/conorfennell/recall/internal/domain"
)

// MemoryStore keeps snapshots for the lifetime of the process.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]domain.MemoryState
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[string]domain.MemoryState)}
}

// Get returns a deep copy of the session's states.
func (m *MemoryStore) Get(_ context.Context, sessionID string) (*domain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cards, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	snap := &domain.Snapshot{SessionID: sessionID, Items: make([]domain.MemoryState, 0, len(cards))}
	for _, st := range cards {
		snap.Items = append(snap.Items, st.Clone())
	}
	domain.SortStates(snap.Items)
	return snap, nil
}

// UpsertCard stores a copy of state under its card ID.
func (m *MemoryStore) UpsertCard(_ context.Context, sessionID string, state domain.MemoryState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cards, ok := m.sessions[sessionID]
	if !ok {
		cards = make(map[string]domain.MemoryState)
		m.sessions[sessionID] = cards
	}
	cards[state.CardID] = state.Clone()
	return nil
}

// ReplaceAll swaps in a fresh copy of states.
func (m *MemoryStore) ReplaceAll(_ context.Context, sessionID string, states []domain.MemoryState) error {
	cards := make(map[string]domain.MemoryState, len(states))
	for _, st := range states {
		cards[st.CardID] = st.Clone()
	}

	m.mu.Lock()
	m.sessions[sessionID] = cards
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
