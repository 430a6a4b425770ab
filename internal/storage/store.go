package storage

import (
	"context"

	"github.com/conorfennell/recall/internal/domain"
)

// Store persists the per-card memory states of each session.
type Store interface {
	// Get returns the session snapshot ordered by card ID, or nil when the
	// session has never been written.
	Get(ctx context.Context, sessionID string) (*domain.Snapshot, error)
	// UpsertCard inserts or replaces one card's state without touching the
	// other cards of the session.
	UpsertCard(ctx context.Context, sessionID string, state domain.MemoryState) error
	// ReplaceAll atomically swaps the session's full set of states.
	ReplaceAll(ctx context.Context, sessionID string, states []domain.MemoryState) error
	Close() error
}

// Locker serializes read-modify-write cycles on a key. Store calls made
// while the lock is held must use the returned context: a locker may bind
// the resources of the locked section to it.
type Locker interface {
	Lock(ctx context.Context, key string) (locked context.Context, unlock func(), err error)
}
