package storage

import (
	"context"
	"hash/fnv"
)

// DefaultLockShards is the stripe count used when none is configured.
const DefaultLockShards = 64

// StripedLocker serializes keys within one process using a fixed set of
// mutex stripes. Two keys may share a stripe; a key never spans two.
type StripedLocker struct {
	stripes []chan struct{}
}

// NewStripedLocker creates a locker with n stripes.
func NewStripedLocker(n int) *StripedLocker {
	if n <= 0 {
		n = DefaultLockShards
	}
	l := &StripedLocker{stripes: make([]chan struct{}, n)}
	for i := range l.stripes {
		l.stripes[i] = make(chan struct{}, 1)
	}
	return l
}

// Lock blocks until key's stripe is free or ctx is done.
func (l *StripedLocker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	stripe := l.stripes[l.index(key)]
	select {
	case stripe <- struct{}{}:
		return ctx, func() { <-stripe }, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (l *StripedLocker) index(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(l.stripes)))
}
