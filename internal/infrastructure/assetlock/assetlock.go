// Package assetlock serialises writers per asset. Supply adjustments, vesting
// claims, lockup mutations and distribution runs for one asset never interleave.
package assetlock

import (
	"context"
	"sync"
)

// Locker acquires an exclusive hold on an asset. The returned release func
// must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, assetID string) (release func(), err error)
}

// Memory is an in-process Locker. Waiters queue until the holder releases or
// their context ends.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*slot)}
}

func (m *Memory) Lock(ctx context.Context, assetID string) (func(), error) {
	m.mu.Lock()
	s, ok := m.slots[assetID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[assetID] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(assetID, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			m.unref(assetID, s)
		})
	}, nil
}

// unref drops the slot once nobody holds or waits on it.
func (m *Memory) unref(assetID string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, assetID)
	}
}

// Noop never blocks. Used where a service is exercised without contention.
type Noop struct{}

func (Noop) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}
