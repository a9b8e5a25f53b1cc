// Package lock provides per-key mutual exclusion for groups of resources.
//
// Keys are always acquired in canonical order (sorted, de-duplicated), so two
// callers locking overlapping sets can never deadlock on each other.
package lock

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrTimeout is returned when the locks could not be taken before the wait
// deadline. It is transient; the caller may retry.
var ErrTimeout = errors.New("lock wait timed out")

// Release frees every lock taken by one Acquire call. It is safe to call
// more than once.
type Release func()

type Locker interface {
	Acquire(ctx context.Context, keys ...string) (Release, error)
}

// Canonical returns keys sorted ascending with duplicates and empties removed.
func Canonical(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

type entry struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex is an in-process Locker. Entries are created on demand and
// dropped once no goroutine holds or waits on them.
type KeyedMutex struct {
	mu          sync.Mutex
	entries     map[string]*entry
	waitTimeout time.Duration
}

// NewKeyedMutex returns a KeyedMutex. A positive waitTimeout bounds how long
// Acquire waits in total.
func NewKeyedMutex(waitTimeout time.Duration) *KeyedMutex {
	return &KeyedMutex{
		entries:     make(map[string]*entry),
		waitTimeout: waitTimeout,
	}
}

func (m *KeyedMutex) Acquire(ctx context.Context, keys ...string) (Release, error) {
	if m.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.waitTimeout)
		defer cancel()
	}

	ordered := Canonical(keys)
	held := make([]string, 0, len(ordered))
	for _, key := range ordered {
		if err := m.lock(ctx, key); err != nil {
			m.unlockAll(held)
			return nil, err
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.unlockAll(held) })
	}, nil
}

func (m *KeyedMutex) lock(ctx context.Context, key string) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		m.deref(key, e)
		m.mu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

func (m *KeyedMutex) unlockAll(keys []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(keys) - 1; i >= 0; i-- {
		e := m.entries[keys[i]]
		<-e.ch
		m.deref(keys[i], e)
	}
}

func (m *KeyedMutex) deref(key string, e *entry) {
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
