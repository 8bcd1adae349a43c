// Package mutexmap serializes operations per key.
//
// Operations sharing a key run one at a time in submission order. Operations
// on different keys run concurrently. An entry lives only while someone holds
// or waits for its key, so the map never grows beyond the set of busy keys.
package mutexmap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kazz187/taskmux/pkg/panicerr"
)

// ErrReentrant is returned when an operation tries to lock a key that the
// same call chain already holds. Waiting would deadlock, so the call is rejected.
var ErrReentrant = errors.New("re-entrant lock")

type MutexMap[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

type entry struct {
	tail chan struct{}
	refs int
}

func New[K comparable]() *MutexMap[K] {
	return &MutexMap[K]{
		entries: make(map[K]*entry),
	}
}

// WithLock runs fn while holding key. The context passed to fn records the
// held key; calling WithLock again for the same key with that context returns
// ErrReentrant instead of blocking forever.
//
// If ctx is cancelled while waiting in the queue, WithLock returns ctx.Err()
// and the queue position is handed on without running fn. A panic in fn is
// recovered and returned as an error after the lock is released.
func (m *MutexMap[K]) WithLock(ctx context.Context, key K, fn func(context.Context) error) error {
	if m.holds(ctx, key) {
		return fmt.Errorf("%w: key %v", ErrReentrant, key)
	}

	wait, release := m.enqueue(key)
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			go func() {
				<-wait
				release()
			}()
			return ctx.Err()
		}
	}
	defer release()

	return panicerr.Call(func() error {
		return fn(withHeld(ctx, m, key))
	})
}

// Do is WithLock for operations that return a value.
func Do[K comparable, T any](ctx context.Context, m *MutexMap[K], key K, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := m.WithLock(ctx, key, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Len returns the number of keys currently held or waited on.
func (m *MutexMap[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// enqueue appends a ticket to key's queue. It returns the channel of the
// previous ticket (nil when the queue was empty) and the release func for
// the new ticket.
func (m *MutexMap[K]) enqueue(key K) (<-chan struct{}, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	prev := e.tail
	done := make(chan struct{})
	e.tail = done
	e.refs++

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(done)
			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.entries, key)
			}
			m.mu.Unlock()
		})
	}
	return prev, release
}

type heldKeyCtx[K comparable] struct{}

type heldKey[K comparable] struct {
	owner  *MutexMap[K]
	key    K
	parent *heldKey[K]
}

func withHeld[K comparable](ctx context.Context, m *MutexMap[K], key K) context.Context {
	parent, _ := ctx.Value(heldKeyCtx[K]{}).(*heldKey[K])
	return context.WithValue(ctx, heldKeyCtx[K]{}, &heldKey[K]{owner: m, key: key, parent: parent})
}

func (m *MutexMap[K]) holds(ctx context.Context, key K) bool {
	h, _ := ctx.Value(heldKeyCtx[K]{}).(*heldKey[K])
	for ; h != nil; h = h.parent {
		if h.owner == m && h.key == key {
			return true
		}
	}
	return false
}
