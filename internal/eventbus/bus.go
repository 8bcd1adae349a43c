// Package eventbus is a keyed, typed publish/subscribe bus.
//
// Each subscription owns a buffered channel. When the buffer is full the
// oldest pending message is dropped to make room, so a subscription with a
// buffer of 1 always holds the latest snapshot.
package eventbus

import (
	"sync"

	"github.com/oklog/ulid/v2"
)

type subscriber[T any] struct {
	key string // empty means every key
	ch  chan T
}

type Bus[T any] struct {
	mu          sync.Mutex
	bufSize     int
	subscribers map[string]*subscriber[T]
}

func New[T any](bufSize int) *Bus[T] {
	if bufSize < 1 {
		bufSize = 1
	}
	return &Bus[T]{
		bufSize:     bufSize,
		subscribers: make(map[string]*subscriber[T]),
	}
}

// Subscribe returns a subscription id and a channel receiving messages
// published under key.
func (b *Bus[T]) Subscribe(key string) (string, <-chan T) {
	return b.subscribe(key)
}

// SubscribeAll receives messages for every key.
func (b *Bus[T]) SubscribeAll() (string, <-chan T) {
	return b.subscribe("")
}

func (b *Bus[T]) subscribe(key string) (string, <-chan T) {
	id := ulid.Make().String()
	sub := &subscriber[T]{key: key, ch: make(chan T, b.bufSize)}
	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()
	return id, sub.ch
}

func (b *Bus[T]) Unsubscribe(id string) {
	b.mu.Lock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Publish never blocks. Publishing holds the bus lock for the whole fan-out,
// so every subscriber observes messages in publish order.
func (b *Bus[T]) Publish(key string, msg T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers {
		if sub.key != "" && sub.key != key {
			continue
		}
		for {
			select {
			case sub.ch <- msg:
			default:
				// Full: drop the oldest and retry.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// CloseKey closes every subscription bound to key.
func (b *Bus[T]) CloseKey(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		if sub.key == key {
			close(sub.ch)
			delete(b.subscribers, id)
		}
	}
}

func (b *Bus[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
