package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](ch <-chan T) []T {
	var out []T
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestBus_LatestWins(t *testing.T) {
	b := New[int](1)
	_, ch := b.Subscribe("ws")

	for i := range 5 {
		b.Publish("ws", i)
	}
	assert.Equal(t, []int{4}, drain(ch))
}

func TestBus_DropsOldest(t *testing.T) {
	b := New[int](3)
	_, ch := b.Subscribe("ws")

	for i := range 5 {
		b.Publish("ws", i)
	}
	assert.Equal(t, []int{2, 3, 4}, drain(ch))
}

func TestBus_KeyRouting(t *testing.T) {
	b := New[string](4)
	_, a := b.Subscribe("a")
	_, other := b.Subscribe("b")
	_, all := b.SubscribeAll()

	b.Publish("a", "one")
	b.Publish("b", "two")

	assert.Equal(t, []string{"one"}, drain(a))
	assert.Equal(t, []string{"two"}, drain(other))
	assert.Equal(t, []string{"one", "two"}, drain(all))
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New[int](1)
	id, ch := b.Subscribe("ws")
	b.Unsubscribe(id)
	b.Unsubscribe(id)

	_, ok := <-ch
	require.False(t, ok)
	b.Publish("ws", 1)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBus_CloseKey(t *testing.T) {
	b := New[int](1)
	_, ch := b.Subscribe("ws")
	_, keep := b.Subscribe("other")

	b.CloseKey("ws")
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish("other", 9)
	assert.Equal(t, []int{9}, drain(keep))
}
