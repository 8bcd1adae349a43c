package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Read(ctx, "ws-1/missing.json")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Write(ctx, "ws-1/tasks/b.yaml", []byte("b")))
	require.NoError(t, s.Write(ctx, "ws-1/tasks/a.yaml", []byte("a")))
	require.NoError(t, s.Write(ctx, "ws-1/tasks/a.yaml", []byte("a2")))

	data, err := s.Read(ctx, "ws-1/tasks/a.yaml")
	require.NoError(t, err)
	assert.Equal(t, "a2", string(data))

	paths, err := s.List(ctx, "ws-1/tasks")
	require.NoError(t, err)
	assert.Equal(t, []string{"ws-1/tasks/a.yaml", "ws-1/tasks/b.yaml"}, paths)

	ok, err := s.Exists(ctx, "ws-1/tasks/b.yaml")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "ws-1/tasks/b.yaml"))
	require.ErrorIs(t, s.Delete(ctx, "ws-1/tasks/b.yaml"), ErrNotFound)

	paths, err = s.List(ctx, "nothing-here")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestLocalStorage_StaysInsideRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewLocalStorage(root)
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "../../escape.txt", []byte("x")))
	ok, err := s.Exists(ctx, "escape.txt")
	require.NoError(t, err)
	assert.True(t, ok, "parent references are clamped to the root")
}

func TestJSONHelpers(t *testing.T) {
	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, WriteJSON(ctx, s, "d.json", doc{Name: "x", Count: 2}))
	got, err := ReadJSON[doc](ctx, s, "d.json")
	require.NoError(t, err)
	assert.Equal(t, &doc{Name: "x", Count: 2}, got)

	_, err = ReadJSON[doc](ctx, s, "nope.json")
	assert.ErrorIs(t, err, ErrNotFound)
}
