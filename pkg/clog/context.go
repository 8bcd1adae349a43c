package clog

import (
	"context"
	"maps"
	"sync"
)

const (
	ErrorAttributeKey = "error.message"
	StackAttributeKey = "error.stack"
)

// attributeSet collects attributes over the life of one request or task.
// It is shared by every context derived from the one ContextWithSlog
// returned, so attributes added deep in a call are visible to the log line
// written by the outermost middleware.
type attributeSet struct {
	mu    sync.RWMutex
	attrs map[string]any
}

type attributeSetKey struct{}

func ContextWithSlog(ctx context.Context) context.Context {
	return context.WithValue(ctx, attributeSetKey{}, &attributeSet{attrs: map[string]any{}})
}

func setFrom(ctx context.Context) *attributeSet {
	s, _ := ctx.Value(attributeSetKey{}).(*attributeSet)
	return s
}

// AddAttribute is a no-op on a context without an attribute set.
func AddAttribute(ctx context.Context, key string, value any) {
	s := setFrom(ctx)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[key] = value
}

// AddAttributes merges attributes into the set. Nested maps are merged
// key by key instead of replaced.
func AddAttributes(ctx context.Context, attributes map[string]any) {
	s := setFrom(ctx)
	if s == nil || len(attributes) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mergeMaps(s.attrs, attributes)
}

func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		if existing, ok := dst[k].(map[string]any); ok {
			mergeMaps(existing, sub)
			continue
		}
		dst[k] = sub
	}
}

// GetAttribute returns the zero T when key is missing or holds another type.
func GetAttribute[T any](ctx context.Context, key string) T {
	var zero T
	s := setFrom(ctx)
	if s == nil {
		return zero
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.attrs[key].(T)
	if !ok {
		return zero
	}
	return v
}

// GetAttributes returns a shallow copy of the set, or nil.
func GetAttributes(ctx context.Context) map[string]any {
	s := setFrom(ctx)
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.attrs)
}

func AddError(ctx context.Context, err error) {
	AddAttribute(ctx, ErrorAttributeKey, err)
}

func GetError(ctx context.Context) error {
	return GetAttribute[error](ctx, ErrorAttributeKey)
}

func AddStack(ctx context.Context, stack string) {
	AddAttribute(ctx, StackAttributeKey, stack)
}

func GetStack(ctx context.Context) string {
	return GetAttribute[string](ctx, StackAttributeKey)
}
