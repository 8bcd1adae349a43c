package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// ReadJSON reads path and decodes it into a new T.
func ReadJSON[T any](ctx context.Context, s Storage, path string) (*T, error) {
	data, err := s.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &v, nil
}

// WriteJSON encodes v with indentation and writes it to path.
func WriteJSON(ctx context.Context, s Storage, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return s.Write(ctx, path, append(data, '\n'))
}
