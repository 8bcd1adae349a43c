package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/kazz187/taskmux/pkg/cerr"
	"github.com/kazz187/taskmux/pkg/mutexmap"
	"github.com/kazz187/taskmux/pkg/storage"
)

const stateFile = "harness-state.json"

// State is the loop's persisted progress, so a restarted loop picks up
// where it stopped.
type State struct {
	Iteration int `json:"iteration"`
	// Done lists completed item ids.
	Done []string `json:"done"`
	// Attempts counts implementation attempts per item id.
	Attempts    map[string]int `json:"attempts,omitempty"`
	LastFailure string         `json:"lastFailure,omitempty"`
	Running     bool           `json:"running"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func StatePath(workspaceID string) string {
	return fmt.Sprintf("%s/%s", workspaceID, stateFile)
}

type stateStore struct {
	storage storage.Storage
	locks   *mutexmap.MutexMap[string]
}

func (s *stateStore) load(ctx context.Context, workspaceID string) (*State, error) {
	st, err := storage.ReadJSON[State](ctx, s.storage, StatePath(workspaceID))
	if err != nil {
		if storage.IsNotFound(err) {
			return &State{Attempts: map[string]int{}}, nil
		}
		return nil, cerr.WrapStorageReadError("harness state", err)
	}
	if st.Attempts == nil {
		st.Attempts = map[string]int{}
	}
	return st, nil
}

func (s *stateStore) save(ctx context.Context, workspaceID string, st *State) error {
	err := s.locks.WithLock(ctx, workspaceID, func(ctx context.Context) error {
		return storage.WriteJSON(ctx, s.storage, StatePath(workspaceID), st)
	})
	if err != nil {
		return cerr.WrapStorageWriteError("harness state", err)
	}
	return nil
}

// LoadState returns the persisted progress of workspaceID.
func LoadState(ctx context.Context, s storage.Storage, workspaceID string) (*State, error) {
	return (&stateStore{storage: s}).load(ctx, workspaceID)
}

// ResetState forgets the persisted progress of workspaceID.
func ResetState(ctx context.Context, s storage.Storage, locks *mutexmap.MutexMap[string], workspaceID string) error {
	err := locks.WithLock(ctx, workspaceID, func(ctx context.Context) error {
		return s.Delete(ctx, StatePath(workspaceID))
	})
	if err != nil && !storage.IsNotFound(err) {
		return cerr.WrapStorageDeleteError("harness state", err)
	}
	return nil
}
