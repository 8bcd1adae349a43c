package cerr

import (
	"context"
	"errors"
	"fmt"

	"github.com/kazz187/taskmux/pkg/storage"
)

type storageOp string

const (
	storageRead   storageOp = "read"
	storageWrite  storageOp = "write"
	storageDelete storageOp = "delete"
)

func WrapStorageReadError(target string, err error) error {
	return wrapStorage(storageRead, target, err)
}

func WrapStorageWriteError(target string, err error) error {
	return wrapStorage(storageWrite, target, err)
}

func WrapStorageDeleteError(target string, err error) error {
	return wrapStorage(storageDelete, target, err)
}

// wrapStorage classifies a storage or workspace-lock failure. A missing
// object is only NotFound for reads and deletes; a write that hits it means
// the layout is broken. Errors that already carry a code keep it.
func wrapStorage(op storageOp, target string, err error) error {
	if err == nil {
		return nil
	}
	var coded *Error
	switch {
	case storage.IsNotFound(err) && op != storageWrite:
		return NewError(NotFound, fmt.Sprintf("%s not found", target), err)
	case errors.Is(err, context.Canceled):
		return NewError(Canceled, fmt.Sprintf("%s of %s canceled", op, target), err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(DeadlineExceeded, fmt.Sprintf("%s of %s timed out", op, target), err)
	case errors.As(err, &coded):
		return err
	}
	return NewError(Internal, "server error", fmt.Errorf("failed to %s %s: %w", op, target, err))
}
