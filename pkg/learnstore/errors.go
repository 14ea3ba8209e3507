package learnstore

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable reports a backing file that is missing, unreadable,
	// unwritable or malformed.
	ErrStorageUnavailable = errors.New("learnstore: storage unavailable")

	// ErrSessionNotFound is returned by operations that require the session to exist.
	ErrSessionNotFound = errors.New("learnstore: session not found")

	// ErrInvalidSessionID is returned by SetInfo for empty session IDs or IDs containing control characters.
	ErrInvalidSessionID = errors.New("learnstore: invalid session id")

	// ErrInvalidSubscriber is returned for an empty subscriber ID.
	ErrInvalidSubscriber = errors.New("learnstore: invalid subscriber id")
)

// StorageError carries the failing I/O step and its cause.
// errors.Is(err, ErrStorageUnavailable) holds for every StorageError.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrStorageUnavailable, e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

func storageError(op, path string, err error) error {
	return &StorageError{Op: op, Path: path, Err: err}
}
