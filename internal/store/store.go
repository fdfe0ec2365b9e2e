package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"secretly.share/internal/models"
)

// ErrNotFound covers absent, exhausted and expired secrets alike.
var ErrNotFound = errors.New("secret not found")

// StorageError wraps an infrastructure failure. A failed Create leaves no
// record behind and a failed Consume leaves the view counter untouched,
// so callers may retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// blob keeps an empty payload from being bound as SQL NULL.
func blob(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// IsStorageError reports whether err is (or wraps) a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Store persists secrets with consume-on-read semantics. Every
// implementation guarantees that among concurrent Consume calls for one
// id at most one returns the payload.
type Store interface {
	Create(ctx context.Context, ciphertext, iv []byte) (id string, err error)
	Consume(ctx context.Context, id string) (*models.Payload, error)
	// Sweep deletes non-retrievable secrets created more than retention ago.
	Sweep(ctx context.Context, retention time.Duration) (deleted int64, err error)
	Ping(ctx context.Context) error
	Close() error
}

// createAttempts bounds retries on primary key collisions.
const createAttempts = 3

var (
	errDuplicateID = errors.New("duplicate id")
	errClosed      = errors.New("store closed")
)
