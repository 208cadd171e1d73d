package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by KV.Get when the key is absent.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned by Store.Update when a concurrent writer won.
	ErrConflict = errors.New("storage: transaction conflict")
	// ErrReadOnly is returned when a View transaction attempts a write.
	ErrReadOnly = errors.New("storage: read-only transaction")
	// ErrClosed is returned once the store has been closed.
	ErrClosed = errors.New("storage: closed")
	// ErrStopIteration may be returned from an Iterate callback to end the
	// scan early without failing the call.
	ErrStopIteration = errors.New("storage: stop iteration")
)

// KV is the view of the store inside a single transaction.
type KV interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	// Iterate visits every key with the given prefix in ascending byte order.
	// Writes made earlier in the same transaction are visible.
	Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error
}

// Store runs transactions against a byte-keyed persistence backend.
//
// Update commits every write made by fn atomically, or none of them if fn
// returns an error. Writers are serialized; readers never observe a
// partially applied Update.
type Store interface {
	View(ctx context.Context, fn func(KV) error) error
	Update(ctx context.Context, fn func(KV) error) error
	Close() error
}
