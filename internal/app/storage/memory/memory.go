package memory

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/R3E-Network/lottery_layer/internal/app/storage"
)

// Store is an in-memory implementation of storage.Store. It is safe for
// concurrent use and is primarily intended for tests and local development.
type Store struct {
	writer sync.Mutex // serializes Update

	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// View runs fn against the committed state.
func (s *Store) View(ctx context.Context, fn func(storage.KV) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return fn(&txn{store: s, readOnly: true})
}

// Update runs fn with exclusive write access. Writes are buffered and only
// applied when fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(storage.KV) error) error {
	s.writer.Lock()
	defer s.writer.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	tx := &txn{store: s, pending: make(map[string][]byte), deleted: make(map[string]bool)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range tx.deleted {
		delete(s.data, k)
	}
	for k, v := range tx.pending {
		s.data[k] = v
	}
	return nil
}

// Close releases the store. Further transactions fail with storage.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of committed keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

func (s *Store) committed(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *Store) committedWithPrefix(prefix string) map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte)
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}

type txn struct {
	store    *Store
	readOnly bool
	pending  map[string][]byte
	deleted  map[string]bool
}

func (t *txn) Get(_ context.Context, key []byte) ([]byte, error) {
	k := string(key)
	if !t.readOnly {
		if t.deleted[k] {
			return nil, storage.ErrNotFound
		}
		if v, ok := t.pending[k]; ok {
			return bytes.Clone(v), nil
		}
	}
	v, ok := t.store.committed(k)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (t *txn) Set(_ context.Context, key, value []byte) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	k := string(key)
	delete(t.deleted, k)
	t.pending[k] = bytes.Clone(value)
	return nil
}

func (t *txn) Delete(_ context.Context, key []byte) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	k := string(key)
	delete(t.pending, k)
	t.deleted[k] = true
	return nil
}

func (t *txn) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)
	merged := t.store.committedWithPrefix(p)
	if !t.readOnly {
		for k := range t.deleted {
			delete(merged, k)
		}
		for k, v := range t.pending {
			if strings.HasPrefix(k, p) {
				merged[k] = v
			}
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn([]byte(k), bytes.Clone(merged[k])); err != nil {
			return err
		}
	}
	return nil
}
