// Package redis implements storage.Store on a Redis server using optimistic
// transactions.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	goredis "github.com/go-redis/redis/v8"

	"github.com/R3E-Network/lottery_layer/internal/app/storage"
)

const (
	revisionSuffix = "__rev"
	scanBatch      = 256
)

// Store keeps every key under a common prefix. All writers bump a revision
// key and WATCH it, so a concurrent commit aborts the loser with
// storage.ErrConflict.
type Store struct {
	client *goredis.Client
	prefix string
}

var _ storage.Store = (*Store)(nil)

// New wraps an existing client. prefix isolates this store from other users
// of the same database.
func New(client *goredis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Open dials addr and verifies the connection.
func Open(ctx context.Context, addr string, db int, prefix string) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, prefix), nil
}

func (s *Store) revisionKey() string {
	return s.prefix + revisionSuffix
}

// View runs fn against the current state. Reads are not isolated from
// concurrent commits.
func (s *Store) View(ctx context.Context, fn func(storage.KV) error) error {
	return fn(&kv{store: s, cmd: s.client, readOnly: true})
}

// Update buffers writes made by fn and applies them in one MULTI/EXEC.
func (s *Store) Update(ctx context.Context, fn func(storage.KV) error) error {
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		t := &kv{store: s, cmd: tx, pending: make(map[string][]byte), deleted: make(map[string]bool)}
		if err := fn(t); err != nil {
			return err
		}
		if len(t.pending) == 0 && len(t.deleted) == 0 {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			for k := range t.deleted {
				pipe.Del(ctx, k)
			}
			for k, v := range t.pending {
				pipe.Set(ctx, k, v, 0)
			}
			pipe.Incr(ctx, s.revisionKey())
			return nil
		})
		return err
	}, s.revisionKey())
	if errors.Is(err, goredis.TxFailedErr) {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	return err
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// reader is the subset of commands shared by *goredis.Client and *goredis.Tx.
type reader interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *goredis.ScanCmd
}

type kv struct {
	store    *Store
	cmd      reader
	readOnly bool
	pending  map[string][]byte
	deleted  map[string]bool
}

func (t *kv) full(key []byte) string {
	return t.store.prefix + string(key)
}

func (t *kv) Get(ctx context.Context, key []byte) ([]byte, error) {
	k := t.full(key)
	if t.deleted[k] {
		return nil, storage.ErrNotFound
	}
	if v, ok := t.pending[k]; ok {
		return append([]byte(nil), v...), nil
	}
	v, err := t.cmd.Get(ctx, k).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	return v, err
}

func (t *kv) Set(_ context.Context, key, value []byte) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	k := t.full(key)
	delete(t.deleted, k)
	t.pending[k] = append([]byte(nil), value...)
	return nil
}

func (t *kv) Delete(_ context.Context, key []byte) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	k := t.full(key)
	delete(t.pending, k)
	t.deleted[k] = true
	return nil
}

func (t *kv) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	full := t.full(prefix)
	match := escapePattern(full) + "*"

	seen := make(map[string]bool)
	var cursor uint64
	for {
		keys, next, err := t.cmd.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("scan %q: %w", match, err)
		}
		for _, k := range keys {
			if k != t.store.revisionKey() {
				seen[k] = true
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	for k := range t.pending {
		if strings.HasPrefix(k, full) {
			seen[k] = true
		}
	}
	for k := range t.deleted {
		delete(seen, k)
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		raw := []byte(strings.TrimPrefix(k, t.store.prefix))
		v, err := t.Get(ctx, raw)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(raw, v); err != nil {
			return err
		}
	}
	return nil
}

// escapePattern quotes the glob metacharacters understood by SCAN MATCH.
func escapePattern(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\', '^', '-':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
