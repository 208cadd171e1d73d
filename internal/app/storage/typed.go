package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Item is a single JSON value stored under its namespace.
type Item[T any] struct {
	namespace string
}

// NewItem declares an item stored under namespace.
func NewItem[T any](namespace string) Item[T] {
	return Item[T]{namespace: namespace}
}

// Key returns the raw storage key of the item.
func (i Item[T]) Key() []byte {
	return []byte(i.namespace)
}

// Load reads the item; a missing item yields an error wrapping ErrNotFound.
func (i Item[T]) Load(ctx context.Context, kv KV) (T, error) {
	var out T
	raw, err := kv.Get(ctx, i.Key())
	if err != nil {
		return out, fmt.Errorf("load %s: %w", i.namespace, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", i.namespace, err)
	}
	return out, nil
}

// Exists reports whether the item has been saved.
func (i Item[T]) Exists(ctx context.Context, kv KV) (bool, error) {
	_, err := kv.Get(ctx, i.Key())
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", i.namespace, err)
	}
	return true, nil
}

// Save writes the item.
func (i Item[T]) Save(ctx context.Context, kv KV, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", i.namespace, err)
	}
	if err := kv.Set(ctx, i.Key(), raw); err != nil {
		return fmt.Errorf("save %s: %w", i.namespace, err)
	}
	return nil
}

// Map is a keyed collection of JSON values sharing a namespace. Keys are
// length-prefixed by the namespace so distinct namespaces never collide.
type Map[T any] struct {
	namespace string
	prefix    []byte
}

// NewMap declares a map stored under namespace.
func NewMap[T any](namespace string) Map[T] {
	return Map[T]{namespace: namespace, prefix: NamespacePrefix(namespace)}
}

// NamespacePrefix returns the 2-byte big-endian length of ns followed by ns.
func NamespacePrefix(ns string) []byte {
	out := make([]byte, 2, 2+len(ns))
	binary.BigEndian.PutUint16(out, uint16(len(ns)))
	return append(out, ns...)
}

// Key returns the raw storage key for k.
func (m Map[T]) Key(k []byte) []byte {
	out := make([]byte, 0, len(m.prefix)+len(k))
	out = append(out, m.prefix...)
	return append(out, k...)
}

// Load reads the value at k; a missing entry yields an error wrapping ErrNotFound.
func (m Map[T]) Load(ctx context.Context, kv KV, k []byte) (T, error) {
	var out T
	raw, err := kv.Get(ctx, m.Key(k))
	if err != nil {
		return out, fmt.Errorf("load %s: %w", m.namespace, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", m.namespace, err)
	}
	return out, nil
}

// Has reports whether an entry exists at k.
func (m Map[T]) Has(ctx context.Context, kv KV, k []byte) (bool, error) {
	_, err := kv.Get(ctx, m.Key(k))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", m.namespace, err)
	}
	return true, nil
}

// Save writes v at k.
func (m Map[T]) Save(ctx context.Context, kv KV, k []byte, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.namespace, err)
	}
	if err := kv.Set(ctx, m.Key(k), raw); err != nil {
		return fmt.Errorf("save %s: %w", m.namespace, err)
	}
	return nil
}

// Remove deletes the entry at k.
func (m Map[T]) Remove(ctx context.Context, kv KV, k []byte) error {
	if err := kv.Delete(ctx, m.Key(k)); err != nil {
		return fmt.Errorf("delete %s: %w", m.namespace, err)
	}
	return nil
}

// Range visits entries in ascending key order, starting strictly after
// startAfter when it is non-nil. Returning ErrStopIteration from fn ends the
// scan without error.
func (m Map[T]) Range(ctx context.Context, kv KV, startAfter []byte, fn func(k []byte, v T) error) error {
	err := kv.Iterate(ctx, m.prefix, func(key, value []byte) error {
		k := key[len(m.prefix):]
		if startAfter != nil && bytes.Compare(k, startAfter) <= 0 {
			return nil
		}
		var v T
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("decode %s: %w", m.namespace, err)
		}
		return fn(k, v)
	})
	if errors.Is(err, ErrStopIteration) {
		return nil
	}
	return err
}

// U64Key encodes n big-endian so numeric and byte order agree.
func U64Key(n uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, n)
	return out
}

// ParseU64Key decodes a key written by U64Key.
func ParseU64Key(k []byte) (uint64, error) {
	if len(k) != 8 {
		return 0, fmt.Errorf("u64 key: want 8 bytes, got %d", len(k))
	}
	return binary.BigEndian.Uint64(k), nil
}

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
