// Package storagetest holds behaviour checks shared by every storage.Store
// backend.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/R3E-Network/lottery_layer/internal/app/storage"
)

// Run exercises the transactional contract of a fresh, empty store.
func Run(t *testing.T, store storage.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		err := store.View(ctx, func(kv storage.KV) error {
			_, err := kv.Get(ctx, []byte("absent"))
			return err
		})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("commit", func(t *testing.T) {
		if err := store.Update(ctx, func(kv storage.KV) error {
			return kv.Set(ctx, []byte("a"), []byte("1"))
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
		var got []byte
		if err := store.View(ctx, func(kv storage.KV) error {
			var err error
			got, err = kv.Get(ctx, []byte("a"))
			return err
		}); err != nil {
			t.Fatalf("view: %v", err)
		}
		if string(got) != "1" {
			t.Fatalf("expected 1, got %q", got)
		}
	})

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.Update(ctx, func(kv storage.KV) error {
			if err := kv.Set(ctx, []byte("a"), []byte("2")); err != nil {
				return err
			}
			if err := kv.Set(ctx, []byte("b"), []byte("2")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		_ = store.View(ctx, func(kv storage.KV) error {
			if v, _ := kv.Get(ctx, []byte("a")); string(v) != "1" {
				t.Fatalf("write to a leaked: %q", v)
			}
			if _, err := kv.Get(ctx, []byte("b")); !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("write to b leaked: %v", err)
			}
			return nil
		})
	})

	t.Run("read your writes", func(t *testing.T) {
		err := store.Update(ctx, func(kv storage.KV) error {
			if err := kv.Set(ctx, []byte("c"), []byte("3")); err != nil {
				return err
			}
			v, err := kv.Get(ctx, []byte("c"))
			if err != nil {
				return err
			}
			if string(v) != "3" {
				t.Fatalf("expected pending write, got %q", v)
			}
			if err := kv.Delete(ctx, []byte("c")); err != nil {
				return err
			}
			if _, err := kv.Get(ctx, []byte("c")); !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("expected deleted key to be gone, got %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
	})

	t.Run("ordered iteration", func(t *testing.T) {
		err := store.Update(ctx, func(kv storage.KV) error {
			for _, k := range []string{"p/3", "p/1", "q/1", "p/2"} {
				if err := kv.Set(ctx, []byte(k), []byte(k)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}

		var keys []string
		err = store.View(ctx, func(kv storage.KV) error {
			return kv.Iterate(ctx, []byte("p/"), func(key, _ []byte) error {
				keys = append(keys, string(key))
				return nil
			})
		})
		if err != nil {
			t.Fatalf("iterate: %v", err)
		}
		want := []string{"p/1", "p/2", "p/3"}
		if len(keys) != len(want) {
			t.Fatalf("expected %v, got %v", want, keys)
		}
		for i := range want {
			if keys[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, keys)
			}
		}
	})

	t.Run("view is read-only", func(t *testing.T) {
		err := store.View(ctx, func(kv storage.KV) error {
			return kv.Set(ctx, []byte("x"), []byte("y"))
		})
		if err == nil {
			t.Fatal("expected write inside View to fail")
		}
	})
}
