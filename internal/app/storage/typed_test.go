package storage_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/R3E-Network/lottery_layer/internal/app/storage"
	"github.com/R3E-Network/lottery_layer/internal/app/storage/memory"
)

type record struct {
	Name string `json:"name"`
}

func TestItem(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	item := storage.NewItem[record]("config")

	err := store.View(ctx, func(kv storage.KV) error {
		_, err := item.Load(ctx, kv)
		return err
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Update(ctx, func(kv storage.KV) error {
		return item.Save(ctx, kv, record{Name: "first"})
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	_ = store.View(ctx, func(kv storage.KV) error {
		ok, err := item.Exists(ctx, kv)
		if err != nil || !ok {
			t.Fatalf("exists = %v, %v", ok, err)
		}
		got, err := item.Load(ctx, kv)
		if err != nil || got.Name != "first" {
			t.Fatalf("load = %+v, %v", got, err)
		}
		return nil
	})
}

func TestMapNamespacesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	a := storage.NewMap[record]("ab")
	b := storage.NewMap[record]("a")

	err := store.Update(ctx, func(kv storage.KV) error {
		if err := a.Save(ctx, kv, []byte("c"), record{Name: "a"}); err != nil {
			return err
		}
		return b.Save(ctx, kv, []byte("bc"), record{Name: "b"})
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if bytes.Equal(a.Key([]byte("c")), b.Key([]byte("bc"))) {
		t.Fatal("keys from different namespaces collide")
	}

	var names []string
	_ = store.View(ctx, func(kv storage.KV) error {
		return b.Range(ctx, kv, nil, func(_ []byte, v record) error {
			names = append(names, v.Name)
			return nil
		})
	})
	if len(names) != 1 || names[0] != "b" {
		t.Fatalf("expected only namespace b entries, got %v", names)
	}
}

func TestMapRangeOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	history := storage.NewMap[uint64]("round_history")

	err := store.Update(ctx, func(kv storage.KV) error {
		for _, id := range []uint64{300, 2, 1, 256} {
			if err := history.Save(ctx, kv, storage.U64Key(id), id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	var ids []uint64
	_ = store.View(ctx, func(kv storage.KV) error {
		return history.Range(ctx, kv, storage.U64Key(1), func(k []byte, v uint64) error {
			id, err := storage.ParseU64Key(k)
			if err != nil {
				return err
			}
			if id != v {
				t.Fatalf("key %d holds %d", id, v)
			}
			ids = append(ids, id)
			if len(ids) == 2 {
				return storage.ErrStopIteration
			}
			return nil
		})
	})
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 256 {
		t.Fatalf("expected [2 256], got %v", ids)
	}
}

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		in   []byte
		want []byte
	}{
		{[]byte("ab"), []byte("ac")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, tc := range tests {
		if got := storage.PrefixEnd(tc.in); !bytes.Equal(got, tc.want) {
			t.Errorf("PrefixEnd(%x) = %x, want %x", tc.in, got, tc.want)
		}
	}
}

func TestMapRemove(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := storage.NewMap[record]("winners")
	key := storage.U64Key(7)

	if err := store.Update(ctx, func(kv storage.KV) error {
		if err := m.Save(ctx, kv, key, record{Name: "seven"}); err != nil {
			return err
		}
		return m.Save(ctx, kv, storage.U64Key(8), record{Name: "eight"})
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := store.Update(ctx, func(kv storage.KV) error {
		return m.Remove(ctx, kv, key)
	}); err != nil {
		t.Fatalf("remove: %v", err)
	}

	_ = store.View(ctx, func(kv storage.KV) error {
		ok, err := m.Has(ctx, kv, key)
		if err != nil || ok {
			t.Fatalf("has after remove = %v, %v", ok, err)
		}
		if _, err := m.Load(ctx, kv, key); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		ok, err = m.Has(ctx, kv, storage.U64Key(8))
		if err != nil || !ok {
			t.Fatalf("sibling entry lost: %v, %v", ok, err)
		}
		return nil
	})

	// removing a missing key is not an error
	if err := store.Update(ctx, func(kv storage.KV) error {
		return m.Remove(ctx, kv, key)
	}); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}
