package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/lottery_layer/internal/app/storage"
)

// writerLockID is the advisory lock key taken by every Update.
const writerLockID int64 = 0x6c6f7474 // "lott"

const (
	getQuery     = `SELECT value FROM lottery_kv WHERE key = $1`
	setQuery     = `INSERT INTO lottery_kv (key, value, updated_at) VALUES ($1, $2, now()) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	deleteQuery  = `DELETE FROM lottery_kv WHERE key = $1`
	rangeQuery   = `SELECT key, value FROM lottery_kv WHERE key >= $1 AND key < $2 ORDER BY key`
	openQuery    = `SELECT key, value FROM lottery_kv WHERE key >= $1 ORDER BY key`
	lockQuery    = `SELECT pg_advisory_xact_lock($1)`
	serialFailed = "40001"
)

// Store implements storage.Store backed by a single PostgreSQL table.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn using the lib/pq driver.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(db), nil
}

// DB exposes the handle for migrations.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// View runs fn inside a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(storage.KV) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin view: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&kv{tx: tx, readOnly: true}); err != nil {
		return err
	}
	return tx.Commit()
}

// Update runs fn inside a serializable transaction holding the writer lock.
func (s *Store) Update(ctx context.Context, fn func(storage.KV) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, lockQuery, writerLockID); err != nil {
		return fmt.Errorf("acquire writer lock: %w", translate(err))
	}
	if err := fn(&kv{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", translate(err))
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type kv struct {
	tx       *sqlx.Tx
	readOnly bool
}

func (k *kv) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte
	if err := k.tx.GetContext(ctx, &value, getQuery, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, translate(err)
	}
	return value, nil
}

func (k *kv) Set(ctx context.Context, key, value []byte) error {
	if k.readOnly {
		return storage.ErrReadOnly
	}
	_, err := k.tx.ExecContext(ctx, setQuery, key, value)
	return translate(err)
}

func (k *kv) Delete(ctx context.Context, key []byte) error {
	if k.readOnly {
		return storage.ErrReadOnly
	}
	_, err := k.tx.ExecContext(ctx, deleteQuery, key)
	return translate(err)
}

type row struct {
	Key   []byte `db:"key"`
	Value []byte `db:"value"`
}

// Iterate loads the whole range before invoking fn so callbacks may issue
// further queries on the same transaction.
func (k *kv) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	var rows []row
	var err error
	if end := storage.PrefixEnd(prefix); end != nil {
		err = k.tx.SelectContext(ctx, &rows, rangeQuery, prefix, end)
	} else {
		err = k.tx.SelectContext(ctx, &rows, openQuery, prefix)
	}
	if err != nil {
		return translate(err)
	}
	for _, r := range rows {
		if err := fn(r.Key, r.Value); err != nil {
			return err
		}
	}
	return nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == serialFailed {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	return err
}
