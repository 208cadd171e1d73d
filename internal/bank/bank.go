package bank

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/lottery_layer/internal/app/storage"
	"github.com/R3E-Network/lottery_layer/internal/coin"
	"github.com/R3E-Network/lottery_layer/pkg/logger"
)

// Grant is an initial balance assigned at start-up.
type Grant struct {
	Address string
	Amount  coin.Coin
}

// genesisMarker records that genesis grants were minted, so restarting over a
// persistent store does not credit them twice.
var genesisMarker = storage.NewItem[int64]("bank_genesis")

// Bank runs standalone balance operations in their own transactions.
type Bank struct {
	store  storage.Store
	keeper *Keeper
	log    *logger.Logger
}

// New creates a bank over store.
func New(store storage.Store, keeper *Keeper, log *logger.Logger) *Bank {
	if keeper == nil {
		keeper = NewKeeper()
	}
	if log == nil {
		log = logger.NewDefault("bank")
	}
	return &Bank{store: store, keeper: keeper, log: log}
}

// Keeper returns the keeper shared with in-transaction callers.
func (b *Bank) Keeper() *Keeper {
	return b.keeper
}

// Balance returns the committed holdings of addr in denom.
func (b *Bank) Balance(ctx context.Context, addr, denom string) (coin.Coin, error) {
	var out coin.Coin
	err := b.store.View(ctx, func(kv storage.KV) error {
		var err error
		out, err = b.keeper.Balance(ctx, kv, addr, denom)
		return err
	})
	return out, err
}

// Genesis credits every grant in a single transaction. It runs at most once
// per store; later calls return false without touching balances.
func (b *Bank) Genesis(ctx context.Context, grants []Grant) (bool, error) {
	if len(grants) == 0 {
		return false, nil
	}
	applied := false
	err := b.store.Update(ctx, func(kv storage.KV) error {
		done, err := genesisMarker.Exists(ctx, kv)
		if err != nil || done {
			return err
		}
		for _, g := range grants {
			if err := b.keeper.Mint(ctx, kv, g.Address, g.Amount); err != nil {
				return fmt.Errorf("grant %s to %s: %w", g.Amount, g.Address, err)
			}
		}
		applied = true
		return genesisMarker.Save(ctx, kv, int64(len(grants)))
	})
	if err != nil {
		return false, err
	}
	if applied {
		b.log.WithFields(logrus.Fields{"grants": len(grants)}).Info("genesis balances applied")
	}
	return applied, nil
}

// Transfer moves funds between two accounts outside of any lottery operation.
func (b *Bank) Transfer(ctx context.Context, from, to string, amount coin.Coin) error {
	err := b.store.Update(ctx, func(kv storage.KV) error {
		return b.keeper.Send(ctx, kv, from, to, amount)
	})
	if err != nil {
		b.log.WithError(err).WithField("from", from).WithField("to", to).Warn("transfer rejected")
		return err
	}
	return nil
}
