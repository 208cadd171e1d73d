// Package bank keeps per-address, per-denomination balances inside the same
// transactional store as the lottery state, so fund movements commit or roll
// back together with the state change that caused them.
package bank

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/R3E-Network/lottery_layer/internal/app/storage"
	"github.com/R3E-Network/lottery_layer/internal/coin"
)

// Namespace holds every balance entry.
const Namespace = "balance"

var (
	// ErrInsufficientFunds is returned when a sender cannot cover a transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAccount is returned for an empty address.
	ErrInvalidAccount = errors.New("invalid account")
)

// Keeper reads and writes balances through a storage.KV handle supplied by
// the caller's transaction.
type Keeper struct {
	balances storage.Map[coin.Uint]
}

// NewKeeper creates a keeper over the balance namespace.
func NewKeeper() *Keeper {
	return &Keeper{balances: storage.NewMap[coin.Uint](Namespace)}
}

func balanceKey(addr, denom string) []byte {
	key := make([]byte, 0, len(addr)+1+len(denom))
	key = append(key, addr...)
	key = append(key, 0)
	return append(key, denom...)
}

func validate(addr string, amount coin.Coin) error {
	if strings.TrimSpace(addr) == "" {
		return ErrInvalidAccount
	}
	return amount.Validate()
}

// Balance returns the holdings of addr in denom; unknown accounts hold zero.
func (k *Keeper) Balance(ctx context.Context, kv storage.KV, addr, denom string) (coin.Coin, error) {
	amt, err := k.balances.Load(ctx, kv, balanceKey(addr, denom))
	if errors.Is(err, storage.ErrNotFound) {
		return coin.Zero(denom), nil
	}
	if err != nil {
		return coin.Coin{}, err
	}
	return coin.Coin{Denom: denom, Amount: amt}, nil
}

// Mint credits addr with newly created funds.
func (k *Keeper) Mint(ctx context.Context, kv storage.KV, addr string, amount coin.Coin) error {
	if err := validate(addr, amount); err != nil {
		return err
	}
	return k.add(ctx, kv, addr, amount)
}

// Send moves amount from one account to another. A zero amount is a no-op.
func (k *Keeper) Send(ctx context.Context, kv storage.KV, from, to string, amount coin.Coin) error {
	if err := validate(from, amount); err != nil {
		return err
	}
	if err := validate(to, amount); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}

	bal, err := k.Balance(ctx, kv, from, amount.Denom)
	if err != nil {
		return err
	}
	left, err := bal.Sub(amount)
	if err != nil {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientFunds, from, bal, amount)
	}
	if err := k.balances.Save(ctx, kv, balanceKey(from, amount.Denom), left.Amount); err != nil {
		return err
	}
	return k.add(ctx, kv, to, amount)
}

func (k *Keeper) add(ctx context.Context, kv storage.KV, addr string, amount coin.Coin) error {
	bal, err := k.Balance(ctx, kv, addr, amount.Denom)
	if err != nil {
		return err
	}
	sum, err := bal.Add(amount)
	if err != nil {
		return err
	}
	return k.balances.Save(ctx, kv, balanceKey(addr, amount.Denom), sum.Amount)
}
