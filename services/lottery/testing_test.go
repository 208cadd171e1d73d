package lottery

import (
	"context"
	"reflect"
	"testing"

	"github.com/R3E-Network/lottery_layer/internal/app/storage"
	"github.com/R3E-Network/lottery_layer/internal/app/storage/memory"
	"github.com/R3E-Network/lottery_layer/internal/bank"
	"github.com/R3E-Network/lottery_layer/internal/coin"
	"github.com/R3E-Network/lottery_layer/pkg/logger"
	"github.com/R3E-Network/lottery_layer/pkg/testutil"
)

// startTime is the block time the golden selection vectors are pinned to.
const startTime uint64 = 1571797419

type fixture struct {
	ctx      context.Context
	svc      *Service
	store    *memory.Store
	keeper   *bank.Keeper
	admin    string
	escrow   string
	players  []string
	price    coin.Coin
	duration uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithBank(t, nil)
}

func newFixtureWithBank(t *testing.T, wrap func(Bank) Bank) *fixture {
	t.Helper()
	return newFixtureWithPrice(t, coin.New(1, "orai"), wrap)
}

// newFixtureWithPrice builds an instantiated lottery. wrap, when set, decorates
// the real keeper before it is handed to the service.
func newFixtureWithPrice(t *testing.T, price coin.Coin, wrap func(Bank) Bank) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		store:    memory.New(),
		keeper:   bank.NewKeeper(),
		admin:    testutil.Address(900),
		escrow:   testutil.Address(901),
		players:  testutil.Addresses(10),
		price:    price,
		duration: 1000,
	}

	var b Bank = f.keeper
	if wrap != nil {
		b = wrap(b)
	}
	f.svc = New(f.store, b, logger.Discard())

	err := f.store.Update(f.ctx, func(kv storage.KV) error {
		for _, p := range f.players {
			if err := f.keeper.Mint(f.ctx, kv, p, coin.New(100, "orai")); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	admin := f.admin
	_, err = f.svc.Instantiate(f.ctx, f.env(startTime), MessageInfo{Sender: f.admin}, InstantiateMsg{
		Admin:         &admin,
		TicketPrice:   f.price,
		RoundDuration: f.duration,
	})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	return f
}

func (f *fixture) env(now uint64) Env {
	return Env{Time: now, Contract: f.escrow}
}

func (f *fixture) buy(t *testing.T, sender string) TicketReceipt {
	t.Helper()
	receipt, err := f.svc.BuyTicket(f.ctx, f.env(startTime+1), MessageInfo{
		Sender: sender,
		Funds:  []coin.Coin{f.price},
	})
	if err != nil {
		t.Fatalf("buy ticket for %s: %v", sender, err)
	}
	return receipt
}

func (f *fixture) round(t *testing.T) Round {
	t.Helper()
	r, err := f.svc.CurrentRound(f.ctx)
	if err != nil {
		t.Fatalf("current round: %v", err)
	}
	return r
}

func (f *fixture) balance(t *testing.T, addr string) string {
	t.Helper()
	var out coin.Coin
	err := f.store.View(f.ctx, func(kv storage.KV) error {
		var err error
		out, err = f.keeper.Balance(f.ctx, kv, addr, "orai")
		return err
	})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return out.Amount.String()
}

func assertRoundUnchanged(t *testing.T, before, after Round) {
	t.Helper()
	if before.ID != after.ID ||
		!before.TotalFunds.Equal(after.TotalFunds) ||
		before.StartTime != after.StartTime ||
		!reflect.DeepEqual(before.Participants, after.Participants) {
		t.Fatalf("round mutated: before %+v, after %+v", before, after)
	}
}

type countingRecorder struct {
	sold     int
	closed   int
	failures map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{failures: make(map[string]int)}
}

func (r *countingRecorder) TicketSold(Round)               { r.sold++ }
func (r *countingRecorder) RoundClosed(RoundResult, Round) { r.closed++ }
func (r *countingRecorder) OperationFailed(op, code string) {
	r.failures[op+"/"+code]++
}
