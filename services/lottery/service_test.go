package lottery

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/R3E-Network/lottery_layer/internal/app/storage/memory"
	"github.com/R3E-Network/lottery_layer/internal/bank"
	"github.com/R3E-Network/lottery_layer/internal/coin"
	"github.com/R3E-Network/lottery_layer/pkg/logger"
	"github.com/R3E-Network/lottery_layer/pkg/testutil"
)

func TestInstantiate(t *testing.T) {
	ctx := context.Background()
	sender := testutil.Address(1)

	t.Run("defaults admin to sender", func(t *testing.T) {
		svc := New(memory.New(), bank.NewKeeper(), logger.Discard())
		cfg, err := svc.Instantiate(ctx, Env{Time: 42}, MessageInfo{Sender: sender}, InstantiateMsg{
			TicketPrice:   coin.New(5, "orai"),
			RoundDuration: 60,
		})
		if err != nil {
			t.Fatalf("instantiate: %v", err)
		}
		if cfg.Admin != sender || cfg.Paused {
			t.Fatalf("unexpected config %+v", cfg)
		}

		round, err := svc.CurrentRound(ctx)
		if err != nil {
			t.Fatalf("current round: %v", err)
		}
		if round.ID != 1 || !round.TotalFunds.Equal(coin.Zero("orai")) || len(round.Participants) != 0 || round.StartTime != 42 {
			t.Fatalf("unexpected first round %+v", round)
		}

		info, err := svc.ContractInfo(ctx)
		if err != nil || info.Contract != ContractName || info.Version != ContractVersion {
			t.Fatalf("contract info = %+v, %v", info, err)
		}
	})

	t.Run("runs once", func(t *testing.T) {
		svc := New(memory.New(), bank.NewKeeper(), logger.Discard())
		msg := InstantiateMsg{TicketPrice: coin.New(1, "orai"), RoundDuration: 1}
		if _, err := svc.Instantiate(ctx, Env{Time: 1}, MessageInfo{Sender: sender}, msg); err != nil {
			t.Fatalf("first instantiate: %v", err)
		}
		_, err := svc.Instantiate(ctx, Env{Time: 2}, MessageInfo{Sender: sender}, msg)
		if !errors.Is(err, ErrAlreadyInitialized) {
			t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
		}
	})

	t.Run("rejects invalid admin", func(t *testing.T) {
		svc := New(memory.New(), bank.NewKeeper(), logger.Discard())
		bad := "not-an-address"
		_, err := svc.Instantiate(ctx, Env{}, MessageInfo{Sender: sender}, InstantiateMsg{
			Admin:       &bad,
			TicketPrice: coin.New(1, "orai"),
		})
		if !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("expected ErrInvalidAddress, got %v", err)
		}
		if _, err := svc.Config(ctx); !errors.Is(err, ErrNotInitialized) {
			t.Fatalf("expected nothing stored, got %v", err)
		}
	})

	t.Run("rejects zero price", func(t *testing.T) {
		svc := New(memory.New(), bank.NewKeeper(), logger.Discard())
		_, err := svc.Instantiate(ctx, Env{}, MessageInfo{Sender: sender}, InstantiateMsg{
			TicketPrice: coin.Zero("orai"),
		})
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("operations before instantiate", func(t *testing.T) {
		svc := New(memory.New(), bank.NewKeeper(), logger.Discard())
		_, err := svc.BuyTicket(ctx, Env{}, MessageInfo{Sender: sender, Funds: []coin.Coin{coin.New(1, "orai")}})
		if !errors.Is(err, ErrNotInitialized) {
			t.Fatalf("expected ErrNotInitialized, got %v", err)
		}
	})
}

func TestBuyTicket_PoolTracksTickets(t *testing.T) {
	f := newFixture(t)

	for i, p := range f.players[:5] {
		receipt := f.buy(t, p)
		if receipt.RoundID != 1 || receipt.TicketNumber != uint64(i+1) {
			t.Fatalf("ticket %d: unexpected receipt %+v", i, receipt)
		}
	}
	// the same address may buy again
	if receipt := f.buy(t, f.players[0]); receipt.TicketNumber != 6 {
		t.Fatalf("expected ticket 6, got %d", receipt.TicketNumber)
	}

	round := f.round(t)
	if len(round.Participants) != 6 {
		t.Fatalf("expected 6 participants, got %d", len(round.Participants))
	}
	if want := f.price.Amount.Mul(6); !round.TotalFunds.Amount.Equal(want) {
		t.Fatalf("expected pool %s, got %s", want, round.TotalFunds.Amount)
	}
	if got := f.balance(t, f.escrow); got != "6" {
		t.Fatalf("expected escrow 6, got %s", got)
	}
	if got := f.balance(t, f.players[0]); got != "98" {
		t.Fatalf("expected repeat buyer balance 98, got %s", got)
	}
}

func TestBuyTicket_InvalidFunds(t *testing.T) {
	f := newFixture(t)
	f.buy(t, f.players[0])

	tests := []struct {
		name  string
		funds []coin.Coin
	}{
		{"no funds", nil},
		{"wrong denom", []coin.Coin{coin.New(1, "btc")}},
		{"underpayment", []coin.Coin{coin.New(0, "orai")}},
		{"overpayment", []coin.Coin{coin.New(2, "orai")}},
		{"extra coin", []coin.Coin{coin.New(1, "orai"), coin.New(1, "btc")}},
		{"split payment", []coin.Coin{coin.New(1, "orai"), coin.New(1, "orai")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			before := f.round(t)
			balance := f.balance(t, f.players[1])

			_, err := f.svc.BuyTicket(f.ctx, f.env(startTime+1), MessageInfo{Sender: f.players[1], Funds: tc.funds})
			if !errors.Is(err, ErrInvalidFunds) {
				t.Fatalf("expected ErrInvalidFunds, got %v", err)
			}
			assertRoundUnchanged(t, before, f.round(t))
			if got := f.balance(t, f.players[1]); got != balance {
				t.Fatalf("balance changed from %s to %s", balance, got)
			}
		})
	}
}

func TestBuyTicket_SenderWithoutBalance(t *testing.T) {
	f := newFixture(t)
	broke := testutil.Address(500)
	before := f.round(t)

	_, err := f.svc.BuyTicket(f.ctx, f.env(startTime), MessageInfo{Sender: broke, Funds: []coin.Coin{f.price}})
	if !errors.Is(err, bank.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if ErrorCode(err) != CodeInsufficientFunds {
		t.Fatalf("unexpected code %q", ErrorCode(err))
	}
	assertRoundUnchanged(t, before, f.round(t))
}

func TestEndRound_NotEnded(t *testing.T) {
	f := newFixture(t)
	for _, p := range f.players[:4] {
		f.buy(t, p)
	}
	before := f.round(t)

	for _, now := range []uint64{startTime, startTime + f.duration - 1} {
		_, err := f.svc.EndRound(f.ctx, f.env(now), MessageInfo{Sender: f.admin})
		if !errors.Is(err, ErrRoundNotEnded) {
			t.Fatalf("at %d: expected ErrRoundNotEnded, got %v", now, err)
		}
		assertRoundUnchanged(t, before, f.round(t))
	}
}

func TestEndRound_NoParticipants(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.EndRound(f.ctx, f.env(startTime+f.duration), MessageInfo{Sender: f.admin})
	if !errors.Is(err, ErrNoParticipants) {
		t.Fatalf("expected ErrNoParticipants, got %v", err)
	}
}

func TestEndRound_InsufficientParticipants(t *testing.T) {
	f := newFixture(t)
	f.buy(t, f.players[0])
	f.buy(t, f.players[1])
	before := f.round(t)

	_, err := f.svc.EndRound(f.ctx, f.env(startTime+f.duration), MessageInfo{Sender: f.admin})
	if !errors.Is(err, ErrInsufficientParticipants) {
		t.Fatalf("expected ErrInsufficientParticipants, got %v", err)
	}
	assertRoundUnchanged(t, before, f.round(t))
	if got := f.balance(t, f.escrow); got != "2" {
		t.Fatalf("escrow should still hold 2, got %s", got)
	}
}

func TestEndRound_FourBuyerScenario(t *testing.T) {
	f := newFixture(t)
	buyers := f.players[:4]
	for _, p := range buyers {
		f.buy(t, p)
	}
	pool := f.round(t).TotalFunds

	closeAt := startTime + 1001
	result, err := f.svc.EndRound(f.ctx, f.env(closeAt), MessageInfo{Sender: f.players[7]})
	if err != nil {
		t.Fatalf("end round: %v", err)
	}

	next := f.round(t)
	if next.ID != 2 || !next.TotalFunds.IsZero() || len(next.Participants) != 0 || next.StartTime != closeAt {
		t.Fatalf("unexpected next round %+v", next)
	}
	if result.RoundID != 1 || result.NextRoundID != 2 {
		t.Fatalf("unexpected ids %d -> %d", result.RoundID, result.NextRoundID)
	}

	// SHA-256 draws at this close time select slots 3, 1, 0
	if want := []int{3, 1, 0}; !reflect.DeepEqual(result.Indices, want) {
		t.Fatalf("expected indices %v, got %v", want, result.Indices)
	}
	wantWinners := []string{buyers[3], buyers[1], buyers[0]}
	if !reflect.DeepEqual(result.Winners, wantWinners) {
		t.Fatalf("expected winners %v, got %v", wantWinners, result.Winners)
	}

	recorded, err := f.svc.RoundWinners(f.ctx, 1)
	if err != nil {
		t.Fatalf("round winners: %v", err)
	}
	if len(recorded) != WinnerCount {
		t.Fatalf("expected %d winners, got %d", WinnerCount, len(recorded))
	}
	for _, w := range recorded {
		found := false
		for _, b := range buyers {
			found = found || w == b
		}
		if !found {
			t.Fatalf("winner %s did not buy a ticket", w)
		}
	}

	if len(result.Transfers) != 4 {
		t.Fatalf("expected 4 transfers, got %d", len(result.Transfers))
	}
	if result.Transfers[3].Recipient != f.admin {
		t.Fatalf("last transfer should pay the admin, got %s", result.Transfers[3].Recipient)
	}
	total := coin.NewUint(0)
	for _, tr := range result.Transfers {
		total = total.Add(tr.Amount.Amount)
	}
	if total.Cmp(pool.Amount) > 0 {
		t.Fatalf("paid %s out of a pool of %s", total, pool.Amount)
	}

	// pool 4: prize 1 each, fee 0, dust 1 stays in escrow
	if result.Prize.Amount.String() != "1" || result.Fee.Amount.String() != "0" || result.Dust.Amount.String() != "1" {
		t.Fatalf("unexpected payout prize=%s fee=%s dust=%s", result.Prize, result.Fee, result.Dust)
	}
	if got := f.balance(t, f.escrow); got != "1" {
		t.Fatalf("expected escrow to retain dust 1, got %s", got)
	}
	for _, w := range wantWinners {
		if got := f.balance(t, w); got != "100" {
			t.Fatalf("winner %s should be back to 100, got %s", w, got)
		}
	}
	if got := f.balance(t, buyers[2]); got != "99" {
		t.Fatalf("non-winner should hold 99, got %s", got)
	}
}

func TestEndRound_SameBuyerCanWinRepeatedly(t *testing.T) {
	f := newFixtureWithPrice(t, coin.New(7, "orai"), nil)
	buyer := f.players[0]
	for i := 0; i < 3; i++ {
		f.buy(t, buyer)
	}

	result, err := f.svc.EndRound(f.ctx, f.env(startTime+1001), MessageInfo{Sender: f.players[1]})
	if err != nil {
		t.Fatalf("end round: %v", err)
	}

	want := []string{buyer, buyer, buyer}
	if !reflect.DeepEqual(result.Winners, want) {
		t.Fatalf("expected %v, got %v", want, result.Winners)
	}
	recorded, err := f.svc.RoundWinners(f.ctx, 1)
	if err != nil {
		t.Fatalf("round winners: %v", err)
	}
	if !reflect.DeepEqual(recorded, want) {
		t.Fatalf("expected recorded winners %v, got %v", want, recorded)
	}

	// pool 21: 18 for winners, prize 6 each, fee 2, dust 1
	if result.Prize.Amount.String() != "6" || result.Fee.Amount.String() != "2" || result.Dust.Amount.String() != "1" {
		t.Fatalf("unexpected payout prize=%s fee=%s dust=%s", result.Prize, result.Fee, result.Dust)
	}
	if len(result.Transfers) != 4 {
		t.Fatalf("expected 4 transfers, got %d", len(result.Transfers))
	}
	for i, tr := range result.Transfers[:3] {
		if tr.Recipient != buyer || tr.Amount.String() != "6orai" {
			t.Fatalf("transfer %d: expected 6orai to %s, got %s to %s", i, buyer, tr.Amount, tr.Recipient)
		}
	}
	if fee := result.Transfers[3]; fee.Recipient != f.admin || fee.Amount.String() != "2orai" {
		t.Fatalf("unexpected fee transfer %+v", fee)
	}

	if got := f.balance(t, buyer); got != "97" {
		t.Fatalf("expected buyer at 100-21+18=97, got %s", got)
	}
	if got := f.balance(t, f.escrow); got != "1" {
		t.Fatalf("expected escrow to retain dust 1, got %s", got)
	}
	if got := f.balance(t, f.admin); got != "2" {
		t.Fatalf("expected admin fee 2, got %s", got)
	}
}

func TestCustomAddressValidator(t *testing.T) {
	f := newFixture(t)
	blocked := f.players[3]
	f.svc.WithAddressValidator(AddressValidatorFunc(func(addr string) error {
		if addr == blocked {
			return fmt.Errorf("%w: %s is blocked", ErrInvalidAddress, addr)
		}
		return nil
	}))

	before := f.round(t)
	_, err := f.svc.BuyTicket(f.ctx, f.env(startTime+1), MessageInfo{Sender: blocked, Funds: []coin.Coin{f.price}})
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	assertRoundUnchanged(t, before, f.round(t))

	// the custom check replaces the Neo format check entirely
	if receipt := f.buy(t, f.players[0]); receipt.TicketNumber != 1 {
		t.Fatalf("expected ticket 1, got %d", receipt.TicketNumber)
	}
	if _, err := f.svc.TicketNumber(f.ctx, "not-a-neo-address"); !errors.Is(err, ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
}

func TestEndRound_RollsBackWhenPayoutFails(t *testing.T) {
	var failing *testutil.FailingBank
	f := newFixtureWithBank(t, func(inner Bank) Bank {
		failing = &testutil.FailingBank{Inner: inner}
		return failing
	})
	for _, p := range f.players[:4] {
		f.buy(t, p)
	}
	before := f.round(t)
	escrow := f.balance(t, f.escrow)

	// third payout transfer fails
	failing.Reset(3)
	_, err := f.svc.EndRound(f.ctx, f.env(startTime+f.duration), MessageInfo{Sender: f.admin})
	if !errors.Is(err, testutil.ErrInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}

	assertRoundUnchanged(t, before, f.round(t))
	if got := f.balance(t, f.escrow); got != escrow {
		t.Fatalf("escrow changed from %s to %s", escrow, got)
	}
	if _, err := f.svc.RoundWinners(f.ctx, 1); !errors.Is(err, ErrRoundNotFound) {
		t.Fatalf("winners must not be recorded, got %v", err)
	}

	failing.Reset(0)
	if _, err := f.svc.EndRound(f.ctx, f.env(startTime+f.duration), MessageInfo{Sender: f.admin}); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestTicketNumber(t *testing.T) {
	f := newFixture(t)
	for _, p := range f.players[:3] {
		f.buy(t, p)
	}
	f.buy(t, f.players[0])

	for k, p := range f.players[:3] {
		n, err := f.svc.TicketNumber(f.ctx, p)
		if err != nil {
			t.Fatalf("ticket number: %v", err)
		}
		if n != uint64(k+1) {
			t.Fatalf("buyer %d: expected ticket %d, got %d", k, k+1, n)
		}
	}

	if _, err := f.svc.TicketNumber(f.ctx, f.players[5]); !errors.Is(err, ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
	if _, err := f.svc.TicketNumber(f.ctx, "garbage"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestRoundWinners_UnknownRound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.RoundWinners(f.ctx, 7); !errors.Is(err, ErrRoundNotFound) {
		t.Fatalf("expected ErrRoundNotFound, got %v", err)
	}
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)
	outsider := MessageInfo{Sender: f.players[0]}
	admin := MessageInfo{Sender: f.admin}

	if err := f.svc.Pause(f.ctx, outsider); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("pause by outsider: expected ErrUnauthorized, got %v", err)
	}
	if err := f.svc.Pause(f.ctx, admin); err != nil {
		t.Fatalf("pause: %v", err)
	}
	// idempotent
	if err := f.svc.Pause(f.ctx, admin); err != nil {
		t.Fatalf("second pause: %v", err)
	}

	before := f.round(t)
	_, err := f.svc.BuyTicket(f.ctx, f.env(startTime), MessageInfo{Sender: f.players[0], Funds: []coin.Coin{f.price}})
	if !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	assertRoundUnchanged(t, before, f.round(t))

	if err := f.svc.Resume(f.ctx, outsider); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("resume by outsider: expected ErrUnauthorized, got %v", err)
	}
	if err := f.svc.Resume(f.ctx, admin); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if receipt := f.buy(t, f.players[0]); receipt.TicketNumber != 1 {
		t.Fatalf("expected ticket 1 after resume, got %d", receipt.TicketNumber)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	now := startTime
	for round := 0; round < 3; round++ {
		for _, p := range f.players[:3] {
			f.buy(t, p)
		}
		now += f.duration
		if _, err := f.svc.EndRound(f.ctx, f.env(now), MessageInfo{Sender: f.admin}); err != nil {
			t.Fatalf("end round %d: %v", round+1, err)
		}
	}

	page, err := f.svc.History(f.ctx, nil, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page) != 2 || page[0].RoundID != 1 || page[1].RoundID != 2 {
		t.Fatalf("unexpected first page %+v", page)
	}

	after := page[1].RoundID
	rest, err := f.svc.History(f.ctx, &after, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(rest) != 1 || rest[0].RoundID != 3 || len(rest[0].Winners) != WinnerCount {
		t.Fatalf("unexpected second page %+v", rest)
	}
}

func TestHooksFireAfterCommit(t *testing.T) {
	f := newFixture(t)
	events := &testutil.RecordingPublisher{}
	metrics := newCountingRecorder()
	f.svc.WithEvents(events)
	f.svc.WithMetrics(metrics)

	for _, p := range f.players[:3] {
		f.buy(t, p)
	}
	_, _ = f.svc.BuyTicket(f.ctx, f.env(startTime), MessageInfo{Sender: f.players[3]})
	if err := f.svc.Pause(f.ctx, MessageInfo{Sender: f.admin}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := f.svc.Resume(f.ctx, MessageInfo{Sender: f.admin}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := f.svc.EndRound(f.ctx, f.env(startTime+f.duration), MessageInfo{Sender: f.admin}); err != nil {
		t.Fatalf("end round: %v", err)
	}

	want := []string{
		EventTicketPurchased, EventTicketPurchased, EventTicketPurchased,
		EventPaused, EventResumed, EventRoundEnded,
	}
	if got := events.Types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	if metrics.sold != 3 || metrics.closed != 1 {
		t.Fatalf("unexpected metrics sold=%d closed=%d", metrics.sold, metrics.closed)
	}
	if metrics.failures["buy_ticket/invalid_funds"] != 1 {
		t.Fatalf("expected one invalid_funds failure, got %v", metrics.failures)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrPaused, "paused"},
		{errors.Join(errors.New("context"), ErrRoundNotFound), "round_not_found"},
		{bank.ErrInsufficientFunds, CodeInsufficientFunds},
		{errors.New("disk on fire"), CodeInternal},
	}
	for _, tc := range tests {
		if got := ErrorCode(tc.err); got != tc.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
