package lottery

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3E-Network/lottery_layer/internal/app/storage"
	"github.com/R3E-Network/lottery_layer/internal/coin"
	"github.com/R3E-Network/lottery_layer/pkg/logger"
)

// Bank moves funds inside the caller's storage transaction.
type Bank interface {
	Send(ctx context.Context, kv storage.KV, from, to string, amount coin.Coin) error
}

// Publisher receives notifications once a state change has committed.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any)
}

// Recorder collects operational metrics.
type Recorder interface {
	TicketSold(round Round)
	RoundClosed(result RoundResult, next Round)
	OperationFailed(operation, code string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) {}

type nopRecorder struct{}

func (nopRecorder) TicketSold(Round)               {}
func (nopRecorder) RoundClosed(RoundResult, Round) {}
func (nopRecorder) OperationFailed(string, string) {}

// Service drives the round state machine. Every mutating call is a single
// storage transaction covering state writes and fund movements.
type Service struct {
	store   storage.Store
	bank    Bank
	log     *logger.Logger
	seeds   SeedSource
	addrs   AddressValidator
	events  Publisher
	metrics Recorder
}

// New constructs a lottery service.
func New(store storage.Store, bank Bank, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("lottery")
	}
	return &Service{
		store:   store,
		bank:    bank,
		log:     log,
		seeds:   PublicDigest{Tag: DefaultTag},
		addrs:   NeoAddressValidator{},
		events:  nopPublisher{},
		metrics: nopRecorder{},
	}
}

// WithSeedSource replaces the winner selection source.
func (s *Service) WithSeedSource(src SeedSource) {
	if src != nil {
		s.seeds = src
	}
}

// WithAddressValidator replaces the address check.
func (s *Service) WithAddressValidator(v AddressValidator) {
	if v != nil {
		s.addrs = v
	}
}

// WithEvents sets the publisher notified after each commit.
func (s *Service) WithEvents(p Publisher) {
	if p != nil {
		s.events = p
	}
}

// WithMetrics sets the metrics recorder.
func (s *Service) WithMetrics(r Recorder) {
	if r != nil {
		s.metrics = r
	}
}

// InstantiateMsg configures a new contract.
type InstantiateMsg struct {
	Admin         *string   `json:"admin,omitempty"`
	TicketPrice   coin.Coin `json:"ticket_price"`
	RoundDuration uint64    `json:"round_duration"`
}

// Instantiate stores the configuration and opens round 1. It succeeds once.
func (s *Service) Instantiate(ctx context.Context, env Env, info MessageInfo, msg InstantiateMsg) (Config, error) {
	admin := info.Sender
	if msg.Admin != nil {
		admin = *msg.Admin
	}
	if err := s.addrs.ValidateAddress(admin); err != nil {
		return Config{}, s.reject("instantiate", err)
	}
	if err := msg.TicketPrice.Validate(); err != nil {
		return Config{}, s.reject("instantiate", fmt.Errorf("%w: ticket price: %v", ErrInvalidConfig, err))
	}
	if msg.TicketPrice.IsZero() {
		return Config{}, s.reject("instantiate", fmt.Errorf("%w: ticket price must be positive", ErrInvalidConfig))
	}

	cfg := Config{
		Admin:         admin,
		TicketPrice:   msg.TicketPrice,
		RoundDuration: msg.RoundDuration,
		Paused:        false,
	}
	first := Round{
		ID:           1,
		TotalFunds:   coin.Zero(msg.TicketPrice.Denom),
		Participants: []string{},
		StartTime:    env.Time,
	}

	err := s.store.Update(ctx, func(kv storage.KV) error {
		exists, err := configItem.Exists(ctx, kv)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyInitialized
		}
		if err := infoItem.Save(ctx, kv, ContractInfo{Contract: ContractName, Version: ContractVersion}); err != nil {
			return err
		}
		if err := configItem.Save(ctx, kv, cfg); err != nil {
			return err
		}
		return saveRound(ctx, kv, first)
	})
	if err != nil {
		return Config{}, s.reject("instantiate", err)
	}

	s.log.WithField("admin", cfg.Admin).
		WithField("ticket_price", cfg.TicketPrice.String()).
		WithField("round_duration", cfg.RoundDuration).
		Info("lottery instantiated")
	s.events.Publish(ctx, EventInstantiated, cfg)
	return cfg, nil
}

// BuyTicket charges the ticket price and appends the sender to the current
// round. Funds must be exactly one coin matching the ticket price.
func (s *Service) BuyTicket(ctx context.Context, env Env, info MessageInfo) (TicketReceipt, error) {
	if err := s.addrs.ValidateAddress(info.Sender); err != nil {
		return TicketReceipt{}, s.reject("buy_ticket", err)
	}

	var round Round
	err := s.store.Update(ctx, func(kv storage.KV) error {
		cfg, err := loadConfig(ctx, kv)
		if err != nil {
			return err
		}
		if round, err = loadRound(ctx, kv); err != nil {
			return err
		}
		if cfg.Paused {
			return ErrPaused
		}
		if !exactPayment(info.Funds, cfg.TicketPrice) {
			return ErrInvalidFunds
		}

		if err := s.bank.Send(ctx, kv, info.Sender, env.Contract, cfg.TicketPrice); err != nil {
			return fmt.Errorf("collect ticket payment: %w", err)
		}
		total, err := round.TotalFunds.Add(cfg.TicketPrice)
		if err != nil {
			return err
		}
		round.TotalFunds = total
		round.Participants = append(round.Participants, info.Sender)
		return saveRound(ctx, kv, round)
	})
	if err != nil {
		return TicketReceipt{}, s.reject("buy_ticket", err)
	}

	receipt := TicketReceipt{RoundID: round.ID, TicketNumber: uint64(len(round.Participants))}
	s.log.WithField("round_id", receipt.RoundID).
		WithField("ticket_number", receipt.TicketNumber).
		WithField("sender", info.Sender).
		Info("lottery ticket purchased")
	s.metrics.TicketSold(round)
	s.events.Publish(ctx, EventTicketPurchased, map[string]any{
		"round_id":      receipt.RoundID,
		"ticket_number": receipt.TicketNumber,
		"sender":        info.Sender,
		"total_funds":   round.TotalFunds,
	})
	return receipt, nil
}

func exactPayment(funds []coin.Coin, price coin.Coin) bool {
	return len(funds) == 1 && funds[0].Equal(price)
}

// EndRound closes the current round once its window has elapsed, pays the
// winners and the administrator, records the winners and opens the next
// round. Any caller may close a round.
func (s *Service) EndRound(ctx context.Context, env Env, info MessageInfo) (RoundResult, error) {
	var (
		result RoundResult
		next   Round
	)
	err := s.store.Update(ctx, func(kv storage.KV) error {
		cfg, err := loadConfig(ctx, kv)
		if err != nil {
			return err
		}
		round, err := loadRound(ctx, kv)
		if err != nil {
			return err
		}
		if env.Time < round.EndsAt(cfg.RoundDuration) {
			return ErrRoundNotEnded
		}
		if len(round.Participants) == 0 {
			return ErrNoParticipants
		}

		indices, err := SelectWinners(s.seeds, env.Time, len(round.Participants), WinnerCount)
		if err != nil {
			return err
		}
		winners := make([]string, len(indices))
		for i, idx := range indices {
			winners[i] = round.Participants[idx]
		}

		payout := ComputePayout(round.TotalFunds)
		transfers := payout.Transfers(winners, cfg.Admin)
		for _, t := range transfers {
			if err := s.bank.Send(ctx, kv, env.Contract, t.Recipient, t.Amount); err != nil {
				return fmt.Errorf("pay %s to %s: %w", t.Amount, t.Recipient, err)
			}
		}

		if err := appendWinners(ctx, kv, round.ID, RoundWinners{Winners: winners}); err != nil {
			return err
		}
		next = Round{
			ID:           round.ID + 1,
			TotalFunds:   coin.Zero(cfg.TicketPrice.Denom),
			Participants: []string{},
			StartTime:    env.Time,
		}
		if err := saveRound(ctx, kv, next); err != nil {
			return err
		}

		result = RoundResult{
			RoundID:     round.ID,
			Winners:     winners,
			Indices:     indices,
			Transfers:   transfers,
			Prize:       payout.Prize,
			Fee:         payout.Fee,
			Dust:        payout.Dust,
			NextRoundID: next.ID,
		}
		return nil
	})
	if err != nil {
		return RoundResult{}, s.reject("end_round", err)
	}

	s.log.WithField("round_id", result.RoundID).
		WithField("winners", result.Winners).
		WithField("prize", result.Prize.String()).
		WithField("fee", result.Fee.String()).
		WithField("dust", result.Dust.String()).
		WithField("closed_by", info.Sender).
		Info("lottery round ended")
	s.metrics.RoundClosed(result, next)
	s.events.Publish(ctx, EventRoundEnded, result)
	return result, nil
}

// Pause stops ticket sales. Only the administrator may pause.
func (s *Service) Pause(ctx context.Context, info MessageInfo) error {
	return s.setPaused(ctx, info, true)
}

// Resume re-enables ticket sales. Only the administrator may resume.
func (s *Service) Resume(ctx context.Context, info MessageInfo) error {
	return s.setPaused(ctx, info, false)
}

func (s *Service) setPaused(ctx context.Context, info MessageInfo, paused bool) error {
	op, event := "resume", EventResumed
	if paused {
		op, event = "pause", EventPaused
	}

	err := s.store.Update(ctx, func(kv storage.KV) error {
		cfg, err := loadConfig(ctx, kv)
		if err != nil {
			return err
		}
		if info.Sender != cfg.Admin {
			return ErrUnauthorized
		}
		cfg.Paused = paused
		return configItem.Save(ctx, kv, cfg)
	})
	if err != nil {
		return s.reject(op, err)
	}

	s.log.WithField("paused", paused).WithField("admin", info.Sender).Info("lottery pause state changed")
	s.events.Publish(ctx, event, map[string]any{"paused": paused})
	return nil
}

// TicketNumber returns the first 1-based position of addr in the current
// round.
func (s *Service) TicketNumber(ctx context.Context, addr string) (uint64, error) {
	if err := s.addrs.ValidateAddress(addr); err != nil {
		return 0, err
	}
	var n uint64
	err := s.store.View(ctx, func(kv storage.KV) error {
		round, err := loadRound(ctx, kv)
		if err != nil {
			return err
		}
		for i, p := range round.Participants {
			if p == addr {
				n = uint64(i) + 1
				return nil
			}
		}
		return ErrParticipantNotFound
	})
	return n, err
}

// RoundWinners returns the winners recorded for a closed round.
func (s *Service) RoundWinners(ctx context.Context, roundID uint64) ([]string, error) {
	var winners []string
	err := s.store.View(ctx, func(kv storage.KV) error {
		w, err := loadWinners(ctx, kv, roundID)
		winners = w.Winners
		return err
	})
	return winners, err
}

// Config returns the stored configuration.
func (s *Service) Config(ctx context.Context) (Config, error) {
	var cfg Config
	err := s.store.View(ctx, func(kv storage.KV) error {
		var err error
		cfg, err = loadConfig(ctx, kv)
		return err
	})
	return cfg, err
}

// CurrentRound returns the open round.
func (s *Service) CurrentRound(ctx context.Context) (Round, error) {
	var round Round
	err := s.store.View(ctx, func(kv storage.KV) error {
		var err error
		round, err = loadRound(ctx, kv)
		return err
	})
	return round, err
}

// ContractInfo returns the name and version recorded at instantiation.
func (s *Service) ContractInfo(ctx context.Context) (ContractInfo, error) {
	var info ContractInfo
	err := s.store.View(ctx, func(kv storage.KV) error {
		var err error
		info, err = infoItem.Load(ctx, kv)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotInitialized
		}
		return err
	})
	return info, err
}

// History lists closed rounds in ascending id order, starting after
// startAfter when set. limit defaults to 10 and is capped at 100.
func (s *Service) History(ctx context.Context, startAfter *uint64, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	var out []HistoryEntry
	err := s.store.View(ctx, func(kv storage.KV) error {
		var err error
		out, err = listWinners(ctx, kv, startAfter, limit)
		return err
	})
	return out, err
}

// reject logs and counts a failed operation and returns err unchanged.
func (s *Service) reject(op string, err error) error {
	code := ErrorCode(err)
	s.metrics.OperationFailed(op, code)

	var ce *ContractError
	if errors.As(err, &ce) {
		s.log.WithField("operation", op).WithField("code", code).Warn("lottery operation rejected")
	} else {
		s.log.WithError(err).WithField("operation", op).Error("lottery operation failed")
	}
	return err
}
