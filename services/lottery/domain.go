// Package lottery implements a recurring ticket lottery: participants pay a
// fixed price into the current round, anyone may close the round once its
// window has elapsed, and closing draws three winners, pays out 90% of the
// pool among them and 10% to the administrator, then opens the next round.
package lottery

import (
	"github.com/R3E-Network/lottery_layer/internal/coin"
)

// Fixed draw parameters.
const (
	WinnerCount  = 3
	PrizePercent = 90
	FeePercent   = 10

	ContractName    = "lottery"
	ContractVersion = "0.1.0"

	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

// Config holds the settings chosen at instantiation.
type Config struct {
	Admin         string    `json:"admin"`
	TicketPrice   coin.Coin `json:"ticket_price"`
	RoundDuration uint64    `json:"round_duration"` // seconds
	Paused        bool      `json:"paused"`
}

// Round is the single open round. Participants holds one entry per ticket, so
// an address that bought twice appears twice.
type Round struct {
	ID           uint64    `json:"id"`
	TotalFunds   coin.Coin `json:"total_funds"`
	Participants []string  `json:"participants"`
	StartTime    uint64    `json:"start_time"`
}

// EndsAt returns the first time at which the round may be closed.
func (r Round) EndsAt(duration uint64) uint64 {
	end := r.StartTime + duration
	if end < r.StartTime {
		return ^uint64(0)
	}
	return end
}

// RoundWinners is the immutable record written when a round closes.
type RoundWinners struct {
	Winners []string `json:"winners"`
}

// ContractInfo names the deployed contract and its version.
type ContractInfo struct {
	Contract string `json:"contract"`
	Version  string `json:"version"`
}

// Transfer is one fund movement out of escrow.
type Transfer struct {
	Recipient string    `json:"recipient"`
	Amount    coin.Coin `json:"amount"`
}

// Env carries the host-supplied context of a request.
type Env struct {
	Time     uint64 `json:"time"`     // unix seconds
	Contract string `json:"contract"` // escrow account holding the pool
}

// MessageInfo identifies the caller and the funds attached to the request.
type MessageInfo struct {
	Sender string      `json:"sender"`
	Funds  []coin.Coin `json:"funds"`
}

// TicketReceipt is returned by a successful purchase.
type TicketReceipt struct {
	RoundID      uint64 `json:"round_id"`
	TicketNumber uint64 `json:"ticket_number"`
}

// RoundResult describes a closed round.
type RoundResult struct {
	RoundID     uint64     `json:"round_id"`
	Winners     []string   `json:"winners"`
	Indices     []int      `json:"indices"`
	Transfers   []Transfer `json:"transfers"`
	Prize       coin.Coin  `json:"prize"`
	Fee         coin.Coin  `json:"fee"`
	Dust        coin.Coin  `json:"dust"`
	NextRoundID uint64     `json:"next_round_id"`
}

// HistoryEntry pairs a closed round id with its winners.
type HistoryEntry struct {
	RoundID uint64   `json:"round_id"`
	Winners []string `json:"winners"`
}

// Event types published after a committed state change.
const (
	EventInstantiated    = "lottery.instantiated"
	EventTicketPurchased = "lottery.ticket_purchased"
	EventRoundEnded      = "lottery.round_ended"
	EventPaused          = "lottery.paused"
	EventResumed         = "lottery.resumed"
)
