package lottery

import (
	"github.com/R3E-Network/lottery_layer/internal/coin"
)

// Payout splits a closed pool. Dust is whatever integer division leaves
// behind; it stays in escrow and is never paid out.
type Payout struct {
	Prize coin.Coin `json:"prize"` // per winner
	Fee   coin.Coin `json:"fee"`
	Dust  coin.Coin `json:"dust"`
}

// ComputePayout returns prize = pool*90/100/3, fee = pool*10/100 and the
// remainder as dust.
func ComputePayout(pool coin.Coin) Payout {
	prize := pool.Amount.MulFrac(PrizePercent, 100).Quo(WinnerCount)
	fee := pool.Amount.MulFrac(FeePercent, 100)

	paid := prize.Mul(WinnerCount).Add(fee)
	dust, err := pool.Amount.Sub(paid)
	if err != nil {
		// floor(0.9p/3)*3 + floor(0.1p) never exceeds p
		panic("lottery: payout exceeds pool")
	}

	return Payout{
		Prize: coin.Coin{Denom: pool.Denom, Amount: prize},
		Fee:   coin.Coin{Denom: pool.Denom, Amount: fee},
		Dust:  coin.Coin{Denom: pool.Denom, Amount: dust},
	}
}

// Transfers lists one prize per winner in selection order, then the fee.
func (p Payout) Transfers(winners []string, admin string) []Transfer {
	out := make([]Transfer, 0, len(winners)+1)
	for _, w := range winners {
		out = append(out, Transfer{Recipient: w, Amount: p.Prize})
	}
	return append(out, Transfer{Recipient: admin, Amount: p.Fee})
}

// Total returns the sum of all transfers.
func (p Payout) Total() coin.Coin {
	return coin.Coin{Denom: p.Fee.Denom, Amount: p.Prize.Amount.Mul(WinnerCount).Add(p.Fee.Amount)}
}
