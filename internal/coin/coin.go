// Package coin provides the money types shared by the bank and the lottery.
//
// Amounts are arbitrary-precision and can never go below zero: subtraction
// that would underflow returns ErrNegative instead of wrapping.
package coin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	// ErrNegative is returned when an operation would produce a negative amount.
	ErrNegative = errors.New("amount would become negative")
	// ErrInvalidAmount is returned for malformed decimal amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Uint is an immutable non-negative integer of unbounded size.
// The zero value is 0 and ready to use.
type Uint struct {
	i *big.Int
}

// NewUint returns a Uint holding n.
func NewUint(n uint64) Uint {
	return Uint{i: new(big.Int).SetUint64(n)}
}

// ParseUint parses a base-10 string.
func ParseUint(s string) (Uint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Uint{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Uint{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if v.Sign() < 0 {
		return Uint{}, fmt.Errorf("%w: %q", ErrNegative, s)
	}
	return Uint{i: v}, nil
}

// MustParseUint is ParseUint for constants and tests.
func MustParseUint(s string) Uint {
	u, err := ParseUint(s)
	if err != nil {
		panic(err)
	}
	return u
}

func (u Uint) big() *big.Int {
	if u.i == nil {
		return new(big.Int)
	}
	return u.i
}

// BigInt returns a copy of the underlying value.
func (u Uint) BigInt() *big.Int {
	return new(big.Int).Set(u.big())
}

// IsZero reports whether u == 0.
func (u Uint) IsZero() bool {
	return u.big().Sign() == 0
}

// Cmp compares u and v and returns -1, 0 or +1.
func (u Uint) Cmp(v Uint) int {
	return u.big().Cmp(v.big())
}

// Equal reports whether u == v.
func (u Uint) Equal(v Uint) bool {
	return u.Cmp(v) == 0
}

// Add returns u + v.
func (u Uint) Add(v Uint) Uint {
	return Uint{i: new(big.Int).Add(u.big(), v.big())}
}

// Sub returns u - v, or ErrNegative when v > u.
func (u Uint) Sub(v Uint) (Uint, error) {
	if u.Cmp(v) < 0 {
		return Uint{}, fmt.Errorf("%w: %s - %s", ErrNegative, u, v)
	}
	return Uint{i: new(big.Int).Sub(u.big(), v.big())}, nil
}

// Mul returns u * n.
func (u Uint) Mul(n uint64) Uint {
	return Uint{i: new(big.Int).Mul(u.big(), new(big.Int).SetUint64(n))}
}

// Quo returns u / n rounded toward zero. It panics when n is zero.
func (u Uint) Quo(n uint64) Uint {
	if n == 0 {
		panic("coin: division by zero")
	}
	return Uint{i: new(big.Int).Quo(u.big(), new(big.Int).SetUint64(n))}
}

// MulFrac returns u * num / den rounded toward zero.
func (u Uint) MulFrac(num, den uint64) Uint {
	return u.Mul(num).Quo(den)
}

// Float64 returns an approximation of u, for metrics only.
func (u Uint) Float64() float64 {
	f, _ := new(big.Float).SetInt(u.big()).Float64()
	return f
}

// String returns the base-10 representation.
func (u Uint) String() string {
	return u.big().String()
}

// MarshalJSON encodes the amount as a decimal string.
func (u Uint) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON accepts a decimal string or a bare JSON number.
func (u *Uint) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*u = Uint{}
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	v, err := ParseUint(raw)
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Coin is an amount tagged with its denomination.
type Coin struct {
	Denom  string `json:"denom"`
	Amount Uint   `json:"amount"`
}

// New returns a Coin of amount n in denom.
func New(n uint64, denom string) Coin {
	return Coin{Denom: denom, Amount: NewUint(n)}
}

// Zero returns an empty Coin in denom.
func Zero(denom string) Coin {
	return Coin{Denom: denom, Amount: NewUint(0)}
}

// Validate checks that the denomination is set.
func (c Coin) Validate() error {
	if strings.TrimSpace(c.Denom) == "" {
		return fmt.Errorf("denom is required")
	}
	return nil
}

// IsZero reports whether the amount is zero.
func (c Coin) IsZero() bool {
	return c.Amount.IsZero()
}

// Equal reports whether both denom and amount match.
func (c Coin) Equal(o Coin) bool {
	return c.Denom == o.Denom && c.Amount.Equal(o.Amount)
}

// Add returns c + o. Both coins must share a denomination.
func (c Coin) Add(o Coin) (Coin, error) {
	if c.Denom != o.Denom {
		return Coin{}, fmt.Errorf("denom mismatch: %s != %s", c.Denom, o.Denom)
	}
	return Coin{Denom: c.Denom, Amount: c.Amount.Add(o.Amount)}, nil
}

// Sub returns c - o, failing on denom mismatch or underflow.
func (c Coin) Sub(o Coin) (Coin, error) {
	if c.Denom != o.Denom {
		return Coin{}, fmt.Errorf("denom mismatch: %s != %s", c.Denom, o.Denom)
	}
	amt, err := c.Amount.Sub(o.Amount)
	if err != nil {
		return Coin{}, err
	}
	return Coin{Denom: c.Denom, Amount: amt}, nil
}

// String renders the coin as "<amount><denom>".
func (c Coin) String() string {
	return c.Amount.String() + c.Denom
}
