package lottery

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"
)

// DefaultTag is mixed into every public digest draw.
const DefaultTag = "totally random"

// SeedSource produces the raw value behind one selection attempt.
type SeedSource interface {
	Draw(now, seed uint64) uint64
}

// PublicDigest draws from SHA-256 over the decimal close time, a fixed tag
// and the decimal seed, keeping the first 8 digest bytes big-endian.
//
// Every input is public, so anyone who can predict or influence the close
// time can predict or steer the winners.
type PublicDigest struct {
	Tag string
}

// Draw implements SeedSource.
func (d PublicDigest) Draw(now, seed uint64) uint64 {
	tag := d.Tag
	if tag == "" {
		tag = DefaultTag
	}
	buf := make([]byte, 0, 40+len(tag))
	buf = strconv.AppendUint(buf, now, 10)
	buf = append(buf, tag...)
	buf = strconv.AppendUint(buf, seed, 10)
	sum := sha256.Sum256(buf)
	return binary.BigEndian.Uint64(sum[:8])
}

// SelectWinners picks count distinct ticket slots out of n.
//
// Slot i (1-based) starts from seed i. A slot already taken is redrawn with
// seed = rejected index + 1. That chain can cycle, so after n redraws the
// slot falls back to the next free index above the last rejected one.
func SelectWinners(src SeedSource, now uint64, n, count int) ([]int, error) {
	if n <= 0 {
		return nil, ErrNoParticipants
	}
	if n < count {
		return nil, ErrInsufficientParticipants
	}

	mod := uint64(n)
	taken := make([]bool, n)
	out := make([]int, 0, count)
	for i := 1; i <= count; i++ {
		idx := int(src.Draw(now, uint64(i)) % mod)
		for redraws := 0; taken[idx]; redraws++ {
			if redraws == n {
				idx = nextFree(taken, idx)
				break
			}
			idx = int(src.Draw(now, uint64(idx)+1) % mod)
		}
		taken[idx] = true
		out = append(out, idx)
	}
	return out, nil
}

func nextFree(taken []bool, from int) int {
	n := len(taken)
	for step := 1; step <= n; step++ {
		if c := (from + step) % n; !taken[c] {
			return c
		}
	}
	return from
}
