package benor

import (
	crand "crypto/rand"
	"math/rand/v2"
	"sync"
)

// Coin supplies the random bit used when a round ends without a plurality.
type Coin interface {
	Flip() Value
}

type randomCoin struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomCoin returns a coin backed by a ChaCha8 stream seeded from crypto/rand,
// so that no two nodes share a seed.
func NewRandomCoin() Coin {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic("benor: reading coin seed: " + err.Error())
	}
	return &randomCoin{rng: rand.New(rand.NewChaCha8(seed))}
}

func (c *randomCoin) Flip() Value {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rng.IntN(2) == 0 {
		return ValueZero
	}
	return ValueOne
}

// Tally counts the occurrences of each value. Anything outside {0, 1} is unknown.
type Tally struct {
	Zero    uint64
	One     uint64
	Unknown uint64
}

func Count(values []Value) Tally {
	var t Tally
	for _, v := range values {
		switch v {
		case ValueZero:
			t.Zero++
		case ValueOne:
			t.One++
		default:
			t.Unknown++
		}
	}
	return t
}

// MajorityOrUnknown returns the value held by a strict majority of all N peers, or "?".
func MajorityOrUnknown(values []Value, config *Config) Value {
	t := Count(values)
	switch {
	case config.Majority(t.Zero):
		return ValueZero
	case config.Majority(t.One):
		return ValueOne
	default:
		return ValueUnknown
	}
}

// TallyMajority returns the value whose count strictly exceeds both the count of
// the other value and the count of unknowns, or "?".
func TallyMajority(values []Value) Value {
	t := Count(values)
	switch {
	case t.Zero > t.One && t.Zero > t.Unknown:
		return ValueZero
	case t.One > t.Zero && t.One > t.Unknown:
		return ValueOne
	default:
		return ValueUnknown
	}
}

// Outcome is the result of evaluating a round's votes.
type Outcome struct {
	Decided bool
	Value   Value
}

// DecideOrContinue applies the vote rule: F+1 equal votes decide; otherwise the
// next round starts from the plurality, or from a coin flip when there is none.
func DecideOrContinue(votes []Value, config *Config, coin Coin) Outcome {
	t := Count(votes)
	threshold := config.DecisionThreshold()
	switch {
	case t.Zero >= threshold:
		return Outcome{Decided: true, Value: ValueZero}
	case t.One >= threshold:
		return Outcome{Decided: true, Value: ValueOne}
	case t.Zero > t.One:
		return Outcome{Value: ValueZero}
	case t.One > t.Zero:
		return Outcome{Value: ValueOne}
	default:
		return Outcome{Value: coin.Flip()}
	}
}
