package benor

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config describes the peer set: N peers, at most F of them faulty.
type Config struct {
	N uint64
	F uint64
}

func NewConfig(n, f uint64) (*Config, error) {
	if n == 0 {
		return nil, fmt.Errorf("%w: N must be positive", ErrInvalidConfig)
	}
	if f >= n {
		return nil, fmt.Errorf("%w: F=%d must be lower than N=%d", ErrInvalidConfig, f, n)
	}

	return &Config{N: n, F: f}, nil
}

// QuorumSize is the number of messages per round and phase a node waits for.
func (c *Config) QuorumSize() uint64 {
	return c.N - c.F
}

// DecisionThreshold is the number of equal votes needed to decide.
func (c *Config) DecisionThreshold() uint64 {
	return c.F + 1
}

// EffectiveF caps the fault bound at floor(N/2) for liveness reasoning.
func (c *Config) EffectiveF() uint64 {
	return min(c.F, c.N/2)
}

// Majority reports whether count is a strict majority of N.
func (c *Config) Majority(count uint64) bool {
	return 2*count > c.N
}
