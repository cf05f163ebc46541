package benor

import (
	"time"

	"github.com/usernamenenad/bft-benor/metrics"
)

const DefaultPollInterval = 100 * time.Millisecond

type Option func(*BenOr)

// WithCoin replaces the node's random coin.
func WithCoin(coin Coin) Option {
	return func(b *BenOr) {
		b.coin = coin
	}
}

// WithPollInterval sets how often Start re-checks the readiness barrier.
func WithPollInterval(d time.Duration) Option {
	return func(b *BenOr) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *BenOr) {
		b.metrics = m
	}
}
