package cronox

import (
	"github.com/wildhash/cronox/facilitator"
	"github.com/wildhash/cronox/ledger"
	"github.com/wildhash/cronox/logger"
	"github.com/wildhash/cronox/metrics"
)

type Option func(*Cronox)

func WithLogger(l logger.Logger) Option {
	return func(c *Cronox) {
		c.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Cronox) {
		c.rec = r
	}
}

// WithLedger substitutes the receipt store, e.g. a ledger.SQLStore for
// durable deployments.
func WithLedger(l ledger.Ledger) Option {
	return func(c *Cronox) {
		c.store = l
	}
}

// WithFacilitatorClient substitutes a preconfigured settlement client.
func WithFacilitatorClient(f *facilitator.Client) Option {
	return func(c *Cronox) {
		c.client = f
	}
}
