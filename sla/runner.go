package sla

import (
	"context"

	"github.com/wildhash/cronox/types"
)

// Runner drives one evaluator from a sample channel. There is one loop
// per stream; streams share nothing but the ledger's append path.
type Runner struct {
	eval    *Evaluator
	samples <-chan Sample
	onStop  func(streamID string, tier types.Tier)
}

// NewRunner wires an evaluator to its sample source. onStop fires once
// when the stream terminates; it may be nil.
func NewRunner(eval *Evaluator, samples <-chan Sample, onStop func(streamID string, tier types.Tier)) *Runner {
	return &Runner{eval: eval, samples: samples, onStop: onStop}
}

// Run consumes samples until the context is cancelled, the channel
// closes, or the stream terminates.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-r.samples:
			if !ok {
				return nil
			}
			results, err := r.eval.Observe(ctx, s)
			if err != nil {
				return err
			}
			for _, res := range results {
				if res.Stop {
					if r.onStop != nil {
						r.onStop(r.eval.streamID, res.Tier)
					}
					return nil
				}
			}
		}
	}
}
