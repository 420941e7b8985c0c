package sla

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/wildhash/cronox/ledger"
	"github.com/wildhash/cronox/logger"
	"github.com/wildhash/cronox/types"
)

// catastrophicUptimeBps is the single-breach uptime floor: any uptime
// reading below 99.00% is severe on its own.
const catastrophicUptimeBps = 9900

// Unmeasured marks a sample dimension that carries no reading.
const Unmeasured int64 = -1

// Sample is one raw quality observation. A negative value marks a
// dimension as not measured in this sample. Note the zero value reads
// as "all dimensions measured at zero", which for uptime is a
// catastrophic reading; build partial samples with NewSample.
type Sample struct {
	LatencyMs int64     `json:"latencyMs"`
	UptimeBps int64     `json:"uptimeBps"`
	ErrorBps  int64     `json:"errorBps"`
	JitterMs  int64     `json:"jitterMs"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSample returns a sample with every dimension unmeasured, to be
// filled in with the readings actually taken.
func NewSample(ts time.Time) Sample {
	return Sample{
		LatencyMs: Unmeasured,
		UptimeBps: Unmeasured,
		ErrorBps:  Unmeasured,
		JitterMs:  Unmeasured,
		Timestamp: ts,
	}
}

// Result is the outcome of evaluating one breach event.
type Result struct {
	Tier   types.Tier
	Refund *types.RefundRecord
	// Stop is the stream-termination signal: forced on critical,
	// conditional on config for severe.
	Stop bool
}

// Evaluator is the per-stream refund tier engine. It tracks qualifying
// breach counts in the rolling window, severe results in the 24h
// critical window, and the cumulative refunded amount, which never
// exceeds the original escrow.
type Evaluator struct {
	streamID string
	escrowed uint64
	cfg      Config
	store    ledger.Ledger
	log      logger.Logger

	// transactionID of the originating receipt, when the payment was
	// settled through the gate; empty for out-of-band escrow.
	transactionID string

	mu         sync.Mutex
	breaches   []time.Time
	severe     []time.Time
	refunded   uint64
	seq        int
	terminated bool
}

// NewEvaluator creates an evaluator for one stream with the escrowed
// amount in atomic units.
func NewEvaluator(streamID string, escrowed uint64, cfg Config, store ledger.Ledger, log logger.Logger) (*Evaluator, error) {
	if streamID == "" {
		return nil, &types.Error{Code: types.ErrConfigError, Message: "streamId is required"}
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Evaluator{
		streamID: streamID,
		escrowed: escrowed,
		cfg:      cfg,
		store:    store,
		log:      log,
	}, nil
}

// BindReceipt links refunds to the originating payment receipt.
func (e *Evaluator) BindReceipt(transactionID string) {
	e.mu.Lock()
	e.transactionID = transactionID
	e.mu.Unlock()
}

// Terminated reports whether the stream has been stopped.
func (e *Evaluator) Terminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated
}

// Refunded returns the cumulative refunded amount.
func (e *Evaluator) Refunded() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refunded
}

// Observe derives breach events from a raw sample against the stream's
// thresholds and evaluates each. Comparison is strict: a measurement
// equal to its threshold does not qualify.
func (e *Evaluator) Observe(ctx context.Context, s Sample) ([]*Result, error) {
	ts := s.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	dimensions := []struct {
		bt       types.BreachType
		measured int64
	}{
		{types.BreachLatency, s.LatencyMs},
		{types.BreachUptime, s.UptimeBps},
		{types.BreachErrorRate, s.ErrorBps},
		{types.BreachJitter, s.JitterMs},
	}

	var events []types.BreachEvent
	for _, d := range dimensions {
		ev := types.BreachEvent{Type: d.bt, Measured: d.measured, Threshold: e.cfg.threshold(d.bt), Timestamp: ts}
		if d.measured >= 0 && qualifies(ev) {
			events = append(events, ev)
		}
	}

	var results []*Result
	for _, ev := range events {
		res, err := e.Evaluate(ctx, ev)
		if err != nil {
			return results, err
		}
		if res != nil {
			results = append(results, res)
		}
		if res != nil && res.Stop {
			break
		}
	}
	return results, nil
}

// Evaluate applies the tier table to one breach event. A non-qualifying
// event and any event after termination return nil. The refund amount is
// floor(escrowed * percent / 100) clamped to the unreturned remainder.
func (e *Evaluator) Evaluate(ctx context.Context, ev types.BreachEvent) (*Result, error) {
	if !qualifies(ev) {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.terminated {
		return nil, nil
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	e.breaches = prune(append(e.breaches, ts), ts.Add(-e.cfg.Window))
	count := len(e.breaches)

	tier := types.TierMinor
	switch {
	case count >= 5 || catastrophic(ev):
		tier = types.TierSevere
	case count >= 3:
		tier = types.TierModerate
	}

	if tier == types.TierSevere {
		e.severe = prune(append(e.severe, ts), ts.Add(-CriticalWindow))
		if len(e.severe) >= e.cfg.CriticalBreachCount {
			tier = types.TierCritical
		}
	}

	percent := e.percentFor(tier)
	// Split to stay inside uint64 for escrows near the top of the range.
	amount := e.escrowed/100*percent + e.escrowed%100*percent/100
	if remainder := e.escrowed - e.refunded; amount > remainder {
		amount = remainder
	}

	stop := tier == types.TierCritical || (tier == types.TierSevere && e.cfg.AutoStop)
	if stop {
		e.terminated = true
		e.log.Warn("stream terminated", map[string]any{
			"streamId": e.streamID,
			"tier":     tier.String(),
			"breach":   string(ev.Type),
		})
	}

	res := &Result{Tier: tier, Stop: stop}
	if amount == 0 {
		// Escrow exhausted: nothing left to return, but a critical
		// breach still terminates the stream above.
		return res, nil
	}

	e.seq++
	rec := &types.RefundRecord{
		RefundID:      fmt.Sprintf("%s-%d", e.streamID, e.seq),
		TransactionID: e.transactionID,
		StreamID:      e.streamID,
		Breach:        ev.Type,
		Tier:          tier,
		RefundPercent: percent,
		RefundAmount:  strconv.FormatUint(amount, 10),
		Timestamp:     ts,
	}

	if e.store != nil {
		if err := e.store.PutRefund(ctx, rec); err != nil {
			e.log.Error("refund append failed", map[string]any{
				"streamId": e.streamID,
				"refundId": rec.RefundID,
				"error":    err.Error(),
			})
			return res, err
		}
	}

	e.refunded += amount
	res.Refund = rec

	e.log.Info("refund recorded", map[string]any{
		"streamId": e.streamID,
		"tier":     tier.String(),
		"percent":  percent,
		"amount":   amount,
	})
	return res, nil
}

func (e *Evaluator) percentFor(tier types.Tier) uint64 {
	switch tier {
	case types.TierCritical:
		return CriticalRefundPercent
	case types.TierSevere:
		return e.cfg.SevereRefundPercent
	case types.TierModerate:
		return e.cfg.ModerateRefundPercent
	default:
		return e.cfg.MinorRefundPercent
	}
}

// qualifies applies the strict threshold comparison: above for latency,
// error rate and jitter, below for uptime.
func qualifies(ev types.BreachEvent) bool {
	if ev.Threshold <= 0 {
		return false
	}
	if ev.Type == types.BreachUptime {
		return ev.Measured < ev.Threshold
	}
	return ev.Measured > ev.Threshold
}

// catastrophic marks a single breach severe on its own: uptime below
// 99.00%, or latency past 2.5x its threshold.
func catastrophic(ev types.BreachEvent) bool {
	switch ev.Type {
	case types.BreachUptime:
		return ev.Measured < catastrophicUptimeBps
	case types.BreachLatency:
		return ev.Measured*2 > ev.Threshold*5
	default:
		return false
	}
}

// prune drops timestamps at or before the cutoff.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
