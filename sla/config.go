// Package sla maps observed service-quality breaches to a severity tier
// and a refund percentage, and drives escrow release through the receipt
// ledger. One evaluator per stream; configuration is fixed at stream
// creation and never mutated in place.
package sla

import (
	"fmt"
	"time"

	"github.com/wildhash/cronox/types"
	"github.com/wildhash/cronox/utils"
)

// Default refund percentages per tier.
const (
	DefaultMinorRefundPercent    = 10
	DefaultModerateRefundPercent = 25
	DefaultSevereRefundPercent   = 50

	// CriticalRefundPercent is fixed: a critical breach returns
	// everything that is still returnable.
	CriticalRefundPercent = 100
)

// DefaultCriticalBreachCount is how many severe results within the
// critical window force termination.
const DefaultCriticalBreachCount = 3

// CriticalWindow is the fixed rolling window for counting severe
// results toward the critical tier.
const CriticalWindow = 24 * time.Hour

// Config holds the per-stream quality thresholds and refund policy.
// Uptime and error rate are basis points (9950 = 99.50%).
type Config struct {
	MaxLatencyMs int64 `json:"maxLatencyMs" validate:"gte=0"`
	MinUptimeBps int64 `json:"minUptimeBps" validate:"gte=0,lte=10000"`
	MaxErrorBps  int64 `json:"maxErrorBps" validate:"gte=0,lte=10000"`
	MaxJitterMs  int64 `json:"maxJitterMs" validate:"gte=0"`

	MinorRefundPercent    uint64 `json:"minorRefundPercent" validate:"lte=100"`
	ModerateRefundPercent uint64 `json:"moderateRefundPercent" validate:"lte=100"`
	SevereRefundPercent   uint64 `json:"severeRefundPercent" validate:"lte=100"`

	// AutoStop terminates the stream when a severe breach occurs. A
	// critical breach always terminates, regardless of this flag.
	AutoStop bool `json:"autoStop"`

	// CriticalBreachCount is the severe-result count within the 24h
	// window that escalates to critical.
	CriticalBreachCount int `json:"criticalBreachCount" validate:"gte=0"`

	// Window is the rolling window for counting qualifying breaches.
	Window time.Duration `json:"window"`
}

// Normalize fills zero-valued policy fields with the defaults and
// validates the result.
func (c *Config) Normalize() error {
	if c.MinorRefundPercent == 0 {
		c.MinorRefundPercent = DefaultMinorRefundPercent
	}
	if c.ModerateRefundPercent == 0 {
		c.ModerateRefundPercent = DefaultModerateRefundPercent
	}
	if c.SevereRefundPercent == 0 {
		c.SevereRefundPercent = DefaultSevereRefundPercent
	}
	if c.CriticalBreachCount == 0 {
		c.CriticalBreachCount = DefaultCriticalBreachCount
	}
	if c.Window == 0 {
		c.Window = CriticalWindow
	}
	if c.Window < 0 {
		return &types.Error{Code: types.ErrConfigError, Message: "sla window cannot be negative"}
	}

	if err := utils.Validator().Struct(c); err != nil {
		return &types.Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("invalid sla config: %v", err),
		}
	}
	return nil
}

// threshold returns the configured limit for a breach dimension.
func (c *Config) threshold(t types.BreachType) int64 {
	switch t {
	case types.BreachLatency:
		return c.MaxLatencyMs
	case types.BreachUptime:
		return c.MinUptimeBps
	case types.BreachErrorRate:
		return c.MaxErrorBps
	case types.BreachJitter:
		return c.MaxJitterMs
	default:
		return 0
	}
}
