// Package cronox implements a pay-per-request protocol: a resource
// server challenges unpaid callers with a 402, callers answer with a
// signed gasless transfer authorization, and the server exchanges it
// with a settlement authority for an irreversible proof of payment
// before releasing the resource. A graduated refund engine converts
// observed SLA breaches into partial or full escrow refunds.
package cronox

import (
	"net/http"
	"time"

	"github.com/wildhash/cronox/facilitator"
	"github.com/wildhash/cronox/gate"
	"github.com/wildhash/cronox/ledger"
	"github.com/wildhash/cronox/logger"
	"github.com/wildhash/cronox/metrics"
	"github.com/wildhash/cronox/sla"
	"github.com/wildhash/cronox/types"
)

// Version information.
const (
	Version         = "1.0.0"
	ProtocolVersion = types.ProtocolVersion
)

// Config is the server-side configuration for one protected deployment.
type Config struct {
	// Payment terms applied to every protected resource.
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	PayTo       string `json:"payTo"`
	ChainID     int64  `json:"chainId"`
	Asset       string `json:"asset"`
	Description string `json:"description,omitempty"`

	// FacilitatorURL is the settlement authority's base URL.
	FacilitatorURL string `json:"facilitatorUrl"`

	// Timeout bounds each remote verify/settle call.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Cronox wires the payment gate, settlement client, ledger and refund
// engine for one deployment.
type Cronox struct {
	config *Config
	client *facilitator.Client
	store  ledger.Ledger
	gate   *gate.Gate
	router *gate.Router

	log logger.Logger
	rec metrics.Recorder
}

// New builds a deployment from config. Defaults: in-memory ledger, noop
// logger and metrics, 30s settlement timeout.
func New(cfg *Config, opts ...Option) (*Cronox, error) {
	if cfg == nil {
		return nil, &types.Error{Code: types.ErrConfigError, Message: "config is required"}
	}

	c := &Cronox{
		config: cfg,
		log:    logger.NoopLogger{},
		rec:    metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		c.store = ledger.NewMemory()
	}

	if c.client == nil {
		timeout := facilitator.DefaultTimeout
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout
		}
		c.client = facilitator.New(cfg.FacilitatorURL,
			facilitator.WithTimeout(timeout),
			facilitator.WithLogger(c.log),
			facilitator.WithMetrics(c.rec),
		)
	}

	g, err := gate.New(types.PaymentRequirement{
		Amount:         cfg.Amount,
		Currency:       cfg.Currency,
		PayTo:          cfg.PayTo,
		ChainID:        cfg.ChainID,
		Asset:          cfg.Asset,
		FacilitatorURL: cfg.FacilitatorURL,
		Description:    cfg.Description,
	}, c.client, c.store, gate.WithLogger(c.log), gate.WithMetrics(c.rec))
	if err != nil {
		return nil, err
	}
	c.gate = g
	c.router = gate.NewRouter(g, c.store)

	return c, nil
}

// Middleware wraps a handler with the payment state machine.
func (c *Cronox) Middleware(next http.Handler) http.Handler {
	return c.gate.Middleware(next)
}

// Router returns the HTTP surface: protected resource registration plus
// the receipt query and refund ingestion endpoints.
func (c *Cronox) Router() *gate.Router {
	return c.router
}

// Ledger exposes the receipt store for aggregation and reconciliation.
func (c *Cronox) Ledger() ledger.Ledger {
	return c.store
}

// NewEvaluator creates a per-stream refund tier engine writing to this
// deployment's ledger.
func (c *Cronox) NewEvaluator(streamID string, escrowed uint64, cfg sla.Config) (*sla.Evaluator, error) {
	return sla.NewEvaluator(streamID, escrowed, cfg, c.store, c.log)
}
