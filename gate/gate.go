// Package gate is the server-side protocol state machine. Every request
// to a protected resource walks Unpaid → Challenged → Verifying →
// Settling → Admitted, or drops into Rejected. Side effects are strictly
// ordered: the receipt is appended before the resource handler runs, and
// the handler runs before the response is transmitted.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wildhash/cronox/codec"
	"github.com/wildhash/cronox/facilitator"
	"github.com/wildhash/cronox/ledger"
	"github.com/wildhash/cronox/logger"
	"github.com/wildhash/cronox/metrics"
	"github.com/wildhash/cronox/types"
	"github.com/wildhash/cronox/utils"
)

// Settlement is the boundary to the external settlement authority.
// facilitator.Client implements it; tests may substitute their own.
type Settlement interface {
	Verify(ctx context.Context, payment string, chainID int64) *types.VerifyOutcome
	Settle(ctx context.Context, payment string, chainID int64, recipient string) (*types.SettleOutcome, error)
}

// Gate guards protected resources behind the challenge/settle cycle.
type Gate struct {
	template   types.PaymentRequirement
	settlement Settlement
	store      ledger.Ledger
	log        logger.Logger
	rec        metrics.Recorder
	clock      func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

func WithLogger(l logger.Logger) Option {
	return func(g *Gate) { g.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(g *Gate) { g.rec = r }
}

func WithClock(clock func() time.Time) Option {
	return func(g *Gate) { g.clock = clock }
}

// New creates a gate. The template requirement supplies amount, currency,
// recipient, chain, asset and facilitator URL; the resource field is
// filled per request.
func New(template types.PaymentRequirement, settlement Settlement, store ledger.Ledger, opts ...Option) (*Gate, error) {
	template.Version = types.ProtocolVersion
	if err := (&types.PaymentRequirement{
		Resource:       "/",
		Amount:         template.Amount,
		Currency:       template.Currency,
		PayTo:          template.PayTo,
		ChainID:        template.ChainID,
		Asset:          template.Asset,
		FacilitatorURL: template.FacilitatorURL,
	}).Validate(); err != nil {
		return nil, err
	}
	if settlement == nil {
		return nil, &types.Error{Code: types.ErrConfigError, Message: "settlement client is required"}
	}
	if store == nil {
		return nil, &types.Error{Code: types.ErrConfigError, Message: "ledger is required"}
	}

	g := &Gate{
		template:   template,
		settlement: settlement,
		store:      store,
		log:        logger.NoopLogger{},
		rec:        metrics.NoopRecorder{},
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// RequirementFor builds the per-request payment requirement. Challenges
// are regenerated on every unpaid request; nothing is retained between
// them.
func (g *Gate) RequirementFor(r *http.Request) *types.PaymentRequirement {
	req := g.template
	req.Resource = r.URL.Path
	return &req
}

// Middleware wraps a resource handler with the payment state machine.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requirement := g.RequirementFor(r)

		header := r.Header.Get(types.PaymentHeader)
		if header == "" {
			// Unpaid → Challenged.
			g.count("challenge", "issued")
			g.writeChallenge(w, requirement)
			return
		}

		// Challenged → Verifying.
		payload, err := codec.Decode(header)
		if err != nil {
			// Malformed payload rejects immediately; no remote call.
			g.count("reject", "malformed")
			g.writeError(w, http.StatusBadRequest, err)
			return
		}

		// The authorization must bind the exact challenge terms. The
		// authority only attests the signature; amount, chain, token and
		// recipient are checked here, before any remote call.
		if reason := g.mismatch(payload, requirement); reason != "" {
			g.count("reject", "mismatch")
			g.log.Info("payment does not match challenge terms", map[string]any{
				"resource": requirement.Resource,
				"reason":   reason,
			})
			g.writeChallenge(w, requirement)
			return
		}

		verify := g.settlement.Verify(r.Context(), header, requirement.ChainID)
		if !verify.Valid {
			// Rejected: re-issue a fresh challenge so the caller can
			// retry with a new authorization.
			g.count("reject", "verification")
			g.log.Info("payment verification failed", map[string]any{
				"resource": requirement.Resource,
				"reason":   verify.Reason,
			})
			g.writeChallenge(w, requirement)
			return
		}
		if verify.Amount != "" && verify.Amount != requirement.Amount {
			// The authority saw a different amount move than the
			// challenge demanded.
			g.count("reject", "mismatch")
			g.log.Info("verified amount does not match challenge", map[string]any{
				"resource": requirement.Resource,
				"verified": verify.Amount,
				"required": requirement.Amount,
			})
			g.writeChallenge(w, requirement)
			return
		}

		// Verifying → Settling.
		settle, err := g.settlement.Settle(r.Context(), header, requirement.ChainID, requirement.PayTo)
		if err != nil {
			if errors.Is(err, facilitator.ErrOutcomeUnknown) {
				// Funds may have moved without a receipt. No fresh
				// challenge: a retry could double-charge the payer.
				g.count("reject", "settlement_unknown")
				g.log.Error("settlement outcome unknown", map[string]any{
					"resource": requirement.Resource,
					"error":    err.Error(),
				})
				g.writeError(w, http.StatusBadGateway, &types.Error{
					Code:    types.ErrSettlementUnknown,
					Message: "settlement outcome unknown; retry is not safe, contact support",
				})
				return
			}
			g.count("reject", "settlement")
			g.writeChallenge(w, requirement)
			return
		}
		if !settle.Success {
			// Confirmed failure: a verified-but-unsettled authorization
			// grants nothing.
			g.count("reject", "settlement")
			g.log.Info("settlement rejected", map[string]any{
				"resource": requirement.Resource,
				"reason":   settle.Reason,
			})
			g.writeChallenge(w, requirement)
			return
		}

		// Settling → Admitted. Receipt append happens-before the
		// handler; append failure fails closed even though funds moved.
		receipt := &types.PaymentReceipt{
			TransactionID: settle.TransactionID,
			Payer:         verify.Payer,
			PayTo:         requirement.PayTo,
			Amount:        requirement.Amount,
			Currency:      requirement.Currency,
			Resource:      requirement.Resource,
			ChainID:       requirement.ChainID,
			Timestamp:     g.clock(),
		}

		start := g.clock()
		if err := g.store.PutReceipt(r.Context(), receipt); err != nil {
			g.rec.ObserveLatency("ledger_append", g.clock().Sub(start), map[string]string{"outcome": "error"})
			if ledger.IsConflict(err) {
				// The same settlement was already recorded; treat the
				// replay as rejected rather than re-admitting.
				g.count("reject", "replay")
				g.writeChallenge(w, requirement)
				return
			}
			g.count("reject", "ledger")
			g.log.Error("receipt append failed after settlement", map[string]any{
				"transactionId": settle.TransactionID,
				"error":         err.Error(),
			})
			g.writeError(w, http.StatusInternalServerError, &types.Error{
				Code:    types.ErrLedgerWrite,
				Message: "payment settled but could not be recorded",
			})
			return
		}
		g.rec.ObserveLatency("ledger_append", g.clock().Sub(start), map[string]string{"outcome": "ok"})

		g.count("admit", "settled")
		g.log.Info("payment admitted", map[string]any{
			"transactionId": receipt.TransactionID,
			"payer":         receipt.Payer,
			"resource":      receipt.Resource,
		})

		next.ServeHTTP(w, r.WithContext(WithReceipt(r.Context(), receipt)))
	})
}

// mismatch reports the first way a decoded payload deviates from the
// challenge, or "" when the authorization binds every term.
func (g *Gate) mismatch(p *types.PaymentPayload, req *types.PaymentRequirement) string {
	switch {
	case p.ChainID != req.ChainID:
		return fmt.Sprintf("chain id %d, challenge requires %d", p.ChainID, req.ChainID)
	case utils.NormalizeAddress(p.Asset) != utils.NormalizeAddress(req.Asset):
		return fmt.Sprintf("asset %s, challenge requires %s", p.Asset, req.Asset)
	case utils.NormalizeAddress(p.Authorization.To) != utils.NormalizeAddress(req.PayTo):
		return fmt.Sprintf("recipient %s, challenge requires %s", p.Authorization.To, req.PayTo)
	case p.Authorization.Value != req.Amount:
		return fmt.Sprintf("value %s, challenge requires %s", p.Authorization.Value, req.Amount)
	}
	return ""
}

func (g *Gate) writeChallenge(w http.ResponseWriter, req *types.PaymentRequirement) {
	writeJSON(w, http.StatusPaymentRequired, types.ChallengeFor(req))
}

func (g *Gate) writeError(w http.ResponseWriter, status int, err error) {
	te, ok := err.(*types.Error)
	if !ok {
		te = &types.Error{Code: types.ErrInvalidPayload, Message: err.Error()}
	}
	writeJSON(w, status, map[string]any{"error": te.Message, "code": te.Code})
}

func (g *Gate) count(event, outcome string) {
	g.rec.IncCounter(event, map[string]string{"outcome": outcome})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
