// Package facilitator talks to the external settlement authority. Verify
// is a side-effect-free pre-check and fails closed: any transport error,
// non-success status or malformed response is an invalid payment. Settle
// moves funds irreversibly; a transport failure there is an ambiguous
// outcome surfaced as ErrOutcomeUnknown and never retried here.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wildhash/cronox/logger"
	"github.com/wildhash/cronox/metrics"
	"github.com/wildhash/cronox/types"
)

// ErrOutcomeUnknown marks a settle call whose request may have reached
// the authority but whose result was lost. Funds may have moved without
// a receipt; operators must reconcile manually.
var ErrOutcomeUnknown = errors.New("settlement outcome unknown")

// DefaultTimeout bounds each remote call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Client is the HTTP client for the authority's verify/settle contract.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        logger.Logger
	rec        metrics.Recorder
}

// Option configures a Client.
type Option func(*Client)

func WithTimeout(t time.Duration) Option {
	return func(c *Client) {
		if t > 0 {
			c.httpClient.Timeout = t
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) {
		c.rec = r
	}
}

// New creates a client for the authority at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		log:        logger.NoopLogger{},
		rec:        metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type verifyRequest struct {
	Payment string `json:"payment"`
	ChainID int64  `json:"chainId"`
}

type settleRequest struct {
	Payment   string `json:"payment"`
	ChainID   int64  `json:"chainId"`
	Recipient string `json:"recipient"`
}

// Verify asks the authority whether the encoded payment is valid. It
// never reports a transport problem as an error: the result is simply
// invalid, with the reason recorded.
func (c *Client) Verify(ctx context.Context, payment string, chainID int64) *types.VerifyOutcome {
	start := time.Now()
	outcome := c.verify(ctx, payment, chainID)
	c.rec.ObserveLatency("verify", time.Since(start), map[string]string{"outcome": outcomeLabel(outcome.Valid)})
	return outcome
}

func (c *Client) verify(ctx context.Context, payment string, chainID int64) *types.VerifyOutcome {
	var out types.VerifyOutcome
	if err := c.post(ctx, "/verify", verifyRequest{Payment: payment, ChainID: chainID}, &out); err != nil {
		c.log.Warn("verify call failed", map[string]any{"error": err.Error(), "chainId": chainID})
		return &types.VerifyOutcome{Valid: false, Reason: fmt.Sprintf("verification unavailable: %v", err)}
	}
	return &out
}

// Settle asks the authority to execute the transfer. A response with
// success=false is a confirmed failure and returns a nil error; the
// caller may retry with a new authorization. A transport error or
// malformed response wraps ErrOutcomeUnknown.
func (c *Client) Settle(ctx context.Context, payment string, chainID int64, recipient string) (*types.SettleOutcome, error) {
	start := time.Now()
	out, err := c.settle(ctx, payment, chainID, recipient)
	label := "failed"
	if err != nil {
		label = "unknown"
	} else if out.Success {
		label = "settled"
	}
	c.rec.ObserveLatency("settle", time.Since(start), map[string]string{"outcome": label})
	return out, err
}

func (c *Client) settle(ctx context.Context, payment string, chainID int64, recipient string) (*types.SettleOutcome, error) {
	var out types.SettleOutcome
	if err := c.post(ctx, "/settle", settleRequest{Payment: payment, ChainID: chainID, Recipient: recipient}, &out); err != nil {
		c.log.Error("settle outcome unknown", map[string]any{"error": err.Error(), "chainId": chainID})
		return nil, fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	}
	if !out.Success && out.TransactionID == "" && out.Reason == "" {
		out.Reason = "settlement rejected by authority"
	}
	return &out, nil
}

// post issues one JSON request/response round trip. Non-2xx statuses and
// undecodable bodies are errors; the caller decides whether that means
// fail-closed or outcome-unknown.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("authority returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func outcomeLabel(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}
