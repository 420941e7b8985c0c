// Package types defines the wire and domain types for the cronox
// pay-per-request protocol: payment requirements, signed transfer
// authorizations, receipts, refunds and the error taxonomy shared by
// every component.
package types

import (
	"fmt"
	"time"
)

// ProtocolVersion is the schema version carried in challenges and payloads.
const ProtocolVersion = 1

// PaymentHeader is the request header carrying the encoded authorization.
const PaymentHeader = "X-Payment"

// PayloadTypeEIP3009 tags a PaymentPayload carrying an EIP-3009
// TransferWithAuthorization.
const PayloadTypeEIP3009 = "eip3009"

// PaymentRequirement is issued by the payment gate when a protected
// resource is requested unpaid. It is regenerated per request and never
// persisted.
type PaymentRequirement struct {
	// Resource is the path of the resource being paid for.
	Resource string `json:"resource" validate:"required"`

	// Amount required to access the resource, in atomic units of the
	// asset. Represented as a decimal string because Go has no uint256.
	Amount string `json:"amount" validate:"required,number"`

	// Currency symbol of the asset, e.g. "USDC.e".
	Currency string `json:"currency" validate:"required"`

	// PayTo is the address the payment must be sent to.
	PayTo string `json:"payTo" validate:"required"`

	// ChainID of the network the transfer must execute on.
	ChainID int64 `json:"chainId" validate:"required,gt=0"`

	// Asset is the address of the EIP-3009 compliant token contract.
	Asset string `json:"asset" validate:"required"`

	// FacilitatorURL is the base URL of the settlement authority.
	FacilitatorURL string `json:"facilitatorUrl" validate:"required,url"`

	// Description of the resource being purchased.
	Description string `json:"description,omitempty"`

	// Version of the challenge schema.
	Version int `json:"version"`
}

// Validate checks that the requirement carries every field an
// authorization must bind.
func (r *PaymentRequirement) Validate() error {
	switch {
	case r.Resource == "":
		return &Error{Code: ErrMissingField, Message: "paymentRequirement.resource is required"}
	case r.Amount == "":
		return &Error{Code: ErrMissingField, Message: "paymentRequirement.amount is required"}
	case r.PayTo == "":
		return &Error{Code: ErrMissingField, Message: "paymentRequirement.payTo is required"}
	case r.ChainID <= 0:
		return &Error{Code: ErrMissingField, Message: "paymentRequirement.chainId is required"}
	case r.Asset == "":
		return &Error{Code: ErrMissingField, Message: "paymentRequirement.asset is required"}
	case r.Currency == "":
		return &Error{Code: ErrMissingField, Message: "paymentRequirement.currency is required"}
	}
	return nil
}

// PaymentRequiredResponse is the body of the 402 challenge.
type PaymentRequiredResponse struct {
	Version         int    `json:"version"`
	PaymentRequired bool   `json:"paymentRequired"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	PayTo           string `json:"payTo"`
	ChainID         int64  `json:"chainId"`
	Asset           string `json:"asset"`
	FacilitatorURL  string `json:"facilitatorUrl"`
	Description     string `json:"description,omitempty"`
	Network         string `json:"network"`
}

// ChallengeFor builds the 402 body for a requirement.
func ChallengeFor(r *PaymentRequirement) *PaymentRequiredResponse {
	return &PaymentRequiredResponse{
		Version:         ProtocolVersion,
		PaymentRequired: true,
		Amount:          r.Amount,
		Currency:        r.Currency,
		PayTo:           r.PayTo,
		ChainID:         r.ChainID,
		Asset:           r.Asset,
		FacilitatorURL:  r.FacilitatorURL,
		Description:     r.Description,
		Network:         NetworkForChainID(r.ChainID).String(),
	}
}

// TransferAuthorization is the EIP-3009 TransferWithAuthorization message
// signed by the payer. ValidAfter/ValidBefore bound a half-open window
// [validAfter, validBefore) in Unix seconds; Nonce is 32 random bytes as
// 0x-prefixed hex.
type TransferAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// SignatureBundle carries an authorization signature in either of the two
// wire forms: a combined 65-byte hex value, or split r/s/v components.
// Encode and decode treat both symmetrically.
type SignatureBundle struct {
	Signature string `json:"signature,omitempty"`
	R         string `json:"r,omitempty"`
	S         string `json:"s,omitempty"`
	V         uint8  `json:"v,omitempty"`
}

// Combined reports whether the bundle uses the single-value form.
func (s *SignatureBundle) Combined() bool {
	return s.Signature != ""
}

// PaymentPayload is the decoded content of the payment header: a transfer
// authorization plus its target chain and token, and the signature over
// the typed digest binding all of them.
type PaymentPayload struct {
	Type          string                `json:"type"`
	Version       int                   `json:"version"`
	ChainID       int64                 `json:"chainId"`
	Asset         string                `json:"asset"`
	Authorization TransferAuthorization `json:"authorization"`
	Signature     SignatureBundle       `json:"signature"`
}

// Validate checks structural completeness of a decoded payload.
func (p *PaymentPayload) Validate() error {
	if p.Type != PayloadTypeEIP3009 {
		return &Error{Code: ErrInvalidPayload, Message: fmt.Sprintf("unsupported payload type %q", p.Type)}
	}
	if p.ChainID <= 0 {
		return &Error{Code: ErrInvalidPayload, Message: "payload chainId is required"}
	}
	if p.Asset == "" {
		return &Error{Code: ErrInvalidPayload, Message: "payload asset is required"}
	}
	a := p.Authorization
	if a.From == "" || a.To == "" || a.Value == "" || a.Nonce == "" {
		return &Error{Code: ErrInvalidPayload, Message: "authorization is incomplete"}
	}
	if !p.Signature.Combined() && (p.Signature.R == "" || p.Signature.S == "") {
		return &Error{Code: ErrInvalidPayload, Message: "signature is missing"}
	}
	return nil
}

// PaymentReceipt is the durable proof of a settled payment. Receipts are
// append-only and keyed by the authority-assigned transaction identifier.
type PaymentReceipt struct {
	TransactionID string    `json:"transactionId"`
	Payer         string    `json:"payer"`
	PayTo         string    `json:"payTo"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Resource      string    `json:"resource"`
	ChainID       int64     `json:"chainId"`
	Timestamp     time.Time `json:"timestamp"`
}

// RefundRecord is written by the refund tier engine on a confirmed
// breach. TransactionID references the originating receipt when one is on
// file; a refund may exist without one if the payment settled out-of-band.
type RefundRecord struct {
	RefundID            string     `json:"refundId"`
	TransactionID       string     `json:"transactionId,omitempty"`
	StreamID            string     `json:"streamId"`
	Breach              BreachType `json:"breach"`
	Tier                Tier       `json:"tier"`
	RefundPercent       uint64     `json:"refundPercent"`
	RefundAmount        string     `json:"refundAmount"`
	RefundTransactionID string     `json:"refundTransactionId,omitempty"`
	Timestamp           time.Time  `json:"timestamp"`
}

// BreachType enumerates the observed quality dimensions.
type BreachType string

const (
	BreachLatency   BreachType = "latency"
	BreachUptime    BreachType = "uptime"
	BreachErrorRate BreachType = "error-rate"
	BreachJitter    BreachType = "jitter"
)

// Tier is the discrete breach severity driving the refund percentage.
type Tier int

const (
	TierNone Tier = iota
	TierMinor
	TierModerate
	TierSevere
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierMinor:
		return "minor"
	case TierModerate:
		return "moderate"
	case TierSevere:
		return "severe"
	case TierCritical:
		return "critical"
	default:
		return "none"
	}
}

// BreachEvent is a derived observation fed to the refund tier engine. It
// is ephemeral; only the RefundRecord it may produce is persisted.
type BreachEvent struct {
	Type      BreachType `json:"type"`
	Measured  int64      `json:"measured"`
	Threshold int64      `json:"threshold"`
	Timestamp time.Time  `json:"timestamp"`
}

// VerifyOutcome is the settlement authority's answer to a verify call.
type VerifyOutcome struct {
	Valid  bool   `json:"valid"`
	Payer  string `json:"payer,omitempty"`
	Amount string `json:"amount,omitempty"`
	Reason string `json:"error,omitempty"`
}

// SettleOutcome is the settlement authority's answer to a settle call.
type SettleOutcome struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
	Reason        string `json:"error,omitempty"`
}
