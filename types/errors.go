package types

// Error is the typed protocol error carried across component boundaries.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Common error codes.
const (
	ErrInvalidPayload     = "INVALID_PAYLOAD"
	ErrInvalidRequirement = "INVALID_REQUIREMENT"
	ErrMissingField       = "MISSING_FIELD"
	ErrKeyUnavailable     = "KEY_UNAVAILABLE"
	ErrSigningFailed      = "SIGNING_FAILED"
	ErrVerificationFailed = "VERIFICATION_FAILED"
	ErrSettlementFailed   = "SETTLEMENT_FAILED"
	ErrSettlementUnknown  = "SETTLEMENT_UNKNOWN"
	ErrLedgerConflict     = "LEDGER_CONFLICT"
	ErrLedgerWrite        = "LEDGER_WRITE"
	ErrUnsupportedNetwork = "UNSUPPORTED_NETWORK"
	ErrConfigError        = "CONFIG_ERROR"
	ErrStreamTerminated   = "STREAM_TERMINATED"
)
