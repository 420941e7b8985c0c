package utils

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/wildhash/cronox/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validator exposes the shared validator instance so other packages can
// run struct-tag validation without constructing their own.
func Validator() *validator.Validate {
	return validate
}

// ParsePaymentRequirement parses and validates a PaymentRequirement from
// JSON using its struct tags.
func ParsePaymentRequirement(data []byte) (*types.PaymentRequirement, error) {
	var req types.PaymentRequirement

	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &types.Error{
			Code:    types.ErrInvalidRequirement,
			Message: fmt.Sprintf("failed to parse payment requirement: %v", err),
		}
	}

	if err := validate.Struct(&req); err != nil {
		return nil, &types.Error{
			Code:    types.ErrInvalidRequirement,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	return &req, nil
}

// ParseRefundRecord parses a RefundRecord from JSON, for the refund
// ingestion endpoint.
func ParseRefundRecord(data []byte) (*types.RefundRecord, error) {
	var rec types.RefundRecord

	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &types.Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("failed to parse refund record: %v", err),
		}
	}

	if rec.StreamID == "" || rec.RefundAmount == "" {
		return nil, &types.Error{
			Code:    types.ErrInvalidPayload,
			Message: "refund record requires streamId and refundAmount",
		}
	}
	if _, err := ValidateAmount(rec.RefundAmount); err != nil {
		return nil, &types.Error{
			Code:    types.ErrInvalidPayload,
			Message: fmt.Sprintf("invalid refund amount: %v", err),
		}
	}

	return &rec, nil
}
