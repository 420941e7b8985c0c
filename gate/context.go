package gate

import (
	"context"

	"github.com/wildhash/cronox/types"
)

type contextKey struct{}

var receiptKey contextKey

// WithReceipt attaches a settled payment receipt to the request context.
func WithReceipt(ctx context.Context, r *types.PaymentReceipt) context.Context {
	return context.WithValue(ctx, receiptKey, r)
}

// ReceiptFromContext returns the receipt attached by the gate, if the
// request was admitted through a settled payment.
func ReceiptFromContext(ctx context.Context) (*types.PaymentReceipt, bool) {
	r, ok := ctx.Value(receiptKey).(*types.PaymentReceipt)
	return r, ok
}
