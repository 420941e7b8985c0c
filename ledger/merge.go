package ledger

import (
	"sort"

	"github.com/wildhash/cronox/types"
)

// Merge combines receipts from a durable store and a legacy in-process
// cache. Duplicated transaction ids collapse to the more complete record
// (ties keep the primary source), the result is sorted by timestamp
// descending with transaction id as tiebreak, and truncated to n. The
// output depends only on the input multisets, not their order.
func Merge(primary, legacy []*types.PaymentReceipt, n int) []*types.PaymentReceipt {
	byID := make(map[string]*types.PaymentReceipt, len(primary)+len(legacy))

	for _, r := range primary {
		if r == nil || r.TransactionID == "" {
			continue
		}
		if cur, ok := byID[r.TransactionID]; !ok || completeness(r) > completeness(cur) {
			byID[r.TransactionID] = r
		}
	}
	for _, r := range legacy {
		if r == nil || r.TransactionID == "" {
			continue
		}
		// Legacy wins only when strictly more complete.
		if cur, ok := byID[r.TransactionID]; !ok || completeness(r) > completeness(cur) {
			byID[r.TransactionID] = r
		}
	}

	out := make([]*types.PaymentReceipt, 0, len(byID))
	for _, r := range byID {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].TransactionID < out[j].TransactionID
	})

	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// completeness counts the populated fields of a receipt.
func completeness(r *types.PaymentReceipt) int {
	score := 0
	for _, f := range []string{r.Payer, r.PayTo, r.Amount, r.Currency, r.Resource} {
		if f != "" {
			score++
		}
	}
	if r.ChainID != 0 {
		score++
	}
	if !r.Timestamp.IsZero() {
		score++
	}
	return score
}
