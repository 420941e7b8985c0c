package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/wildhash/cronox/types"
)

// Memory is the in-process ledger. It replaces the global demo arrays:
// state is only reachable through an explicitly constructed instance.
type Memory struct {
	mu       sync.Mutex
	receipts map[string]*types.PaymentReceipt
	order    []string
	refunds  map[string]*types.RefundRecord
	byStream map[string][]string
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		receipts: make(map[string]*types.PaymentReceipt),
		refunds:  make(map[string]*types.RefundRecord),
		byStream: make(map[string][]string),
	}
}

func (m *Memory) PutReceipt(_ context.Context, r *types.PaymentReceipt) error {
	if r == nil || r.TransactionID == "" {
		return &types.Error{Code: types.ErrLedgerWrite, Message: "receipt requires a transaction id"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.receipts[r.TransactionID]; ok {
		return conflictErr(r.TransactionID)
	}
	cp := *r
	m.receipts[r.TransactionID] = &cp
	m.order = append(m.order, r.TransactionID)
	return nil
}

func (m *Memory) Receipt(_ context.Context, transactionID string) (*types.PaymentReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.receipts[transactionID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) Recent(_ context.Context, n int) ([]*types.PaymentReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*types.PaymentReceipt, 0, len(m.receipts))
	for _, id := range m.order {
		cp := *m.receipts[id]
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *Memory) Stats(_ context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := decimal.Zero
	for _, r := range m.receipts {
		amt, err := decimal.NewFromString(r.Amount)
		if err != nil {
			continue
		}
		total = total.Add(amt)
	}
	return &Stats{Count: len(m.receipts), Total: total}, nil
}

func (m *Memory) PutRefund(_ context.Context, r *types.RefundRecord) error {
	if r == nil || r.RefundID == "" {
		return &types.Error{Code: types.ErrLedgerWrite, Message: "refund requires a refund id"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.refunds[r.RefundID]; ok {
		return conflictErr(r.RefundID)
	}
	cp := *r
	m.refunds[r.RefundID] = &cp
	m.byStream[r.StreamID] = append(m.byStream[r.StreamID], r.RefundID)
	return nil
}

func (m *Memory) Refunds(_ context.Context, streamID string) ([]*types.RefundRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byStream[streamID]
	out := make([]*types.RefundRecord, 0, len(ids))
	for _, id := range ids {
		cp := *m.refunds[id]
		out = append(out, &cp)
	}
	return out, nil
}
