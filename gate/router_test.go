package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildhash/cronox/ledger"
	"github.com/wildhash/cronox/types"
)

func newTestRouter(t *testing.T, opts ...RouterOption) (*Router, *ledger.Memory) {
	t.Helper()
	store := ledger.NewMemory()
	g := newTestGate(t, &mockSettlement{}, store)
	return NewRouter(g, store, opts...), store
}

func seedReceipt(t *testing.T, store ledger.Ledger, id string, ts time.Time) {
	t.Helper()
	require.NoError(t, store.PutReceipt(context.Background(), &types.PaymentReceipt{
		TransactionID: id,
		Payer:         testPayer,
		PayTo:         testPayTo,
		Amount:        "100000",
		Currency:      "USDC.e",
		Resource:      "/api/data",
		ChainID:       338,
		Timestamp:     ts,
	}))
}

func TestRouterListReceipts(t *testing.T) {
	rt, store := newTestRouter(t)
	base := time.Unix(1700000000, 0)
	seedReceipt(t, store, "0xtx1", base)
	seedReceipt(t, store, "0xtx2", base.Add(time.Minute))
	seedReceipt(t, store, "0xtx3", base.Add(2*time.Minute))

	t.Run("newest first with count", func(t *testing.T) {
		w := httptest.NewRecorder()
		rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/receipts?count=2", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Receipts []*types.PaymentReceipt `json:"receipts"`
			Count    int                     `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, 2, body.Count)
		assert.Equal(t, "0xtx3", body.Receipts[0].TransactionID)
		assert.Equal(t, "0xtx2", body.Receipts[1].TransactionID)
	})

	t.Run("invalid count rejected", func(t *testing.T) {
		for _, raw := range []string{"abc", "-1"} {
			w := httptest.NewRecorder()
			rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/receipts?count="+raw, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		}
	})

	t.Run("empty ledger returns an empty list", func(t *testing.T) {
		empty, _ := newTestRouter(t)
		w := httptest.NewRecorder()
		empty.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/receipts", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"receipts":[],"count":0}`, w.Body.String())
	})
}

func TestRouterListMergesLegacyReceipts(t *testing.T) {
	base := time.Unix(1700000000, 0)
	legacy := []*types.PaymentReceipt{
		{TransactionID: "0xlegacy", Amount: "100000", Timestamp: base.Add(time.Hour)},
	}
	rt, store := newTestRouter(t, WithLegacyReceipts(func() []*types.PaymentReceipt { return legacy }))
	seedReceipt(t, store, "0xtx1", base)

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/receipts", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Receipts []*types.PaymentReceipt `json:"receipts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Receipts, 2)
	assert.Equal(t, "0xlegacy", body.Receipts[0].TransactionID)
	assert.Equal(t, "0xtx1", body.Receipts[1].TransactionID)
}

func TestRouterGetReceipt(t *testing.T) {
	rt, store := newTestRouter(t)
	seedReceipt(t, store, "0xtx1", time.Unix(1700000000, 0))

	t.Run("found", func(t *testing.T) {
		w := httptest.NewRecorder()
		rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/receipts/0xtx1", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var got types.PaymentReceipt
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "0xtx1", got.TransactionID)
		assert.Equal(t, testPayer, got.Payer)
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/receipts/0xmissing", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRouterIngestRefund(t *testing.T) {
	body := `{"streamId":"stream-1","breach":"uptime","tier":3,"refundPercent":50,"refundAmount":"500000"}`

	t.Run("created with generated id and timestamp", func(t *testing.T) {
		rt, store := newTestRouter(t)
		w := httptest.NewRecorder()
		rt.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/refunds", strings.NewReader(body)))
		require.Equal(t, http.StatusCreated, w.Code)

		var got types.RefundRecord
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.True(t, strings.HasPrefix(got.RefundID, "stream-1-"))
		assert.False(t, got.Timestamp.IsZero())

		refunds, err := store.Refunds(context.Background(), "stream-1")
		require.NoError(t, err)
		assert.Len(t, refunds, 1)
	})

	t.Run("duplicate refund id is a conflict", func(t *testing.T) {
		rt, _ := newTestRouter(t)
		withID := `{"refundId":"stream-1-1","streamId":"stream-1","refundAmount":"500000"}`

		w := httptest.NewRecorder()
		rt.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/refunds", strings.NewReader(withID)))
		require.Equal(t, http.StatusCreated, w.Code)

		w = httptest.NewRecorder()
		rt.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/refunds", strings.NewReader(withID)))
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("incomplete record rejected", func(t *testing.T) {
		rt, _ := newTestRouter(t)
		for _, payload := range []string{
			`not json`,
			`{"streamId":"stream-1"}`,
			`{"streamId":"stream-1","refundAmount":"half"}`,
		} {
			w := httptest.NewRecorder()
			rt.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/refunds", strings.NewReader(payload)))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		}
	})
}

func TestRouterProtectedResource(t *testing.T) {
	rt, store := newTestRouter(t)
	rt.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		receipt, ok := ReceiptFromContext(r.Context())
		require.True(t, ok)
		writeJSON(w, http.StatusOK, map[string]string{"paidBy": receipt.Payer})
	})

	// Unpaid request walks into the challenge.
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/data", nil))
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.True(t, decodeChallenge(t, w).PaymentRequired)

	// Paid retry is admitted and leaves a receipt behind.
	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set(types.PaymentHeader, paidHeader(t, "0x01"))
	w = httptest.NewRecorder()
	rt.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"paidBy":"`+testPayer+`"}`, w.Body.String())

	stored, err := store.Receipt(context.Background(), "0xsettled1")
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestRouterHealthz(t *testing.T) {
	rt, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
