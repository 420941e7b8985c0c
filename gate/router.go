package gate

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wildhash/cronox/ledger"
	"github.com/wildhash/cronox/types"
	"github.com/wildhash/cronox/utils"
)

// defaultRecentCount bounds the receipt list when no count is given.
const defaultRecentCount = 20

// Router exposes the gate's HTTP surface: paid resources behind the
// middleware, the read-only receipt query interface, and refund
// ingestion for external monitors.
type Router struct {
	gate  *Gate
	store ledger.Ledger
	mux   *mux.Router

	// legacy supplies receipts from a writer predating the durable
	// store; merged and deduplicated into list responses.
	legacy func() []*types.PaymentReceipt
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLegacyReceipts registers a transient receipt source to merge into
// list-recent responses.
func WithLegacyReceipts(source func() []*types.PaymentReceipt) RouterOption {
	return func(rt *Router) { rt.legacy = source }
}

// NewRouter builds the mux router around a gate and its ledger.
func NewRouter(g *Gate, store ledger.Ledger, opts ...RouterOption) *Router {
	rt := &Router{gate: g, store: store, mux: mux.NewRouter()}
	for _, opt := range opts {
		opt(rt)
	}

	rt.mux.HandleFunc("/receipts", rt.listReceipts).Methods(http.MethodGet)
	rt.mux.HandleFunc("/receipts/{id}", rt.getReceipt).Methods(http.MethodGet)
	rt.mux.HandleFunc("/refunds", rt.ingestRefund).Methods(http.MethodPost)
	rt.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return rt
}

// Handle registers a protected resource behind the payment middleware.
func (rt *Router) Handle(path string, handler http.Handler) {
	rt.mux.Handle(path, rt.gate.Middleware(handler))
}

// HandleFunc registers a protected resource handler function.
func (rt *Router) HandleFunc(path string, handler func(http.ResponseWriter, *http.Request)) {
	rt.Handle(path, http.HandlerFunc(handler))
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mux.ServeHTTP(w, r)
}

func (rt *Router) listReceipts(w http.ResponseWriter, r *http.Request) {
	count := defaultRecentCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "count must be a non-negative integer"})
			return
		}
		count = parsed
	}

	durable, err := rt.store.Recent(r.Context(), count)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list receipts"})
		return
	}

	receipts := durable
	if rt.legacy != nil {
		receipts = ledger.Merge(durable, rt.legacy(), count)
	}
	if receipts == nil {
		receipts = []*types.PaymentReceipt{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"receipts": receipts, "count": len(receipts)})
}

func (rt *Router) getReceipt(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	receipt, err := rt.store.Receipt(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to look up receipt"})
		return
	}
	if receipt == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "receipt not found"})
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// ingestRefund accepts a RefundRecord-shaped payload from an external
// monitor and appends it to the ledger.
func (rt *Router) ingestRefund(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read refund payload"})
		return
	}

	rec, err := utils.ParseRefundRecord(body)
	if err != nil {
		rt.gate.writeError(w, http.StatusBadRequest, err)
		return
	}
	if rec.RefundID == "" {
		rec.RefundID = rec.StreamID + "-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	if err := rt.store.PutRefund(r.Context(), rec); err != nil {
		if ledger.IsConflict(err) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "refund already recorded"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to record refund"})
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}
