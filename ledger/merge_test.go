package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildhash/cronox/types"
)

func TestMerge(t *testing.T) {
	base := time.Unix(1700000000, 0)

	t.Run("overlapping id collapses to the more complete record", func(t *testing.T) {
		full := receipt("0xshared", base.Add(time.Minute))
		partial := &types.PaymentReceipt{
			TransactionID: "0xshared",
			Amount:        "100000",
			Timestamp:     base.Add(time.Minute),
		}

		merged := Merge([]*types.PaymentReceipt{partial}, []*types.PaymentReceipt{full}, 10)
		require.Len(t, merged, 1)
		assert.Equal(t, full.Payer, merged[0].Payer)
		assert.Equal(t, full.Currency, merged[0].Currency)
	})

	t.Run("ties prefer the primary source", func(t *testing.T) {
		primary := receipt("0xshared", base)
		primary.Resource = "/primary"
		legacy := receipt("0xshared", base)
		legacy.Resource = "/legacy"

		merged := Merge([]*types.PaymentReceipt{primary}, []*types.PaymentReceipt{legacy}, 10)
		require.Len(t, merged, 1)
		assert.Equal(t, "/primary", merged[0].Resource)
	})

	t.Run("sorted by timestamp descending", func(t *testing.T) {
		a := receipt("0xa", base.Add(time.Minute))
		b := receipt("0xb", base.Add(3*time.Minute))
		c := receipt("0xc", base.Add(2*time.Minute))

		merged := Merge([]*types.PaymentReceipt{a, b}, []*types.PaymentReceipt{c}, 10)
		require.Len(t, merged, 3)
		assert.Equal(t, "0xb", merged[0].TransactionID)
		assert.Equal(t, "0xc", merged[1].TransactionID)
		assert.Equal(t, "0xa", merged[2].TransactionID)
	})

	t.Run("equal timestamps break ties by transaction id", func(t *testing.T) {
		a := receipt("0xa", base)
		b := receipt("0xb", base)

		merged := Merge([]*types.PaymentReceipt{b}, []*types.PaymentReceipt{a}, 10)
		require.Len(t, merged, 2)
		assert.Equal(t, "0xa", merged[0].TransactionID)
	})

	t.Run("independent of input order", func(t *testing.T) {
		set1 := []*types.PaymentReceipt{
			receipt("0xa", base.Add(time.Minute)),
			receipt("0xb", base.Add(2*time.Minute)),
		}
		set2 := []*types.PaymentReceipt{
			receipt("0xb", base.Add(2*time.Minute)),
			receipt("0xc", base.Add(3*time.Minute)),
		}

		forward := Merge(set1, set2, 10)
		reversed := Merge(reverse(set1), reverse(set2), 10)
		assert.Equal(t, forward, reversed)
	})

	t.Run("truncates to the requested count", func(t *testing.T) {
		var primary []*types.PaymentReceipt
		for i := 0; i < 10; i++ {
			primary = append(primary, receipt("0xtx"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute)))
		}

		merged := Merge(primary, nil, 4)
		assert.Len(t, merged, 4)
	})

	t.Run("records without a transaction id are dropped", func(t *testing.T) {
		merged := Merge([]*types.PaymentReceipt{{Amount: "1"}}, nil, 10)
		assert.Empty(t, merged)
	})
}

func reverse(in []*types.PaymentReceipt) []*types.PaymentReceipt {
	out := make([]*types.PaymentReceipt, len(in))
	for i, r := range in {
		out[len(in)-1-i] = r
	}
	return out
}
