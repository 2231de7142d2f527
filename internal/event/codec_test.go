package event_test

import (
	"math/big"
	"testing"
	"time"

	"PoolLedger/internal/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecKeepsMetaAndAmounts(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	in := &event.LoanBorrowed{PoolID: "pool-1", LoanID: "7", Amount: event.PrincipalAmount{Amount: big.NewInt(1000)}}
	in.SetMeta(event.Context{ChainID: "1", BlockNumber: 42, EventIndex: 3, Timestamp: ts, TxHash: "0xabc"})

	raw, err := event.Encode(in)
	require.NoError(t, err)
	out, err := event.Decode(raw)
	require.NoError(t, err)

	got, ok := out.(*event.LoanBorrowed)
	require.True(t, ok)
	assert.Equal(t, "7", got.LoanID)
	assert.Equal(t, 0, got.Amount.Value().Cmp(big.NewInt(1000)))
	assert.Equal(t, "1:42:3", got.IdempotencyKey())
	assert.True(t, ts.Equal(got.Meta().Timestamp))
}

func TestDecodeBlockTickForcesTickIndex(t *testing.T) {
	raw := []byte(`{"type":"BlockTick","meta":{"chain_id":"1","block":9,"index":2,"timestamp":"2024-05-01T00:00:00Z"}}`)
	e, err := event.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(event.TickIndex), e.Meta().EventIndex)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := event.Decode([]byte(`{"type":"Nope","meta":{}}`))
	assert.ErrorIs(t, err, event.ErrUnknownType)
}

func TestExternalPrincipalValue(t *testing.T) {
	wad := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	p := event.PrincipalAmount{Quantity: big.NewInt(5), SettlementPrice: new(big.Int).Mul(big.NewInt(3), wad)}
	assert.True(t, p.IsExternal())
	assert.Equal(t, int64(15), p.Value().Int64())

	r := event.RepaidAmount{Principal: event.PrincipalAmount{Amount: big.NewInt(10)}, Interest: big.NewInt(2)}
	assert.Equal(t, int64(12), r.Total().Int64())
}
