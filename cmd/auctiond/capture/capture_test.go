package capture

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auctiond/chain/chaintest"
	"github.com/textileio/auctiond/cmd/auctiond/store"
	"github.com/textileio/auctiond/eerc"
)

var (
	escrow = common.HexToAddress("0x0000000000000000000000000000000000e5c70e")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

func newCapturer(t *testing.T) (*Capturer, *store.Store, eerc.PrivateKey) {
	ls, err := store.NewLevelDBSnapshotter("")
	require.NoError(t, err)
	s, err := store.New(ls)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	key := eerc.NewPrivateKey(big.NewInt(4242))
	return New(s, escrow, key), s, key
}

func TestCapture(t *testing.T) {
	t.Parallel()
	c, s, key := newCapturer(t)
	l := chaintest.NewTransferLog(common.HexToHash("0x0a"), 2, 7, alice, escrow, key.Public(), 1500)

	b, inserted, err := c.Capture(l)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, uint64(1500), b.Amount)
	assert.Equal(t, uint64(7), b.BlockNumber)
	assert.Equal(t, uint(2), b.LogIndex)
	assert.Equal(t, alice.Hex(), b.From)
	assert.Equal(t, escrow.Hex(), b.To)

	again, inserted, err := c.Capture(l)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, b, again)
	assert.Len(t, s.ListBids(), 1)
}

func TestCaptureIgnoresOtherRecipients(t *testing.T) {
	t.Parallel()
	c, s, key := newCapturer(t)
	l := chaintest.NewTransferLog(common.HexToHash("0x0b"), 0, 7, escrow, alice, key.Public(), 10)

	_, _, err := c.Capture(l)
	require.ErrorIs(t, err, ErrNotToEscrow)
	assert.Empty(t, s.ListBids())
}

func TestCaptureWrongAuditorKey(t *testing.T) {
	t.Parallel()
	c, s, _ := newCapturer(t)
	other := eerc.NewPrivateKey(big.NewInt(1))
	l := chaintest.NewTransferLog(common.HexToHash("0x0c"), 0, 7, alice, escrow, other.Public(), 10)

	_, _, err := c.Capture(l)
	require.ErrorIs(t, err, ErrUndecodable)
	assert.Empty(t, s.ListBids())
}
