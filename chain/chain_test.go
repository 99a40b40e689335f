package chain_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auctiond/chain"
	"github.com/textileio/auctiond/chain/chaintest"
	"github.com/textileio/auctiond/eerc"
)

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	escrow = common.HexToAddress("0x0000000000000000000000000000000000e5c70e")
)

func TestParseTransfer(t *testing.T) {
	t.Parallel()
	auditor := eerc.NewPrivateKey(big.NewInt(777))
	txHash := common.HexToHash("0xabcdef")
	l := chaintest.NewTransferLog(txHash, 3, 42, alice, escrow, auditor.Public(), 1500)

	ev, err := chain.ParseTransfer(l)
	require.NoError(t, err)
	assert.Equal(t, txHash, ev.TxHash)
	assert.Equal(t, uint(3), ev.LogIndex)
	assert.Equal(t, uint64(42), ev.BlockNumber)
	assert.Equal(t, alice, ev.From)
	assert.Equal(t, escrow, ev.To)
	assert.Equal(t, chaintest.ContractAddress, ev.Auditor)

	amount, err := eerc.DecryptPCT(ev.AuditorPCT, auditor)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), amount.Int64())
}

func TestParseTransferRejectsOtherLogs(t *testing.T) {
	t.Parallel()
	_, err := chain.ParseTransfer(types.Log{Topics: []common.Hash{common.HexToHash("0x01")}})
	require.ErrorIs(t, err, chain.ErrNotTransferLog)

	l := chaintest.NewTransferLog(common.HexToHash("0x01"), 0, 1, alice, escrow, eerc.NewPrivateKey(big.NewInt(3)).Public(), 1)
	l.Data = l.Data[:32]
	_, err = chain.ParseTransfer(l)
	require.Error(t, err)
}

func TestPackTransfer(t *testing.T) {
	t.Parallel()
	var proof chain.Proof
	for i := range proof.PublicSignals {
		proof.PublicSignals[i] = big.NewInt(int64(i))
	}
	for i := 0; i < 2; i++ {
		proof.ProofPoints.A[i] = big.NewInt(1)
		proof.ProofPoints.C[i] = big.NewInt(2)
		proof.ProofPoints.B[i] = [2]*big.Int{big.NewInt(3), big.NewInt(4)}
	}
	var pct eerc.PCT
	for i := range pct {
		pct[i] = big.NewInt(int64(i + 10))
	}

	data, err := chain.PackTransfer(alice, big.NewInt(0), proof, pct)
	require.NoError(t, err)
	// selector + to + tokenId + 8 proof points + 32 signals + 7 pct
	assert.Len(t, data, 4+32*(2+8+32+7))
}

func TestBalancePCTs(t *testing.T) {
	t.Parallel()
	b := chain.Balance{AmountPCTs: make([]eerc.PCT, 2)}
	assert.Len(t, b.PCTs(), 3)
}
