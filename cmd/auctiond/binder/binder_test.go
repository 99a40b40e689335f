package binder

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	golog "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auctiond/auction"
	"github.com/textileio/auctiond/chain/chaintest"
	"github.com/textileio/auctiond/cmd/auctiond/capture"
	"github.com/textileio/auctiond/cmd/auctiond/store"
	"github.com/textileio/auctiond/eerc"
	"github.com/textileio/auctiond/logging"
)

func init() {
	if err := logging.SetLogLevels(map[string]golog.LogLevel{
		"auctiond/binder": golog.LevelDebug,
	}); err != nil {
		panic(err)
	}
}

var (
	escrow    = common.HexToAddress("0x0000000000000000000000000000000000e5c70e")
	escrowKey = eerc.NewPrivateKey(big.NewInt(5555))
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	chainID   = big.NewInt(43113)
)

type env struct {
	ledger   *chaintest.FakeLedger
	store    *store.Store
	capturer *capture.Capturer
	binder   *Binder
	auction  auction.Auction
}

func newEnv(t *testing.T, attempts uint) *env {
	ls, err := store.NewLevelDBSnapshotter("")
	require.NoError(t, err)
	s, err := store.New(ls)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	a, err := s.CreateAuction("A1", nil)
	require.NoError(t, err)

	ledger := chaintest.NewFakeLedger(escrow, escrowKey, 0)
	c := capture.New(s, escrow, escrowKey)
	return &env{
		ledger:   ledger,
		store:    s,
		capturer: c,
		binder:   New(Config{Attempts: attempts, Delay: time.Millisecond}, ledger, s, c, chainID),
		auction:  a,
	}
}

func (e *env) request(sender common.Address, txHash common.Hash, amount uint64) Request {
	h := BindingHash(chainID, e.auction.ID, sender, escrow, new(big.Int).SetUint64(amount), txHash)
	return Request{
		AuctionID:   e.auction.ID,
		TxHash:      txHash.Hex(),
		Sender:      sender.Hex(),
		BindingHash: h.Hex(),
	}
}

func TestBindingHash(t *testing.T) {
	t.Parallel()
	txHash := common.HexToHash("0x1234")
	got := BindingHash(chainID, "a1", alice, escrow, big.NewInt(1500), txHash)

	var packed bytes.Buffer
	packed.Write(common.LeftPadBytes(chainID.Bytes(), 32))
	packed.WriteString("a1")
	packed.Write(alice.Bytes())
	packed.Write(escrow.Bytes())
	packed.Write(common.LeftPadBytes(big.NewInt(1500).Bytes(), 32))
	packed.Write(txHash.Bytes())
	assert.Equal(t, crypto.Keccak256Hash(packed.Bytes()), got)

	assert.NotEqual(t, got, BindingHash(chainID, "a1", alice, escrow, big.NewInt(1501), txHash))
	assert.NotEqual(t, got, BindingHash(chainID, "a2", alice, escrow, big.NewInt(1500), txHash))
	assert.NotEqual(t, got, BindingHash(big.NewInt(1), "a1", alice, escrow, big.NewInt(1500), txHash))
}

func TestBind_Soundness(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 1)
	l := e.ledger.AddTransfer(alice, escrow, 1500, 3)
	_, _, err := e.capturer.Capture(l)
	require.NoError(t, err)

	ctx := context.Background()
	for _, wrong := range []uint64{0, 1499, 1501, 15000} {
		_, err := e.binder.Bind(ctx, e.request(alice, l.TxHash, wrong))
		require.ErrorIs(t, err, auction.ErrCommitmentMismatch)
	}
	bids, err := e.store.AuctionBids(e.auction.ID)
	require.NoError(t, err)
	assert.Empty(t, bids)

	req := e.request(alice, l.TxHash, 1500)
	res, err := e.binder.Bind(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Added)
	assert.Equal(t, uint64(1500), res.Bid.Amount)
	assert.Equal(t, auction.NewBidKey(l.TxHash.Hex(), l.Index), res.Key)

	// Hash comparison ignores case.
	req.BindingHash = "0x" + strings.ToUpper(req.BindingHash[2:])
	res, err = e.binder.Bind(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Added)

	bids, err = e.store.AuctionBids(e.auction.ID)
	require.NoError(t, err)
	assert.Len(t, bids, 1)
}

func TestBind_Validation(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 1)
	ctx := context.Background()

	req := e.request(alice, common.HexToHash("0x01"), 1)
	req.AuctionID = "missing"
	_, err := e.binder.Bind(ctx, req)
	require.ErrorIs(t, err, auction.ErrAuctionNotFound)

	req = e.request(alice, common.HexToHash("0x01"), 1)
	req.BindingHash = ""
	_, err = e.binder.Bind(ctx, req)
	assert.Equal(t, auction.KindValidation, auction.KindOf(err))

	req = e.request(alice, common.HexToHash("0x01"), 1)
	req.TxHash = "0x1234"
	_, err = e.binder.Bind(ctx, req)
	assert.Equal(t, auction.KindValidation, auction.KindOf(err))

	req = e.request(alice, common.HexToHash("0x01"), 1)
	req.Sender = "alice"
	_, err = e.binder.Bind(ctx, req)
	assert.Equal(t, auction.KindValidation, auction.KindOf(err))
}

func TestBind_FallbackAfterReceiptRace(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 5)
	l := e.ledger.AddTransfer(bob, escrow, 1000, 4)
	e.ledger.HideReceipt(l.TxHash, 2)

	res, err := e.binder.Bind(context.Background(), e.request(bob, l.TxHash, 1000))
	require.NoError(t, err)
	assert.True(t, res.Added)
	assert.Equal(t, 3, e.ledger.ReceiptCalls())
	assert.True(t, e.store.Seen(res.Key))

	// The poller later sees the same event; nothing changes.
	_, inserted, err := e.capturer.Capture(l)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Len(t, e.store.ListBids(), 1)
}

func TestBind_FallbackExhausted(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 5)
	l := e.ledger.AddTransfer(bob, escrow, 1000, 4)
	e.ledger.HideReceipt(l.TxHash, 10)

	_, err := e.binder.Bind(context.Background(), e.request(bob, l.TxHash, 1000))
	require.ErrorIs(t, err, auction.ErrBidNotFound)
	assert.Equal(t, 5, e.ledger.ReceiptCalls())
	assert.Empty(t, e.store.ListBids())
}

func TestBind_ReceiptWithoutEscrowTransfer(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 5)
	l := e.ledger.AddTransfer(bob, alice, 1000, 4)

	_, err := e.binder.Bind(context.Background(), e.request(bob, l.TxHash, 1000))
	require.ErrorIs(t, err, auction.ErrBidNotFound)
	assert.Equal(t, 1, e.ledger.ReceiptCalls())
}
