package poller

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
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
		"auctiond/poller": golog.LevelDebug,
	}); err != nil {
		panic(err)
	}
}

var (
	escrow    = common.HexToAddress("0x0000000000000000000000000000000000e5c70e")
	escrowKey = eerc.NewPrivateKey(big.NewInt(5555))
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type env struct {
	ledger   *chaintest.FakeLedger
	store    *store.Store
	capturer *capture.Capturer
}

func newEnv(t *testing.T) *env {
	ls, err := store.NewLevelDBSnapshotter("")
	require.NoError(t, err)
	s, err := store.New(ls)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return &env{
		ledger:   chaintest.NewFakeLedger(escrow, escrowKey, 0),
		store:    s,
		capturer: capture.New(s, escrow, escrowKey),
	}
}

func (e *env) poller(conf Config) *Poller {
	return New(conf, e.ledger, e.store, e.capturer)
}

func TestTick_CapturesNewBids(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.ledger.AddTransfer(alice, escrow, 1000, 2)
	e.ledger.AddTransfer(bob, escrow, 1500, 3)
	e.ledger.AddTransfer(alice, bob, 700, 3)

	p := e.poller(Config{StartBlock: 1, TopicFilter: true})
	require.NoError(t, p.Tick(context.Background()))

	bids := e.store.ListBids()
	require.Len(t, bids, 2)
	assert.Equal(t, uint64(1000), bids[0].Amount)
	assert.Equal(t, uint64(1500), bids[1].Amount)
	assert.Equal(t, uint64(3), p.LastBlock())
	assert.Equal(t, uint64(3), e.store.LastBlock())

	// Nothing new.
	require.NoError(t, p.Tick(context.Background()))
	assert.Len(t, e.store.ListBids(), 2)
}

func TestTick_IgnoresOtherRecipientsWithoutTopicFilter(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.ledger.AddTransfer(alice, bob, 700, 2)
	e.ledger.AddTransfer(alice, escrow, 300, 2)

	p := e.poller(Config{StartBlock: 1})
	require.NoError(t, p.Tick(context.Background()))
	bids := e.store.ListBids()
	require.Len(t, bids, 1)
	assert.Equal(t, uint64(300), bids[0].Amount)
}

func TestTick_IdempotentRescan(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	l1 := e.ledger.AddTransfer(alice, escrow, 1000, 2)
	e.ledger.AddTransfer(bob, escrow, 1500, 3)

	p := e.poller(Config{StartBlock: 1, TopicFilter: true})
	require.NoError(t, p.Tick(context.Background()))

	a, err := e.store.CreateAuction("A1", nil)
	require.NoError(t, err)
	k := auction.NewBidKey(l1.TxHash.Hex(), l1.Index)
	_, err = e.store.Bind(a.ID, k)
	require.NoError(t, err)

	// Rewind the cursor as if the process crashed mid-range.
	require.NoError(t, e.store.SetLastBlock(1))
	p = e.poller(Config{TopicFilter: true})
	require.NoError(t, p.Tick(context.Background()))

	assert.Len(t, e.store.ListBids(), 2)
	bound, err := e.store.AuctionBids(a.ID)
	require.NoError(t, err)
	require.Len(t, bound, 1)
	assert.Equal(t, k, bound[0].Key())
}

func TestTick_TransientErrorKeepsCursor(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.ledger.AddTransfer(alice, escrow, 1000, 2)

	p := e.poller(Config{StartBlock: 1, TopicFilter: true})
	e.ledger.FilterErr = errors.New("connection reset")
	require.Error(t, p.Tick(context.Background()))
	assert.Equal(t, uint64(0), p.LastBlock())
	assert.Empty(t, e.store.ListBids())

	e.ledger.FilterErr = nil
	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, uint64(2), p.LastBlock())
	assert.Len(t, e.store.ListBids(), 1)
}

func TestTick_StartsAtHead(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.ledger.AddTransfer(alice, escrow, 1000, 5)

	p := e.poller(Config{TopicFilter: true})
	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, uint64(5), p.LastBlock())
	assert.Empty(t, e.store.ListBids())

	e.ledger.AddTransfer(bob, escrow, 200, 6)
	require.NoError(t, p.Tick(context.Background()))
	bids := e.store.ListBids()
	require.Len(t, bids, 1)
	assert.Equal(t, uint64(200), bids[0].Amount)
}

func TestTick_ChunkedRange(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	for i := uint64(2); i <= 6; i++ {
		e.ledger.AddTransfer(alice, escrow, i*10, i)
	}
	p := e.poller(Config{StartBlock: 1, MaxBlockRange: 2, TopicFilter: true})
	require.NoError(t, p.Tick(context.Background()))
	assert.Len(t, e.store.ListBids(), 5)
	assert.Equal(t, uint64(6), p.LastBlock())
}

func TestPoller_StartClose(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	p := e.poller(Config{Interval: 10 * time.Millisecond, StartBlock: 1, TopicFilter: true})
	p.Start()
	e.ledger.AddTransfer(alice, escrow, 1000, 2)
	require.Eventually(t, func() bool {
		return len(e.store.ListBids()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, p.Close())
}
