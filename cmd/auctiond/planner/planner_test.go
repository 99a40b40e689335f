package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auctiond/auction"
)

const escrow = "0x0000000000000000000000000000000000E5C70e"

func bid(tx string, from string, amount, block uint64, index uint) auction.Bid {
	return auction.Bid{TxHash: tx, LogIndex: index, From: from, To: escrow, Amount: amount, BlockNumber: block}
}

func TestRanking(t *testing.T) {
	for _, testCase := range []struct {
		name   string
		bids   []auction.Bid
		winner string
	}{
		{"amount", []auction.Bid{
			bid("0xa", "a", 30, 1, 0),
			bid("0xb", "b", 50, 9, 0),
			bid("0xc", "c", 40, 2, 0),
		}, "b"},
		{"block tie-break", []auction.Bid{
			bid("0xa", "a", 50, 12, 0),
			bid("0xb", "b", 50, 10, 0),
			bid("0xc", "c", 30, 1, 0),
		}, "b"},
		{"log index tie-break", []auction.Bid{
			bid("0xa", "a", 50, 10, 3),
			bid("0xa", "b", 50, 10, 1),
		}, "b"},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			sorted := Sort(testCase.bids)
			assert.Equal(t, testCase.winner, sorted[0].From)
			for i := 1; i < len(sorted); i++ {
				assert.LessOrEqual(t, Ranking.Cmp(sorted[i-1], sorted[i]), 0)
			}
		})
	}
}

func TestPlan_DeterministicWinner(t *testing.T) {
	t.Parallel()
	b10 := bid("0x10", "x", 50, 10, 0)
	b12 := bid("0x12", "y", 50, 12, 0)
	b30 := bid("0x30", "z", 30, 1, 0)
	for _, order := range [][]auction.Bid{
		{b10, b12, b30},
		{b12, b10, b30},
		{b30, b12, b10},
	} {
		plan, err := Plan(order, escrow)
		require.NoError(t, err)
		assert.Equal(t, b10, plan.Winner)
		assert.Equal(t, auction.SellerPayout{Seller: escrow, Amount: 50}, plan.ToSeller)
		assert.Equal(t, 3, plan.TotalBids)
		assert.Equal(t, []auction.Refund{{To: "y", Amount: 50}, {To: "z", Amount: 30}}, plan.Refunds)
	}
}

func TestPlan_EndToEndScenario(t *testing.T) {
	t.Parallel()
	bids := []auction.Bid{
		bid("0x1", "p1", 1000, 5, 0),
		bid("0x2", "p2", 1500, 6, 0),
		bid("0x3", "p3", 1500, 4, 0),
	}
	plan, err := Plan(bids, "seller")
	require.NoError(t, err)
	assert.Equal(t, "0x3", plan.Winner.TxHash)
	assert.Equal(t, uint64(1500), plan.ToSeller.Amount)
	assert.Equal(t, "seller", plan.ToSeller.Seller)
	assert.ElementsMatch(t, []auction.Refund{{To: "p1", Amount: 1000}, {To: "p2", Amount: 1500}}, plan.Refunds)

	// Outflows equal inflows.
	total := plan.ToSeller.Amount
	for _, r := range plan.Refunds {
		total += r.Amount
	}
	assert.Equal(t, uint64(4000), total)
}

func TestPlan_NoBids(t *testing.T) {
	t.Parallel()
	_, err := Plan(nil, escrow)
	require.ErrorIs(t, err, auction.ErrNoBids)
	assert.Equal(t, auction.KindValidation, auction.KindOf(err))
}

func TestLosers(t *testing.T) {
	t.Parallel()
	_, err := Losers([]auction.Bid{bid("0x1", "a", 1, 1, 0)})
	require.ErrorIs(t, err, auction.ErrNoLosers)

	losers, err := Losers([]auction.Bid{bid("0x1", "a", 1, 1, 0), bid("0x2", "b", 2, 1, 0)})
	require.NoError(t, err)
	require.Len(t, losers, 1)
	assert.Equal(t, "0x1", losers[0].TxHash)
}

func TestSort_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	bids := []auction.Bid{bid("0x1", "a", 1, 1, 0), bid("0x2", "b", 2, 1, 0)}
	_ = Sort(bids)
	assert.Equal(t, "0x1", bids[0].TxHash)
}
