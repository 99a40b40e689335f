package planner

import (
	"sort"

	"github.com/textileio/auctiond/auction"
)

// Cmp is the interface for a comparator.
type Cmp interface {
	// Cmp returns arbitrary number with the following semantics:
	// negative: i ranks before j
	// zero: i and j are tied
	// positive: i ranks after j
	Cmp(i auction.Bid, j auction.Bid) int
}

// CmpFn is a helper which turns a function to a Cmp interface.
func CmpFn(f func(i auction.Bid, j auction.Bid) int) Cmp {
	return fnCmp{f: f}
}

type fnCmp struct {
	f func(auction.Bid, auction.Bid) int
}

func (c fnCmp) Cmp(i auction.Bid, j auction.Bid) int {
	return c.f(i, j)
}

type ordered struct {
	cmps []Cmp
}

// Ordered executes each comparator in order, i.e., if the first comparator
// judges the two bids to be equal, continues to the next comparator, and so
// on. It considers two bids to be equal if all comparators are exhausted.
func Ordered(cmps ...Cmp) Cmp {
	return ordered{cmps}
}

func (c ordered) Cmp(i auction.Bid, j auction.Bid) int {
	for _, c := range c.cmps {
		if result := c.Cmp(i, j); result != 0 {
			return result
		}
	}
	return 0
}

// HigherAmount prefers the bid with the larger amount.
func HigherAmount() Cmp {
	return CmpFn(func(i auction.Bid, j auction.Bid) int {
		return cmpUint(j.Amount, i.Amount)
	})
}

// EarlierBlock prefers the bid included in the earlier block.
func EarlierBlock() Cmp {
	return CmpFn(func(i auction.Bid, j auction.Bid) int {
		return cmpUint(i.BlockNumber, j.BlockNumber)
	})
}

// EarlierLogIndex prefers the bid emitted earlier within its transaction.
func EarlierLogIndex() Cmp {
	return CmpFn(func(i auction.Bid, j auction.Bid) int {
		return cmpUint(uint64(i.LogIndex), uint64(j.LogIndex))
	})
}

// Ranking is the winner order: amount descending, then block ascending, then
// log index ascending.
var Ranking = Ordered(HigherAmount(), EarlierBlock(), EarlierLogIndex())

// Sort returns a copy of bids in Ranking order.
func Sort(bids []auction.Bid) []auction.Bid {
	sorted := make([]auction.Bid, len(bids))
	copy(sorted, bids)
	sort.SliceStable(sorted, func(i, j int) bool {
		return Ranking.Cmp(sorted[i], sorted[j]) < 0
	})
	return sorted
}

// Plan computes the payout plan of an auction's bound bids. The winner's
// amount goes to seller and every other bid is refunded in full.
func Plan(bids []auction.Bid, seller string) (auction.PayoutPlan, error) {
	if len(bids) == 0 {
		return auction.PayoutPlan{}, auction.ErrNoBids
	}
	sorted := Sort(bids)
	winner := sorted[0]
	refunds := make([]auction.Refund, 0, len(sorted)-1)
	for _, b := range sorted[1:] {
		refunds = append(refunds, auction.Refund{To: b.From, Amount: b.Amount})
	}
	return auction.PayoutPlan{
		ToSeller:  auction.SellerPayout{Seller: seller, Amount: winner.Amount},
		Refunds:   refunds,
		TotalBids: len(sorted),
		Winner:    winner,
	}, nil
}

// Losers returns the bids that are refunded by the plan, in Ranking order.
func Losers(bids []auction.Bid) ([]auction.Bid, error) {
	if len(bids) == 0 {
		return nil, auction.ErrNoBids
	}
	if len(bids) < 2 {
		return nil, auction.ErrNoLosers
	}
	return Sort(bids)[1:], nil
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
