// Package capture turns confidential transfer logs addressed to the escrow
// into bids. It is shared by the poller and the binding fallback so both
// paths decode identically and insert through the same dedup check.
package capture

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/textileio/auctiond/auction"
	"github.com/textileio/auctiond/chain"
	"github.com/textileio/auctiond/cmd/auctiond/store"
	"github.com/textileio/auctiond/eerc"
)

var (
	// ErrNotToEscrow indicates a transfer to an address other than the escrow.
	ErrNotToEscrow = errors.New("transfer is not addressed to the escrow")
	// ErrUndecodable indicates a log that can't be turned into a bid.
	ErrUndecodable = errors.New("undecodable transfer log")
)

// Capturer decodes transfer logs and records bids.
type Capturer struct {
	store  *store.Store
	escrow common.Address
	key    eerc.PrivateKey
}

// New returns a Capturer decrypting auditor amounts with key.
func New(s *store.Store, escrow common.Address, key eerc.PrivateKey) *Capturer {
	return &Capturer{store: s, escrow: escrow, key: key}
}

// Escrow returns the escrow address.
func (c *Capturer) Escrow() common.Address {
	return c.escrow
}

// Decode returns the bid carried by l. Logs that are not transfers to the
// escrow return ErrNotToEscrow or chain.ErrNotTransferLog.
func (c *Capturer) Decode(l types.Log) (auction.Bid, error) {
	ev, err := chain.ParseTransfer(l)
	if err != nil {
		return auction.Bid{}, err
	}
	if ev.To != c.escrow {
		return auction.Bid{}, ErrNotToEscrow
	}
	amount, err := eerc.DecryptPCT(ev.AuditorPCT, c.key)
	if err != nil {
		return auction.Bid{}, fmt.Errorf("decrypting auditor pct: %v", err)
	}
	if !amount.IsUint64() {
		return auction.Bid{}, fmt.Errorf("amount %s out of range", amount)
	}
	return auction.Bid{
		TxHash:      ev.TxHash.Hex(),
		LogIndex:    ev.LogIndex,
		From:        ev.From.Hex(),
		To:          ev.To.Hex(),
		Amount:      amount.Uint64(),
		BlockNumber: ev.BlockNumber,
	}, nil
}

// Capture decodes l and inserts the bid unless its key was already seen. The
// stored bid is returned either way.
func (c *Capturer) Capture(l types.Log) (auction.Bid, bool, error) {
	if c.store.Seen(auction.NewBidKey(l.TxHash.Hex(), l.Index)) {
		b, err := c.store.GetBid(auction.NewBidKey(l.TxHash.Hex(), l.Index))
		return b, false, err
	}
	b, err := c.Decode(l)
	if errors.Is(err, ErrNotToEscrow) {
		return auction.Bid{}, false, err
	} else if err != nil {
		return auction.Bid{}, false, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	inserted, err := c.store.InsertBid(b)
	if err != nil {
		return auction.Bid{}, false, fmt.Errorf("inserting bid: %w", err)
	}
	if !inserted {
		// Lost the race against the other capture path.
		if b, err = c.store.GetBid(b.Key()); err != nil {
			return auction.Bid{}, false, err
		}
	}
	return b, inserted, nil
}
