package auction

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Auction defines the core auction model.
type Auction struct {
	ID        string        `json:"id"`
	Name      string        `json:"name,omitempty"`
	EndTime   *time.Time    `json:"endTime,omitempty"`
	Status    AuctionStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

// AuctionStatus is the status of an auction.
type AuctionStatus int

const (
	// AuctionStatusOpen indicates the auction accepts bindings.
	AuctionStatusOpen AuctionStatus = iota
	// AuctionStatusClosed indicates the auction no longer accepts bindings.
	AuctionStatusClosed
)

// String returns a string-encoded status.
func (as AuctionStatus) String() string {
	switch as {
	case AuctionStatusOpen:
		return "open"
	case AuctionStatusClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (as AuctionStatus) MarshalText() ([]byte, error) {
	return []byte(as.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (as *AuctionStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "open":
		*as = AuctionStatusOpen
	case "closed":
		*as = AuctionStatusClosed
	default:
		return fmt.Errorf("invalid auction status: %s", text)
	}
	return nil
}

// BidKey identifies a bid by the transaction and log index of its transfer event.
// It is unique and stable across restarts.
type BidKey string

// NewBidKey returns the key for the event at logIndex of txHash.
func NewBidKey(txHash string, logIndex uint) BidKey {
	return BidKey(fmt.Sprintf("%s:%d", strings.ToLower(txHash), logIndex))
}

// Split returns the transaction hash and log index the key was built from.
func (k BidKey) Split() (string, uint, error) {
	i := strings.LastIndexByte(string(k), ':')
	if i < 0 {
		return "", 0, fmt.Errorf("malformed bid key: %s", k)
	}
	idx, err := strconv.ParseUint(string(k)[i+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("malformed bid key index: %v", err)
	}
	return string(k)[:i], uint(idx), nil
}

// Bid is a confidential transfer to the escrow, captured from the ledger.
// Amount is the auditor-decrypted value in minor units and is never changed
// after capture.
type Bid struct {
	TxHash      string `json:"txHash"`
	LogIndex    uint   `json:"logIndex"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      uint64 `json:"amount,string"`
	BlockNumber uint64 `json:"blockNumber"`
}

// Key returns the bid identity.
func (b Bid) Key() BidKey {
	return NewBidKey(b.TxHash, b.LogIndex)
}

// SellerPayout is the transfer of the winning amount to the seller.
type SellerPayout struct {
	Seller string `json:"seller"`
	Amount uint64 `json:"amount,string"`
}

// Refund is the transfer returning a losing bid to its sender.
type Refund struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount,string"`
}

// PayoutPlan assigns the winner's amount to the seller and full refunds
// to every other bidder.
type PayoutPlan struct {
	ToSeller  SellerPayout `json:"toSeller"`
	Refunds   []Refund     `json:"refunds"`
	TotalBids int          `json:"totalBids"`
	Winner    Bid          `json:"winner"`
}

// TransferResult describes a finalized confidential transfer sent by the escrow.
type TransferResult struct {
	To          string `json:"to"`
	Amount      uint64 `json:"amount,string"`
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
}

// PayoutKind is the reason an escrow transfer was made.
type PayoutKind string

const (
	// PayoutSettle is the winner's amount sent to the seller.
	PayoutSettle PayoutKind = "settle"
	// PayoutRefund is a losing bid returned to its sender.
	PayoutRefund PayoutKind = "refund"
)

// Payout is the audit record of an escrow transfer made for an auction.
type Payout struct {
	TransferResult
	Kind      PayoutKind `json:"kind"`
	CreatedAt time.Time  `json:"createdAt"`
}
