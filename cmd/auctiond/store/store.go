package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/oklog/ulid/v2"
	"github.com/textileio/auctiond/auction"
)

var log = golog.Logger("auctiond/store")

// Snapshot is the persisted state document. It is written in full after every
// mutation.
type Snapshot struct {
	Bids        []auction.Bid               `json:"bids"`
	Auctions    map[string]auction.Auction  `json:"auctions"`
	AuctionBids map[string][]auction.BidKey `json:"auctionBids"`
	Sellers     map[string]string           `json:"sellers"`
	Payouts     map[string][]auction.Payout `json:"payouts,omitempty"`
	LastBlock   uint64                      `json:"lastBlock"`
}

// Snapshotter loads and atomically saves snapshots.
type Snapshotter interface {
	// Load returns the last saved snapshot, or nil if none was saved.
	Load() (*Snapshot, error)
	// Save replaces the saved snapshot. A reader never observes a partial write.
	Save(*Snapshot) error
	Close() error
}

// Store holds auctions, captured bids and bindings. Every mutation happens
// under a single lock and is persisted before it returns; a failed persist
// leaves the in-memory state unchanged.
type Store struct {
	lock    sync.Mutex
	snap    Snapshotter
	entropy *ulid.MonotonicEntropy

	bids      []auction.Bid
	bidIndex  map[auction.BidKey]int
	auctions  map[string]*auction.Auction
	bindings  map[string][]auction.BidKey
	boundTo   map[auction.BidKey]string
	sellers   map[string]string
	payouts   map[string][]auction.Payout
	lastBlock uint64
}

// New returns a Store populated from the last snapshot saved by snap.
func New(snap Snapshotter) (*Store, error) {
	s := &Store{
		snap:     snap,
		bidIndex: make(map[auction.BidKey]int),
		auctions: make(map[string]*auction.Auction),
		bindings: make(map[string][]auction.BidKey),
		boundTo:  make(map[auction.BidKey]string),
		sellers:  make(map[string]string),
		payouts:  make(map[string][]auction.Payout),
	}
	ss, err := snap.Load()
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %v", err)
	}
	if ss != nil {
		s.restore(ss)
		log.Infof("restored %d bids and %d auctions, last block %d", len(s.bids), len(s.auctions), s.lastBlock)
	}
	return s, nil
}

func (s *Store) restore(ss *Snapshot) {
	for _, b := range ss.Bids {
		k := b.Key()
		if _, ok := s.bidIndex[k]; ok {
			continue
		}
		s.bidIndex[k] = len(s.bids)
		s.bids = append(s.bids, b)
	}
	for id, a := range ss.Auctions {
		a := a
		s.auctions[id] = &a
	}
	for id, keys := range ss.AuctionBids {
		for _, k := range keys {
			if _, ok := s.boundTo[k]; ok {
				continue
			}
			s.boundTo[k] = id
			s.bindings[id] = append(s.bindings[id], k)
		}
	}
	for id, seller := range ss.Sellers {
		s.sellers[id] = seller
	}
	for id, p := range ss.Payouts {
		s.payouts[id] = append([]auction.Payout(nil), p...)
	}
	s.lastBlock = ss.LastBlock
}

// Close closes the snapshotter.
func (s *Store) Close() error {
	return s.snap.Close()
}

// CreateAuction creates an open auction.
func (s *Store) CreateAuction(name string, endTime *time.Time) (auction.Auction, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	id, err := s.newID(time.Now())
	if err != nil {
		return auction.Auction{}, fmt.Errorf("creating auction id: %v", err)
	}
	a := &auction.Auction{
		ID:        id,
		Name:      name,
		EndTime:   endTime,
		Status:    auction.AuctionStatusOpen,
		CreatedAt: time.Now(),
	}
	s.auctions[id] = a
	if err := s.persist(); err != nil {
		delete(s.auctions, id)
		return auction.Auction{}, err
	}
	return *a, nil
}

// newID returns new monotonically increasing auction ids. The lock must be held.
func (s *Store) newID(t time.Time) (string, error) {
	if s.entropy == nil {
		s.entropy = ulid.Monotonic(rand.Reader, 0)
	}
	id, err := ulid.New(ulid.Timestamp(t.UTC()), s.entropy)
	if errors.Is(err, ulid.ErrMonotonicOverflow) {
		s.entropy = nil
		return s.newID(t)
	} else if err != nil {
		return "", fmt.Errorf("generating id: %v", err)
	}
	return strings.ToLower(id.String()), nil
}

// GetAuction returns an auction by id.
func (s *Store) GetAuction(id string) (auction.Auction, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return auction.Auction{}, auction.ErrAuctionNotFound
	}
	return *a, nil
}

// ListAuctions returns every auction ordered by creation.
func (s *Store) ListAuctions() []auction.Auction {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make([]auction.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseAuction marks the auction closed. Closing a closed auction is a no-op.
func (s *Store) CloseAuction(id string) (auction.Auction, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return auction.Auction{}, auction.ErrAuctionNotFound
	}
	if a.Status == auction.AuctionStatusClosed {
		return *a, nil
	}
	a.Status = auction.AuctionStatusClosed
	if err := s.persist(); err != nil {
		a.Status = auction.AuctionStatusOpen
		return auction.Auction{}, err
	}
	return *a, nil
}

// SetSeller sets the address credited with the winning bid.
func (s *Store) SetSeller(id, seller string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.auctions[id]; !ok {
		return auction.ErrAuctionNotFound
	}
	prev, had := s.sellers[id]
	s.sellers[id] = seller
	if err := s.persist(); err != nil {
		if had {
			s.sellers[id] = prev
		} else {
			delete(s.sellers, id)
		}
		return err
	}
	return nil
}

// Seller returns the seller of an auction, if one was set.
func (s *Store) Seller(id string) (string, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	seller, ok := s.sellers[id]
	return seller, ok
}

// InsertBid adds b if no bid with the same key exists. It reports whether the
// bid was inserted; a duplicate is not an error.
func (s *Store) InsertBid(b auction.Bid) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	k := b.Key()
	if _, ok := s.bidIndex[k]; ok {
		return false, nil
	}
	s.bidIndex[k] = len(s.bids)
	s.bids = append(s.bids, b)
	if err := s.persist(); err != nil {
		s.bids = s.bids[:len(s.bids)-1]
		delete(s.bidIndex, k)
		return false, err
	}
	return true, nil
}

// Seen returns whether a bid with key k was captured.
func (s *Store) Seen(k auction.BidKey) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, ok := s.bidIndex[k]
	return ok
}

// GetBid returns a bid by key.
func (s *Store) GetBid(k auction.BidKey) (auction.Bid, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	i, ok := s.bidIndex[k]
	if !ok {
		return auction.Bid{}, auction.ErrBidNotFound
	}
	return s.bids[i], nil
}

// FindBid returns the first captured bid of txHash sent to recipient.
func (s *Store) FindBid(txHash, recipient string) (auction.Bid, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, b := range s.bids {
		if strings.EqualFold(b.TxHash, txHash) && strings.EqualFold(b.To, recipient) {
			return b, true
		}
	}
	return auction.Bid{}, false
}

// ListBids returns every captured bid in capture order.
func (s *Store) ListBids() []auction.Bid {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make([]auction.Bid, len(s.bids))
	copy(out, s.bids)
	return out
}

// Bind appends the bid k to the auction's bound bids. It reports whether the
// binding was added; binding the same pair again is a no-op.
func (s *Store) Bind(auctionID string, k auction.BidKey) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	a, ok := s.auctions[auctionID]
	if !ok {
		return false, auction.ErrAuctionNotFound
	}
	if _, ok := s.bidIndex[k]; !ok {
		return false, auction.ErrBidNotFound
	}
	if bound, ok := s.boundTo[k]; ok {
		if bound == auctionID {
			return false, nil
		}
		return false, auction.ErrBidAlreadyBound
	}
	if a.Status == auction.AuctionStatusClosed {
		return false, auction.ErrAuctionClosed
	}
	s.boundTo[k] = auctionID
	s.bindings[auctionID] = append(s.bindings[auctionID], k)
	if err := s.persist(); err != nil {
		keys := s.bindings[auctionID]
		s.bindings[auctionID] = keys[:len(keys)-1]
		delete(s.boundTo, k)
		return false, err
	}
	return true, nil
}

// AuctionBids returns the bids bound to an auction in binding order.
func (s *Store) AuctionBids(auctionID string) ([]auction.Bid, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.auctions[auctionID]; !ok {
		return nil, auction.ErrAuctionNotFound
	}
	keys := s.bindings[auctionID]
	out := make([]auction.Bid, 0, len(keys))
	for _, k := range keys {
		if i, ok := s.bidIndex[k]; ok {
			out = append(out, s.bids[i])
		}
	}
	return out, nil
}

// AddPayout records an escrow transfer made for an auction.
func (s *Store) AddPayout(auctionID string, p auction.Payout) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.auctions[auctionID]; !ok {
		return auction.ErrAuctionNotFound
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	prev := s.payouts[auctionID]
	s.payouts[auctionID] = append(prev, p)
	if err := s.persist(); err != nil {
		s.payouts[auctionID] = prev
		return err
	}
	return nil
}

// Payouts returns the transfers recorded for an auction.
func (s *Store) Payouts(auctionID string) ([]auction.Payout, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.auctions[auctionID]; !ok {
		return nil, auction.ErrAuctionNotFound
	}
	out := make([]auction.Payout, len(s.payouts[auctionID]))
	copy(out, s.payouts[auctionID])
	return out, nil
}

// LastBlock returns the last fully processed block.
func (s *Store) LastBlock() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.lastBlock
}

// SetLastBlock records n as the last fully processed block.
func (s *Store) SetLastBlock(n uint64) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	prev := s.lastBlock
	s.lastBlock = n
	if err := s.persist(); err != nil {
		s.lastBlock = prev
		return err
	}
	return nil
}

// persist saves the full state. The lock must be held.
func (s *Store) persist() error {
	ss := &Snapshot{
		Bids:        make([]auction.Bid, len(s.bids)),
		Auctions:    make(map[string]auction.Auction, len(s.auctions)),
		AuctionBids: make(map[string][]auction.BidKey, len(s.bindings)),
		Sellers:     make(map[string]string, len(s.sellers)),
		Payouts:     make(map[string][]auction.Payout, len(s.payouts)),
		LastBlock:   s.lastBlock,
	}
	copy(ss.Bids, s.bids)
	for id, a := range s.auctions {
		ss.Auctions[id] = *a
	}
	for id, keys := range s.bindings {
		ss.AuctionBids[id] = append([]auction.BidKey(nil), keys...)
	}
	for id, seller := range s.sellers {
		ss.Sellers[id] = seller
	}
	for id, p := range s.payouts {
		ss.Payouts[id] = append([]auction.Payout(nil), p...)
	}
	if err := s.snap.Save(ss); err != nil {
		return auction.Wrap(auction.KindInternal, "persisting state", err)
	}
	return nil
}
