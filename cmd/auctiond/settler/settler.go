package settler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	golog "github.com/ipfs/go-log/v2"
	"github.com/textileio/auctiond/auction"
	"github.com/textileio/auctiond/chain"
	"github.com/textileio/auctiond/cmd/auctiond/planner"
	"github.com/textileio/auctiond/cmd/auctiond/store"
	"github.com/textileio/auctiond/eerc"
	"github.com/textileio/auctiond/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var log = golog.Logger("auctiond/settler")

const payoutFaucet auction.PayoutKind = "faucet"

// Preparer turns transfer circuit inputs into a transfer proof.
type Preparer interface {
	Prepare(ctx context.Context, in eerc.TransferInputs) (chain.Proof, error)
}

// Config configures a Settler.
type Config struct {
	// StrictBalance fails a transfer when the escrow balance can't be
	// decrypted, instead of reading it as zero.
	StrictBalance bool
}

// Settler executes escrow transfers. Transfers never run concurrently: each
// one changes the escrow balance the next one is built from.
type Settler struct {
	conf     Config
	ledger   chain.Ledger
	store    *store.Store
	oracle   *eerc.Oracle
	key      eerc.PrivateKey
	preparer Preparer

	lock sync.Mutex

	metricTransfers metric.Int64Counter
}

// New returns a new Settler. key is the escrow's encryption key.
func New(
	conf Config,
	ledger chain.Ledger,
	s *store.Store,
	oracle *eerc.Oracle,
	key eerc.PrivateKey,
	preparer Preparer) *Settler {
	st := &Settler{
		conf:     conf,
		ledger:   ledger,
		store:    s,
		oracle:   oracle,
		key:      key,
		preparer: preparer,
	}
	st.initMetrics()
	return st
}

// Plan returns the payout plan of an auction. The seller defaults to the escrow.
func (s *Settler) Plan(auctionID string) (auction.PayoutPlan, error) {
	bids, err := s.store.AuctionBids(auctionID)
	if err != nil {
		return auction.PayoutPlan{}, err
	}
	return planner.Plan(bids, s.seller(auctionID))
}

// Settle transfers the winning amount from the escrow to the auction seller.
func (s *Settler) Settle(ctx context.Context, auctionID string) (auction.TransferResult, error) {
	plan, err := s.Plan(auctionID)
	if err != nil {
		return auction.TransferResult{}, err
	}
	if !common.IsHexAddress(plan.ToSeller.Seller) {
		return auction.TransferResult{}, auction.Errorf(auction.KindValidation, "invalid seller address %q", plan.ToSeller.Seller)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	res, err := s.transfer(ctx, common.HexToAddress(plan.ToSeller.Seller), plan.ToSeller.Amount, auction.PayoutSettle)
	if err != nil {
		log.Errorf("settling auction %s: %v", auctionID, err)
		return auction.TransferResult{}, err
	}
	s.record(auctionID, auction.PayoutSettle, res)
	log.Infof("auction %s settled: %d to %s in %s", auctionID, res.Amount, res.To, res.TxHash)
	return res, nil
}

// Refund returns every losing bid of an auction to its sender, one at a time.
// On failure the refunds completed so far are returned with the error; they
// are not rolled back.
func (s *Settler) Refund(ctx context.Context, auctionID string) ([]auction.TransferResult, error) {
	bids, err := s.store.AuctionBids(auctionID)
	if err != nil {
		return nil, err
	}
	losers, err := planner.Losers(bids)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	results := make([]auction.TransferResult, 0, len(losers))
	for i, b := range losers {
		if !common.IsHexAddress(b.From) {
			return results, auction.Errorf(auction.KindValidation, "invalid bidder address %q", b.From)
		}
		res, err := s.transfer(ctx, common.HexToAddress(b.From), b.Amount, auction.PayoutRefund)
		if err != nil {
			log.Errorf("refund %d/%d of auction %s to %s: %v", i+1, len(losers), auctionID, b.From, err)
			return results, err
		}
		s.record(auctionID, auction.PayoutRefund, res)
		log.Infof("auction %s refund %d/%d: %d to %s in %s", auctionID, i+1, len(losers), res.Amount, res.To, res.TxHash)
		results = append(results, res)
	}
	return results, nil
}

// Transfer sends amount from the escrow to to outside of any auction.
func (s *Settler) Transfer(ctx context.Context, to common.Address, amount uint64) (auction.TransferResult, error) {
	if amount == 0 {
		return auction.TransferResult{}, auction.Errorf(auction.KindValidation, "amount must be positive")
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	res, err := s.transfer(ctx, to, amount, payoutFaucet)
	if err != nil {
		return auction.TransferResult{}, err
	}
	log.Infof("sent %d to %s in %s", res.Amount, res.To, res.TxHash)
	return res, nil
}

// EscrowBalance decrypts the escrow's live balance.
func (s *Settler) EscrowBalance(ctx context.Context) (eerc.Result, error) {
	bal, err := s.ledger.BalanceOf(ctx, s.ledger.Escrow())
	if err != nil {
		return eerc.NotFound, fmt.Errorf("reading escrow balance: %w", err)
	}
	return s.oracle.DecryptBalance(s.key, bal.Encrypted), nil
}

// transfer must be called with the lock held.
func (s *Settler) transfer(
	ctx context.Context,
	to common.Address,
	amount uint64,
	kind auction.PayoutKind) (res auction.TransferResult, err error) {
	defer func() {
		metrics.MetricIncrCounter(ctx, err, s.metricTransfers, attribute.Key("kind").String(string(kind)))
	}()

	escrow := s.ledger.Escrow()
	bal, err := s.ledger.BalanceOf(ctx, escrow)
	if err != nil {
		return auction.TransferResult{}, fmt.Errorf("reading escrow balance: %w", err)
	}
	decrypted := s.oracle.DecryptBalance(s.key, bal.Encrypted)
	available := decrypted.Value()
	if s.conf.StrictBalance {
		if available, err = decrypted.Strict(); err != nil {
			return auction.TransferResult{}, auction.Wrap(auction.KindInsufficientBalance, "escrow balance unknown", err)
		}
	}
	if available < amount {
		return auction.TransferResult{}, fmt.Errorf("%w: have %d, need %d", auction.ErrInsufficientBalance, available, amount)
	}

	receiver, err := s.ledger.PublicKey(ctx, to)
	if errors.Is(err, chain.ErrNotRegistered) {
		return auction.TransferResult{}, fmt.Errorf("%w: %s", auction.ErrRecipientNotRegistered, to)
	} else if err != nil {
		return auction.TransferResult{}, fmt.Errorf("reading receiver public key: %w", err)
	}
	auditor, err := s.ledger.AuditorPublicKey(ctx)
	if err != nil {
		return auction.TransferResult{}, fmt.Errorf("reading auditor public key: %w", err)
	}

	in, balancePCT, err := eerc.BuildTransferInputs(eerc.TransferParams{
		Amount:          amount,
		SenderKey:       s.key,
		SenderPublic:    s.key.Public(),
		SenderBalance:   available,
		SenderEncrypted: bal.Encrypted,
		ReceiverPublic:  receiver,
		AuditorPublic:   auditor,
	})
	if err != nil {
		return auction.TransferResult{}, fmt.Errorf("building transfer inputs: %w", err)
	}
	proof, err := s.preparer.Prepare(ctx, in)
	if err != nil {
		return auction.TransferResult{}, fmt.Errorf("preparing transfer: %w", err)
	}
	log.Debugf("submitting %s transfer of %d to %s", kind, amount, to)
	r, err := s.ledger.Transfer(ctx, to, proof, balancePCT)
	if err != nil {
		return auction.TransferResult{}, fmt.Errorf("submitting transfer: %w", err)
	}

	res = auction.TransferResult{
		To:     to.Hex(),
		Amount: amount,
		TxHash: r.TxHash.Hex(),
	}
	if r.BlockNumber != nil {
		res.BlockNumber = r.BlockNumber.Uint64()
	}
	return res, nil
}

func (s *Settler) record(auctionID string, kind auction.PayoutKind, res auction.TransferResult) {
	p := auction.Payout{TransferResult: res, Kind: kind, CreatedAt: time.Now()}
	if err := s.store.AddPayout(auctionID, p); err != nil {
		log.Errorf("recording %s payout %s of auction %s: %v", kind, res.TxHash, auctionID, err)
	}
}

func (s *Settler) seller(auctionID string) string {
	if seller, ok := s.store.Seller(auctionID); ok && seller != "" {
		return seller
	}
	return s.ledger.Escrow().Hex()
}
