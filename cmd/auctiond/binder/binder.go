package binder

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	golog "github.com/ipfs/go-log/v2"
	"github.com/textileio/auctiond/auction"
	"github.com/textileio/auctiond/chain"
	"github.com/textileio/auctiond/cmd/auctiond/capture"
	"github.com/textileio/auctiond/cmd/auctiond/store"
	"github.com/textileio/auctiond/metrics"
	"go.opentelemetry.io/otel/metric"
)

var (
	log = golog.Logger("auctiond/binder")

	errNoEscrowTransfer = errors.New("receipt has no transfer to the escrow")
)

// BindingHash is the commitment a bidder publishes to link a transfer to an
// auction: keccak256 over the solidity packed encoding of
// (uint256 chainID, string auctionID, address sender, address escrow,
// uint256 amount, bytes32 txHash).
func BindingHash(
	chainID *big.Int,
	auctionID string,
	sender, escrow common.Address,
	amount *big.Int,
	txHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(
		common.LeftPadBytes(chainID.Bytes(), 32),
		[]byte(auctionID),
		sender.Bytes(),
		escrow.Bytes(),
		common.LeftPadBytes(amount.Bytes(), 32),
		txHash.Bytes(),
	)
}

// Config configures the receipt fallback used when a bid wasn't captured yet.
type Config struct {
	Attempts uint
	Delay    time.Duration
}

// Request is a client assertion that a transfer is a bid in an auction.
type Request struct {
	AuctionID   string
	TxHash      string
	Sender      string
	BindingHash string
}

// Result is a verified binding.
type Result struct {
	Key   auction.BidKey
	Bid   auction.Bid
	Added bool
}

// Binder verifies binding commitments and records bindings.
type Binder struct {
	conf     Config
	ledger   chain.Ledger
	store    *store.Store
	capturer *capture.Capturer
	chainID  *big.Int

	metricBinds     metric.Int64Counter
	metricFallbacks metric.Int64Counter
}

// New returns a new Binder.
func New(conf Config, ledger chain.Ledger, s *store.Store, c *capture.Capturer, chainID *big.Int) *Binder {
	if conf.Attempts == 0 {
		conf.Attempts = 1
	}
	b := &Binder{
		conf:     conf,
		ledger:   ledger,
		store:    s,
		capturer: c,
		chainID:  new(big.Int).Set(chainID),
	}
	b.initMetrics()
	return b
}

// Hash returns the binding hash of a transfer of amount by sender to the escrow.
func (b *Binder) Hash(auctionID string, sender common.Address, amount *big.Int, txHash common.Hash) common.Hash {
	return BindingHash(b.chainID, auctionID, sender, b.capturer.Escrow(), amount, txHash)
}

// Bind verifies req against the captured bid of req.TxHash and binds the bid
// to the auction. The amount always comes from the ledger.
func (b *Binder) Bind(ctx context.Context, req Request) (res Result, err error) {
	defer func() { metrics.MetricIncrCounter(ctx, err, b.metricBinds) }()

	if _, err := b.store.GetAuction(req.AuctionID); err != nil {
		return Result{}, err
	}
	if req.TxHash == "" || req.Sender == "" || req.BindingHash == "" {
		return Result{}, auction.Errorf(auction.KindValidation, "txHash, sender, bindingHash required")
	}
	txHash, err := parseHash(req.TxHash)
	if err != nil {
		return Result{}, auction.Wrap(auction.KindValidation, "invalid txHash", err)
	}
	if !common.IsHexAddress(req.Sender) {
		return Result{}, auction.Errorf(auction.KindValidation, "invalid sender address")
	}
	sender := common.HexToAddress(req.Sender)

	bid, ok := b.store.FindBid(txHash.Hex(), b.capturer.Escrow().Hex())
	if !ok {
		if bid, err = b.fallback(ctx, txHash); err != nil {
			return Result{}, err
		}
	}

	computed := b.Hash(req.AuctionID, sender, new(big.Int).SetUint64(bid.Amount), common.HexToHash(bid.TxHash))
	if !strings.EqualFold(computed.Hex(), req.BindingHash) {
		log.Debugf("binding hash mismatch for %s in auction %s", bid.Key(), req.AuctionID)
		return Result{}, auction.ErrCommitmentMismatch
	}

	added, err := b.store.Bind(req.AuctionID, bid.Key())
	if err != nil {
		return Result{}, err
	}
	if added {
		log.Infof("bid %s bound to auction %s", bid.Key(), req.AuctionID)
	}
	return Result{Key: bid.Key(), Bid: bid, Added: added}, nil
}

// fallback reads the transaction receipt directly and captures its transfer
// to the escrow. A receipt that isn't available yet is retried with a fixed
// delay; once attempts are exhausted the bid is reported as not found.
func (b *Binder) fallback(ctx context.Context, txHash common.Hash) (auction.Bid, error) {
	b.metricFallbacks.Add(ctx, 1)
	var (
		bid     auction.Bid
		lastErr error
	)
	err := retry.Do(
		func() error {
			r, err := b.ledger.TransactionReceipt(ctx, txHash)
			if err != nil {
				lastErr = err
				return err
			}
			for _, l := range r.Logs {
				if l == nil {
					continue
				}
				captured, _, err := b.capturer.Capture(*l)
				if errors.Is(err, capture.ErrNotToEscrow) || errors.Is(err, capture.ErrUndecodable) {
					continue
				} else if err != nil {
					lastErr = err
					return err
				}
				bid = captured
				return nil
			}
			lastErr = errNoEscrowTransfer
			return errNoEscrowTransfer
		},
		retry.Attempts(b.conf.Attempts),
		retry.Delay(b.conf.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, chain.ErrReceiptNotFound) || auction.KindOf(err) == auction.KindLedgerTransient
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Debugf("receipt lookup %s attempt %d: %v", txHash, n+1, err)
		}),
	)
	if err == nil {
		return bid, nil
	}
	if errors.Is(lastErr, chain.ErrReceiptNotFound) ||
		errors.Is(lastErr, errNoEscrowTransfer) ||
		auction.KindOf(lastErr) == auction.KindLedgerTransient {
		return auction.Bid{}, auction.ErrBidNotFound
	}
	return auction.Bid{}, fmt.Errorf("capturing bid from receipt: %w", lastErr)
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("expected %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}
