package service

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	golog "github.com/ipfs/go-log/v2"
	"github.com/shopspring/decimal"
	"github.com/textileio/auctiond/auction"
	"github.com/textileio/auctiond/chain"
	"github.com/textileio/auctiond/cmd/auctiond/binder"
	"github.com/textileio/auctiond/cmd/auctiond/capture"
	"github.com/textileio/auctiond/cmd/auctiond/planner"
	"github.com/textileio/auctiond/cmd/auctiond/poller"
	"github.com/textileio/auctiond/cmd/auctiond/settler"
	"github.com/textileio/auctiond/cmd/auctiond/store"
	"github.com/textileio/auctiond/eerc"
	"go.uber.org/multierr"
)

// Decimals is the number of decimals of the token's display unit.
const Decimals = 2

var log = golog.Logger("auctiond/service")

// Config defines params for Service configuration.
type Config struct {
	EscrowKey     eerc.PrivateKey
	EncryptedERC  common.Address
	Registrar     common.Address
	Poller        poller.Config
	Binder        binder.Config
	DLogCeiling   uint64
	StrictBalance bool
}

// Validate ensures the config is usable.
func (c Config) Validate() error {
	if c.EscrowKey.IsZero() {
		return fmt.Errorf("escrow encryption key is required")
	}
	return nil
}

// Info describes the deployment the daemon runs against.
type Info struct {
	ChainID      string `json:"chainId"`
	Escrow       string `json:"escrow"`
	EncryptedERC string `json:"encryptedERC"`
	Registrar    string `json:"registrar"`
	Decimals     int    `json:"decimals"`
}

// Balance is the spendable balance of an account.
type Balance struct {
	SpendableRaw string `json:"spendableRaw"`
	Spendable    string `json:"spendable"`
	TxIndex      string `json:"txIndex"`
}

// Service reconciles ledger transfers with auctions and settles them.
type Service struct {
	conf     Config
	ledger   chain.Ledger
	store    *store.Store
	poller   *poller.Poller
	binder   *binder.Binder
	settler  *settler.Settler
	chainID  *big.Int
}

// New returns a new Service. The poller starts right away.
func New(
	ctx context.Context,
	conf Config,
	ledger chain.Ledger,
	snap store.Snapshotter,
	preparer settler.Preparer) (*Service, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %v", err)
	}
	chainID, err := ledger.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting chain id: %w", err)
	}
	s, err := store.New(snap)
	if err != nil {
		return nil, fmt.Errorf("creating store: %v", err)
	}

	escrow := ledger.Escrow()
	c := capture.New(s, escrow, conf.EscrowKey)
	srv := &Service{
		conf:     conf,
		ledger:   ledger,
		store:    s,
		poller:   poller.New(conf.Poller, ledger, s, c),
		binder:   binder.New(conf.Binder, ledger, s, c, chainID),
		settler:  settler.New(settler.Config{StrictBalance: conf.StrictBalance}, ledger, s, eerc.NewOracle(conf.DLogCeiling), conf.EscrowKey, preparer),
		chainID:  chainID,
	}
	srv.poller.Start()
	log.Infof("service started: escrow %s, chain %s", escrow, chainID)
	return srv, nil
}

// Close the service.
func (s *Service) Close() error {
	log.Info("closing service...")
	err := multierr.Combine(
		s.poller.Close(),
		s.store.Close(),
	)
	if c, ok := s.ledger.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// Info returns the deployment info.
func (s *Service) Info() Info {
	return Info{
		ChainID:      s.chainID.String(),
		Escrow:       s.ledger.Escrow().Hex(),
		EncryptedERC: s.conf.EncryptedERC.Hex(),
		Registrar:    s.conf.Registrar.Hex(),
		Decimals:     Decimals,
	}
}

// CreateAuction creates an open auction.
func (s *Service) CreateAuction(name string, endTime *time.Time) (auction.Auction, error) {
	a, err := s.store.CreateAuction(name, endTime)
	if err != nil {
		return auction.Auction{}, err
	}
	log.Infof("auction %s created", a.ID)
	return a, nil
}

// ListAuctions returns every auction.
func (s *Service) ListAuctions() []auction.Auction {
	return s.store.ListAuctions()
}

// SetSeller sets the address credited with the winning bid of an auction.
func (s *Service) SetSeller(auctionID, seller string) error {
	if !common.IsHexAddress(seller) {
		return auction.Errorf(auction.KindValidation, "invalid seller address")
	}
	return s.store.SetSeller(auctionID, common.HexToAddress(seller).Hex())
}

// CloseAuction closes an auction to new bindings.
func (s *Service) CloseAuction(auctionID string) (auction.Auction, error) {
	return s.store.CloseAuction(auctionID)
}

// Bind verifies and records a binding.
func (s *Service) Bind(ctx context.Context, req binder.Request) (binder.Result, error) {
	return s.binder.Bind(ctx, req)
}

// ListBids returns every captured bid in capture order.
func (s *Service) ListBids() []auction.Bid {
	return s.store.ListBids()
}

// AuctionBids returns the bids bound to an auction in winner order.
func (s *Service) AuctionBids(auctionID string) ([]auction.Bid, error) {
	bids, err := s.store.AuctionBids(auctionID)
	if err != nil {
		return nil, err
	}
	return planner.Sort(bids), nil
}

// PayoutPlan returns the payout plan of an auction.
func (s *Service) PayoutPlan(auctionID string) (auction.PayoutPlan, error) {
	return s.settler.Plan(auctionID)
}

// Winner returns the winning bid of an auction and the number of bound bids.
func (s *Service) Winner(auctionID string) (auction.Bid, int, error) {
	plan, err := s.settler.Plan(auctionID)
	if err != nil {
		return auction.Bid{}, 0, err
	}
	return plan.Winner, plan.TotalBids, nil
}

// Settle pays the winning amount to the seller.
func (s *Service) Settle(ctx context.Context, auctionID string) (auction.TransferResult, error) {
	return s.settler.Settle(ctx, auctionID)
}

// Refund returns every losing bid. Completed refunds are returned on error too.
func (s *Service) Refund(ctx context.Context, auctionID string) ([]auction.TransferResult, error) {
	return s.settler.Refund(ctx, auctionID)
}

// Payouts returns the escrow transfers recorded for an auction.
func (s *Service) Payouts(auctionID string) ([]auction.Payout, error) {
	return s.store.Payouts(auctionID)
}

// BindingHash computes the binding commitment a bidder should submit.
func (s *Service) BindingHash(auctionID, sender, txHash, amount string) (string, error) {
	if !common.IsHexAddress(sender) {
		return "", auction.Errorf(auction.KindValidation, "invalid sender address")
	}
	if txHash == "" {
		return "", auction.Errorf(auction.KindValidation, "txHash required")
	}
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok || v.Sign() < 0 {
		return "", auction.Errorf(auction.KindValidation, "invalid amount %q", amount)
	}
	h := s.binder.Hash(auctionID, common.HexToAddress(sender), v, common.HexToHash(txHash))
	return h.Hex(), nil
}

// Balance returns the spendable balance of address, decrypted with the key
// derived from the account's registration signature. Both the current and
// the legacy derivation are tried; the larger balance wins.
func (s *Service) Balance(ctx context.Context, address, signature string) (Balance, error) {
	if !common.IsHexAddress(address) {
		return Balance{}, auction.Errorf(auction.KindValidation, "invalid address")
	}
	keys, err := eerc.MigratedKeyDerivation(signature)
	if err != nil {
		return Balance{}, auction.Wrap(auction.KindValidation, "invalid signature", err)
	}
	bal, err := s.ledger.BalanceOf(ctx, common.HexToAddress(address))
	if err != nil {
		return Balance{}, fmt.Errorf("reading balance: %w", err)
	}
	best := new(big.Int)
	for _, k := range keys {
		if sum := eerc.SumPCTs(k, bal.PCTs()...); sum.Cmp(best) > 0 {
			best = sum
		}
	}
	txIndex := "0"
	if bal.TransactionIndex != nil {
		txIndex = bal.TransactionIndex.String()
	}
	return Balance{
		SpendableRaw: best.String(),
		Spendable:    FormatAmount(best),
		TxIndex:      txIndex,
	}, nil
}

// Faucet sends amount from the escrow to to. amount is either minor units
// or a display amount with up to two decimals.
func (s *Service) Faucet(ctx context.Context, to, amount string) (auction.TransferResult, error) {
	if !common.IsHexAddress(to) {
		return auction.TransferResult{}, auction.Errorf(auction.KindValidation, "invalid recipient address")
	}
	v, err := ParseAmount(amount)
	if err != nil {
		return auction.TransferResult{}, err
	}
	return s.settler.Transfer(ctx, common.HexToAddress(to), v)
}

// ParseAmount parses minor units ("1234") or a display amount ("12.34").
func ParseAmount(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, auction.Wrap(auction.KindValidation, "invalid amount", err)
	}
	if strings.Contains(s, ".") {
		d = d.Shift(Decimals)
	}
	if !d.IsInteger() || d.Sign() <= 0 {
		return 0, auction.Errorf(auction.KindValidation, "invalid amount %q", s)
	}
	v := d.BigInt()
	if !v.IsUint64() {
		return 0, auction.Errorf(auction.KindValidation, "amount %q out of range", s)
	}
	return v.Uint64(), nil
}

// FormatAmount renders minor units as a display amount.
func FormatAmount(v *big.Int) string {
	return decimal.NewFromBigInt(v, -Decimals).StringFixed(Decimals)
}
