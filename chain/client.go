package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/iden3/go-iden3-crypto/babyjub"
	logging "github.com/ipfs/go-log/v2"
	"github.com/textileio/auctiond/auction"
	"github.com/textileio/auctiond/eerc"
)

var log = logging.Logger("chain")

// Config configures a Client.
type Config struct {
	RPCURL string
	// Timeout bounds every ledger call at the transport.
	Timeout time.Duration
	// MineTimeout bounds the wait for a submitted transfer to be mined.
	MineTimeout time.Duration

	EncryptedERC common.Address
	Registrar    common.Address
	TokenID      *big.Int

	EscrowKey *ecdsa.PrivateKey
}

// Client is a Ledger backed by a JSON-RPC endpoint.
type Client struct {
	eth       *ethclient.Client
	eerc      *bind.BoundContract
	registrar *bind.BoundContract

	conf    Config
	escrow  common.Address
	chainID *big.Int
}

var _ Ledger = (*Client)(nil)

// New dials the configured endpoint.
func New(ctx context.Context, conf Config) (*Client, error) {
	if conf.EscrowKey == nil {
		return nil, errors.New("escrow key is required")
	}
	if conf.Timeout == 0 {
		conf.Timeout = 30 * time.Second
	}
	if conf.MineTimeout == 0 {
		conf.MineTimeout = 2 * time.Minute
	}
	if conf.TokenID == nil {
		conf.TokenID = new(big.Int)
	}
	dctx, cancel := context.WithTimeout(ctx, conf.Timeout)
	defer cancel()
	rc, err := rpc.DialOptions(dctx, conf.RPCURL, rpc.WithHTTPClient(&http.Client{Timeout: conf.Timeout}))
	if err != nil {
		return nil, fmt.Errorf("dialing endpoint: %v", err)
	}
	eth := ethclient.NewClient(rc)
	chainID, err := eth.ChainID(dctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("getting chain id: %v", err)
	}
	c := &Client{
		eth:       eth,
		eerc:      bind.NewBoundContract(conf.EncryptedERC, eercABI, eth, eth, eth),
		registrar: bind.NewBoundContract(conf.Registrar, registrarABI, eth, eth, eth),
		conf:      conf,
		escrow:    crypto.PubkeyToAddress(conf.EscrowKey.PublicKey),
		chainID:   chainID,
	}
	log.Infof("connected to chain %s as escrow %s", chainID, c.escrow)
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.eth.Close()
	return nil
}

// Escrow returns the escrow address.
func (c *Client) Escrow() common.Address {
	return c.escrow
}

// ChainID returns the chain identifier read at dial time.
func (c *Client) ChainID(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.conf.Timeout)
	defer cancel()
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, auction.Wrap(auction.KindLedgerTransient, "getting block number", err)
	}
	return n, nil
}

// FilterTransfers returns PrivateTransfer logs of the token contract in [from, to].
func (c *Client) FilterTransfers(
	ctx context.Context,
	from, to uint64,
	recipient *common.Address) ([]types.Log, error) {
	topics := [][]common.Hash{{PrivateTransferEvent.ID}}
	if recipient != nil {
		topics = append(topics, nil, []common.Hash{common.BytesToHash(recipient.Bytes())})
	}
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.conf.EncryptedERC},
		Topics:    topics,
	}
	ctx, cancel := context.WithTimeout(ctx, c.conf.Timeout)
	defer cancel()
	logs, err := c.eth.FilterLogs(ctx, q)
	if err != nil {
		return nil, auction.Wrap(auction.KindLedgerTransient, fmt.Sprintf("filtering logs [%d, %d]", from, to), err)
	}
	return logs, nil
}

// TransactionReceipt returns the receipt of txHash or ErrReceiptNotFound.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.conf.Timeout)
	defer cancel()
	r, err := c.eth.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, auction.Wrap(auction.KindLedgerTransient, "getting receipt", err)
	}
	return r, nil
}

type point struct {
	X *big.Int
	Y *big.Int
}

type egct struct {
	C1 point
	C2 point
}

type amountPCT struct {
	Pct   [eerc.PCTLen]*big.Int
	Index *big.Int
}

// BalanceOf returns the encrypted balance state of addr for the configured token.
func (c *Client) BalanceOf(ctx context.Context, addr common.Address) (Balance, error) {
	ctx, cancel := context.WithTimeout(ctx, c.conf.Timeout)
	defer cancel()
	var out []interface{}
	if err := c.eerc.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", addr, c.conf.TokenID); err != nil {
		return Balance{}, auction.Wrap(auction.KindLedgerTransient, "calling balanceOf", err)
	}
	if len(out) != 5 {
		return Balance{}, fmt.Errorf("unexpected balanceOf output length %d", len(out))
	}
	ct := *abi.ConvertType(out[0], new(egct)).(*egct)
	nonce := *abi.ConvertType(out[1], new(*big.Int)).(**big.Int)
	amounts := *abi.ConvertType(out[2], new([]amountPCT)).(*[]amountPCT)
	balancePCT := *abi.ConvertType(out[3], new([eerc.PCTLen]*big.Int)).(*[eerc.PCTLen]*big.Int)
	txIndex := *abi.ConvertType(out[4], new(*big.Int)).(**big.Int)

	b := Balance{
		Encrypted: eerc.Ciphertext{
			C1: &babyjub.Point{X: ct.C1.X, Y: ct.C1.Y},
			C2: &babyjub.Point{X: ct.C2.X, Y: ct.C2.Y},
		},
		Nonce:            nonce,
		BalancePCT:       eerc.PCT(balancePCT),
		TransactionIndex: txIndex,
	}
	for _, a := range amounts {
		b.AmountPCTs = append(b.AmountPCTs, eerc.PCT(a.Pct))
	}
	return b, nil
}

// PublicKey returns the registered encryption key of addr.
func (c *Client) PublicKey(ctx context.Context, addr common.Address) (*babyjub.Point, error) {
	ctx, cancel := context.WithTimeout(ctx, c.conf.Timeout)
	defer cancel()
	var out []interface{}
	if err := c.registrar.Call(&bind.CallOpts{Context: ctx}, &out, "getUserPublicKey", addr); err != nil {
		return nil, auction.Wrap(auction.KindLedgerTransient, "calling getUserPublicKey", err)
	}
	pk := *abi.ConvertType(out[0], new([2]*big.Int)).(*[2]*big.Int)
	if pk[0].Sign() == 0 && pk[1].Sign() == 0 {
		return nil, ErrNotRegistered
	}
	return eerc.NewPoint(pk[0], pk[1])
}

// AuditorPublicKey returns the token auditor's encryption key.
func (c *Client) AuditorPublicKey(ctx context.Context) (*babyjub.Point, error) {
	ctx, cancel := context.WithTimeout(ctx, c.conf.Timeout)
	defer cancel()
	var out []interface{}
	if err := c.eerc.Call(&bind.CallOpts{Context: ctx}, &out, "auditorPublicKey"); err != nil {
		return nil, auction.Wrap(auction.KindLedgerTransient, "calling auditorPublicKey", err)
	}
	x := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	y := *abi.ConvertType(out[1], new(*big.Int)).(**big.Int)
	return eerc.NewPoint(x, y)
}

// Transfer signs and submits a transfer from the escrow, then waits for it to
// be mined. A reverted transaction is a fatal ledger error.
func (c *Client) Transfer(
	ctx context.Context,
	to common.Address,
	proof Proof,
	balancePCT eerc.PCT) (*types.Receipt, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.conf.EscrowKey, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("creating transactor: %v", err)
	}
	sctx, cancel := context.WithTimeout(ctx, c.conf.Timeout)
	defer cancel()
	opts.Context = sctx
	tx, err := c.eerc.Transact(opts, "transfer", to, c.conf.TokenID, proof, [eerc.PCTLen]*big.Int(balancePCT))
	if err != nil {
		return nil, auction.Wrap(auction.KindLedgerFatal, "submitting transfer", err)
	}
	log.Debugf("transfer %s to %s submitted", tx.Hash(), to)

	wctx, wcancel := context.WithTimeout(ctx, c.conf.MineTimeout)
	defer wcancel()
	r, err := bind.WaitMined(wctx, c.eth, tx)
	if err != nil {
		return nil, auction.Wrap(auction.KindLedgerTransient, fmt.Sprintf("waiting for transfer %s", tx.Hash()), err)
	}
	if r.Status != types.ReceiptStatusSuccessful {
		return r, auction.Errorf(auction.KindLedgerFatal, "transfer %s reverted", tx.Hash())
	}
	return r, nil
}
