// Package chaintest provides an in-memory Ledger for tests.
package chaintest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/textileio/auctiond/auction"
	"github.com/textileio/auctiond/chain"
	"github.com/textileio/auctiond/eerc"
)

// ContractAddress is the token address used in fake logs.
var ContractAddress = common.HexToAddress("0x00000000000000000000000000000000000e4c20")

// Account is a registered participant of the fake ledger.
type Account struct {
	Key     eerc.PrivateKey
	Balance uint64
}

// Transfer is a transfer submitted through the fake ledger.
type Transfer struct {
	To     common.Address
	Amount uint64
	TxHash common.Hash
	Block  uint64
}

// FakeLedger is an in-memory chain.Ledger. Balances are kept in plaintext and
// encrypted under the account key on every read.
type FakeLedger struct {
	lock sync.Mutex

	chainID  *big.Int
	escrow   common.Address
	auditor  eerc.PrivateKey
	head     uint64
	txNonce  uint64
	logs     []types.Log
	receipts map[common.Hash]*types.Receipt
	hidden   map[common.Hash]int
	accounts map[common.Address]*Account

	transfers []Transfer

	// BlockNumberErr, when set, is returned by BlockNumber.
	BlockNumberErr error
	// FilterErr, when set, is returned by FilterTransfers.
	FilterErr error
	// TransferErr, when set, is returned by Transfer before any state change.
	TransferErr error
	// FailTransferAfter makes Transfer fail once this many transfers succeeded.
	// Negative disables it.
	FailTransferAfter int

	receiptCalls int
}

var _ chain.Ledger = (*FakeLedger)(nil)

// NewFakeLedger returns a ledger with a registered escrow that is also the
// token auditor.
func NewFakeLedger(escrow common.Address, escrowKey eerc.PrivateKey, escrowBalance uint64) *FakeLedger {
	f := &FakeLedger{
		chainID:           big.NewInt(43113),
		escrow:            escrow,
		auditor:           escrowKey,
		head:              1,
		receipts:          make(map[common.Hash]*types.Receipt),
		hidden:            make(map[common.Hash]int),
		accounts:          make(map[common.Address]*Account),
		FailTransferAfter: -1,
	}
	f.accounts[escrow] = &Account{Key: escrowKey, Balance: escrowBalance}
	return f
}

// Register adds an account with a plaintext balance.
func (f *FakeLedger) Register(addr common.Address, key eerc.PrivateKey, balance uint64) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.accounts[addr] = &Account{Key: key, Balance: balance}
}

// SetHead sets the latest block height.
func (f *FakeLedger) SetHead(h uint64) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.head = h
}

// AddTransfer records a PrivateTransfer from from to to at block with an
// auditor PCT of amount, and returns its log. The head moves up to block.
func (f *FakeLedger) AddTransfer(from, to common.Address, amount uint64, block uint64) types.Log {
	f.lock.Lock()
	defer f.lock.Unlock()
	txHash := f.nextTxHash()
	l := NewTransferLog(txHash, 0, block, from, to, f.auditor.Public(), amount)
	f.logs = append(f.logs, l)
	f.receipts[txHash] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: new(big.Int).SetUint64(block),
		Logs:        []*types.Log{&l},
	}
	if block > f.head {
		f.head = block
	}
	return l
}

// HideReceipt makes the next n receipt lookups of txHash report it as not found.
func (f *FakeLedger) HideReceipt(txHash common.Hash, n int) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.hidden[txHash] = n
}

// ReceiptCalls returns how many receipt lookups were made.
func (f *FakeLedger) ReceiptCalls() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.receiptCalls
}

// Transfers returns the transfers submitted so far.
func (f *FakeLedger) Transfers() []Transfer {
	f.lock.Lock()
	defer f.lock.Unlock()
	out := make([]Transfer, len(f.transfers))
	copy(out, f.transfers)
	return out
}

// BalanceOfPlain returns the plaintext balance of addr.
func (f *FakeLedger) BalanceOfPlain(addr common.Address) uint64 {
	f.lock.Lock()
	defer f.lock.Unlock()
	if a, ok := f.accounts[addr]; ok {
		return a.Balance
	}
	return 0
}

// Escrow returns the escrow address.
func (f *FakeLedger) Escrow() common.Address {
	return f.escrow
}

// ChainID implements chain.Ledger.
func (f *FakeLedger) ChainID(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.chainID), nil
}

// BlockNumber implements chain.Ledger.
func (f *FakeLedger) BlockNumber(_ context.Context) (uint64, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.BlockNumberErr != nil {
		return 0, f.BlockNumberErr
	}
	return f.head, nil
}

// FilterTransfers implements chain.Ledger.
func (f *FakeLedger) FilterTransfers(
	_ context.Context,
	from, to uint64,
	recipient *common.Address) ([]types.Log, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.FilterErr != nil {
		return nil, f.FilterErr
	}
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if recipient != nil && common.BytesToAddress(l.Topics[2].Bytes()) != *recipient {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// TransactionReceipt implements chain.Ledger.
func (f *FakeLedger) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.receiptCalls++
	if n := f.hidden[txHash]; n > 0 {
		f.hidden[txHash] = n - 1
		return nil, chain.ErrReceiptNotFound
	}
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, chain.ErrReceiptNotFound
	}
	return r, nil
}

// BalanceOf implements chain.Ledger.
func (f *FakeLedger) BalanceOf(_ context.Context, addr common.Address) (chain.Balance, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	a, ok := f.accounts[addr]
	if !ok {
		zero := &babyjub.Point{X: new(big.Int), Y: new(big.Int)}
		return chain.Balance{Encrypted: eerc.Ciphertext{C1: zero, C2: zero}}, nil
	}
	amount := new(big.Int).SetUint64(a.Balance)
	ct, _, err := eerc.EncryptRandom(a.Key.Public(), amount)
	if err != nil {
		return chain.Balance{}, err
	}
	pct, err := eerc.EncryptPCT(amount, a.Key.Public())
	if err != nil {
		return chain.Balance{}, err
	}
	return chain.Balance{
		Encrypted:        ct,
		Nonce:            new(big.Int),
		BalancePCT:       pct.PCT,
		TransactionIndex: new(big.Int).SetUint64(f.txNonce),
	}, nil
}

// PublicKey implements chain.Ledger.
func (f *FakeLedger) PublicKey(_ context.Context, addr common.Address) (*babyjub.Point, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	a, ok := f.accounts[addr]
	if !ok {
		return nil, chain.ErrNotRegistered
	}
	return a.Key.Public(), nil
}

// AuditorPublicKey implements chain.Ledger.
func (f *FakeLedger) AuditorPublicKey(_ context.Context) (*babyjub.Point, error) {
	return f.auditor.Public(), nil
}

// Transfer implements chain.Ledger. The escrow's new balance is read from
// balancePCT, and the difference is credited to the recipient.
func (f *FakeLedger) Transfer(
	_ context.Context,
	to common.Address,
	_ chain.Proof,
	balancePCT eerc.PCT) (*types.Receipt, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.TransferErr != nil {
		return nil, f.TransferErr
	}
	if f.FailTransferAfter >= 0 && len(f.transfers) >= f.FailTransferAfter {
		return nil, auction.Errorf(auction.KindLedgerFatal, "transfer reverted")
	}
	escrow := f.accounts[f.escrow]
	left, err := eerc.DecryptPCT(balancePCT, escrow.Key)
	if err != nil {
		return nil, auction.Wrap(auction.KindLedgerFatal, "invalid balance pct", err)
	}
	if !left.IsUint64() || left.Uint64() > escrow.Balance {
		return nil, auction.Errorf(auction.KindLedgerFatal, "balance pct exceeds balance")
	}
	amount := escrow.Balance - left.Uint64()
	rcpt, ok := f.accounts[to]
	if !ok {
		return nil, auction.Errorf(auction.KindLedgerFatal, "recipient %s not registered", to)
	}
	escrow.Balance -= amount
	rcpt.Balance += amount

	f.head++
	txHash := f.nextTxHash()
	r := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: new(big.Int).SetUint64(f.head),
	}
	f.receipts[txHash] = r
	f.transfers = append(f.transfers, Transfer{To: to, Amount: amount, TxHash: txHash, Block: f.head})
	return r, nil
}

func (f *FakeLedger) nextTxHash() common.Hash {
	f.txNonce++
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], f.txNonce)
	return crypto.Keccak256Hash([]byte("fake-tx"), b[:])
}

// NewTransferLog builds a PrivateTransfer log with an auditor PCT of amount
// encrypted for auditor.
func NewTransferLog(
	txHash common.Hash,
	index uint,
	block uint64,
	from, to common.Address,
	auditor *babyjub.Point,
	amount uint64) types.Log {
	enc, err := eerc.EncryptPCT(new(big.Int).SetUint64(amount), auditor)
	if err != nil {
		panic(fmt.Sprintf("encrypting pct: %v", err))
	}
	data, err := chain.PrivateTransferEvent.Inputs.NonIndexed().Pack([eerc.PCTLen]*big.Int(enc.PCT))
	if err != nil {
		panic(fmt.Sprintf("packing transfer log: %v", err))
	}
	return types.Log{
		Address: ContractAddress,
		Topics: []common.Hash{
			chain.PrivateTransferEvent.ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
			common.BytesToHash(ContractAddress.Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      txHash,
		Index:       index,
	}
}
