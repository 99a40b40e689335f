// Package chain reads and writes the encrypted-ERC token contract on an EVM
// ledger: block height, confidential transfer logs, receipts, encrypted
// balances and public keys, and escrow transfer submission.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/textileio/auctiond/auction"
	"github.com/textileio/auctiond/eerc"
)

var (
	// ErrReceiptNotFound indicates the transaction is not mined yet or unknown.
	ErrReceiptNotFound = errors.New("transaction receipt not found")
	// ErrNotRegistered indicates an account without a registered public key.
	ErrNotRegistered = &auction.Error{Kind: auction.KindValidation, Msg: "account not registered"}
	// ErrNotTransferLog indicates a log that is not a PrivateTransfer event.
	ErrNotTransferLog = errors.New("log is not a PrivateTransfer event")
)

// Ledger is the set of ledger operations the daemon depends on.
type Ledger interface {
	// ChainID returns the chain identifier.
	ChainID(ctx context.Context) (*big.Int, error)
	// BlockNumber returns the latest block height.
	BlockNumber(ctx context.Context) (uint64, error)
	// FilterTransfers returns PrivateTransfer logs in [from, to]. When recipient
	// is not nil, only logs addressed to it are returned.
	FilterTransfers(ctx context.Context, from, to uint64, recipient *common.Address) ([]types.Log, error)
	// TransactionReceipt returns the receipt of txHash or ErrReceiptNotFound.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	// BalanceOf returns the encrypted balance state of addr.
	BalanceOf(ctx context.Context, addr common.Address) (Balance, error)
	// PublicKey returns the registered encryption key of addr or ErrNotRegistered.
	PublicKey(ctx context.Context, addr common.Address) (*babyjub.Point, error)
	// AuditorPublicKey returns the token auditor's encryption key.
	AuditorPublicKey(ctx context.Context) (*babyjub.Point, error)
	// Transfer submits a confidential transfer from the escrow and waits until
	// it is mined.
	Transfer(ctx context.Context, to common.Address, proof Proof, balancePCT eerc.PCT) (*types.Receipt, error)
	// Escrow returns the address that signs transfers.
	Escrow() common.Address
}

// TransferEvent is a decoded PrivateTransfer log.
type TransferEvent struct {
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	From        common.Address
	To          common.Address
	Auditor     common.Address
	AuditorPCT  eerc.PCT
}

// Balance is the encrypted balance state of an account for the configured token.
type Balance struct {
	Encrypted        eerc.Ciphertext
	Nonce            *big.Int
	AmountPCTs       []eerc.PCT
	BalancePCT       eerc.PCT
	TransactionIndex *big.Int
}

// PCTs returns the balance PCT followed by every pending amount PCT.
func (b Balance) PCTs() []eerc.PCT {
	out := make([]eerc.PCT, 0, len(b.AmountPCTs)+1)
	out = append(out, b.BalancePCT)
	return append(out, b.AmountPCTs...)
}

// ProofPoints are the Groth16 proof points of a transfer proof.
type ProofPoints struct {
	A [2]*big.Int
	B [2][2]*big.Int
	C [2]*big.Int
}

// Proof is a transfer proof with its public signals, as the contract expects it.
type Proof struct {
	ProofPoints   ProofPoints
	PublicSignals [32]*big.Int
}

// ParseTransfer decodes a PrivateTransfer log.
func ParseTransfer(l types.Log) (TransferEvent, error) {
	if len(l.Topics) != 4 || l.Topics[0] != PrivateTransferEvent.ID {
		return TransferEvent{}, ErrNotTransferLog
	}
	vals, err := PrivateTransferEvent.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil {
		return TransferEvent{}, fmt.Errorf("unpacking transfer data: %v", err)
	}
	if len(vals) != 1 {
		return TransferEvent{}, fmt.Errorf("unexpected transfer data length %d", len(vals))
	}
	raw, ok := vals[0].([eerc.PCTLen]*big.Int)
	if !ok {
		return TransferEvent{}, fmt.Errorf("unexpected auditor pct type %T", vals[0])
	}
	pct, err := eerc.PCTFromBigs(raw[:])
	if err != nil {
		return TransferEvent{}, err
	}
	return TransferEvent{
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
		BlockNumber: l.BlockNumber,
		From:        common.BytesToAddress(l.Topics[1].Bytes()),
		To:          common.BytesToAddress(l.Topics[2].Bytes()),
		Auditor:     common.BytesToAddress(l.Topics[3].Bytes()),
		AuditorPCT:  pct,
	}, nil
}

// PackTransfer returns the call data of a transfer to to.
func PackTransfer(to common.Address, tokenID *big.Int, proof Proof, balancePCT eerc.PCT) ([]byte, error) {
	data, err := eercABI.Pack("transfer", to, tokenID, proof, [eerc.PCTLen]*big.Int(balancePCT))
	if err != nil {
		return nil, fmt.Errorf("packing transfer: %v", err)
	}
	return data, nil
}
