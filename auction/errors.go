package auction

import (
	"errors"
	"fmt"
)

// Kind classifies errors surfaced to API callers.
type Kind int

const (
	// KindInternal is any error without a more specific kind.
	KindInternal Kind = iota
	// KindNotFound indicates an unknown auction or bid.
	KindNotFound
	// KindValidation indicates missing or malformed input.
	KindValidation
	// KindCommitmentMismatch indicates a binding commitment did not verify.
	KindCommitmentMismatch
	// KindInsufficientBalance indicates the escrow cannot cover a transfer.
	KindInsufficientBalance
	// KindLedgerTransient indicates an RPC or timeout error that may succeed on retry.
	KindLedgerTransient
	// KindLedgerFatal indicates the ledger rejected a submission.
	KindLedgerFatal
)

// String returns a string-encoded kind.
func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindCommitmentMismatch:
		return "commitment_mismatch"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindLedgerTransient:
		return "ledger_transient"
	case KindLedgerFatal:
		return "ledger_fatal"
	default:
		return "invalid"
	}
}

// Error is an error with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf returns a new Error of kind k.
func Errorf(k Kind, format string, args ...interface{}) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns err tagged with kind k. Nil errors stay nil.
func Wrap(k Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

var (
	// ErrAuctionNotFound indicates the requested auction was not found.
	ErrAuctionNotFound = &Error{Kind: KindNotFound, Msg: "auction not found"}
	// ErrBidNotFound indicates no bid to the escrow exists for a transaction.
	ErrBidNotFound = &Error{Kind: KindNotFound, Msg: "bid (to escrow) not found for txHash"}
	// ErrNoBids indicates an auction has no bound bids.
	ErrNoBids = &Error{Kind: KindValidation, Msg: "no bids"}
	// ErrNoLosers indicates an auction has fewer than two bound bids.
	ErrNoLosers = &Error{Kind: KindValidation, Msg: "no losers to refund"}
	// ErrCommitmentMismatch indicates the binding hash did not match the captured bid.
	ErrCommitmentMismatch = &Error{Kind: KindCommitmentMismatch, Msg: "bindingHash mismatch"}
	// ErrInsufficientBalance indicates the escrow balance is lower than a transfer amount.
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance, Msg: "escrow insufficient balance"}
	// ErrBidAlreadyBound indicates the bid is bound to another auction.
	ErrBidAlreadyBound = &Error{Kind: KindValidation, Msg: "bid already bound to another auction"}
	// ErrAuctionClosed indicates the auction no longer accepts bindings.
	ErrAuctionClosed = &Error{Kind: KindValidation, Msg: "auction is closed"}
	// ErrRecipientNotRegistered indicates the transfer recipient has no encryption key.
	ErrRecipientNotRegistered = &Error{Kind: KindValidation, Msg: "receiver not registered"}
)
