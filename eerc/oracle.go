package eerc

import (
	"errors"
	"math/big"
	"sync"

	"github.com/iden3/go-iden3-crypto/babyjub"
)

const (
	// DefaultCeiling is the largest amount the oracle searches for.
	DefaultCeiling = 100000
	// denseLimit is the upper bound of the dense lookup table.
	denseLimit = 1000
)

// checkpoints are round amounts used operationally, kept in the table even
// when they fall outside the dense range.
var checkpoints = []uint64{100, 500, 1000, 1500, 2000, 5000, 10000}

// ErrBalanceUnknown indicates a balance whose discrete log is beyond the
// search ceiling.
var ErrBalanceUnknown = errors.New("balance unknown: discrete log above search ceiling")

var (
	tableOnce sync.Once
	table     map[[32]byte]uint64
)

func lookupTable() map[[32]byte]uint64 {
	tableOnce.Do(func() {
		table = make(map[[32]byte]uint64, denseLimit+1+len(checkpoints))
		p := identity()
		for m := uint64(0); m <= denseLimit; m++ {
			table[p.Compress()] = m
			p = addPoints(p, babyjub.B8)
		}
		for _, m := range checkpoints {
			q := babyjub.NewPoint().Mul(new(big.Int).SetUint64(m), babyjub.B8)
			table[q.Compress()] = m
		}
	})
	return table
}

func identity() *babyjub.Point {
	return &babyjub.Point{X: big.NewInt(0), Y: big.NewInt(1)}
}

// Result is the outcome of a balance decryption. A balance beyond the search
// ceiling is reported with Found unset instead of being read as zero.
type Result struct {
	Amount uint64
	Found  bool
}

// Decrypted returns a found result for amount.
func Decrypted(amount uint64) Result {
	return Result{Amount: amount, Found: true}
}

// NotFound is the result of a search that exhausted the ceiling.
var NotFound = Result{}

// Value returns the amount, reading an unknown balance as zero.
func (r Result) Value() uint64 {
	if !r.Found {
		return 0
	}
	return r.Amount
}

// Strict returns the amount or ErrBalanceUnknown.
func (r Result) Strict() (uint64, error) {
	if !r.Found {
		return 0, ErrBalanceUnknown
	}
	return r.Amount, nil
}

// Oracle decrypts ElGamal balances. It is safe for concurrent use.
type Oracle struct {
	ceiling uint64
}

// NewOracle returns an oracle searching up to ceiling. A zero ceiling uses
// DefaultCeiling.
func NewOracle(ceiling uint64) *Oracle {
	if ceiling == 0 {
		ceiling = DefaultCeiling
	}
	return &Oracle{ceiling: ceiling}
}

// Ceiling returns the search ceiling.
func (o *Oracle) Ceiling() uint64 {
	return o.ceiling
}

// DecryptBalance decrypts ct with key. A ciphertext never written on the
// ledger decrypts to zero.
func (o *Oracle) DecryptBalance(key PrivateKey, ct Ciphertext) Result {
	if ct.IsZero() {
		return Decrypted(0)
	}
	if ct.C1 == nil || ct.C2 == nil || !ct.C1.InCurve() || !ct.C2.InCurve() {
		return NotFound
	}
	return o.DiscreteLog(DecryptPoint(key, ct))
}

// DiscreteLog finds m such that m*B8 == p, with m at most the ceiling.
func (o *Oracle) DiscreteLog(p *babyjub.Point) Result {
	target := p.Compress()
	if m, ok := lookupTable()[target]; ok && m <= o.ceiling {
		return Decrypted(m)
	}
	if o.ceiling <= denseLimit {
		return NotFound
	}
	q := babyjub.NewPoint().Mul(big.NewInt(denseLimit+1), babyjub.B8)
	for m := uint64(denseLimit + 1); m <= o.ceiling; m++ {
		if q.Compress() == target {
			return Decrypted(m)
		}
		q = addPoints(q, babyjub.B8)
	}
	return NotFound
}
