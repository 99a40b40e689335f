package eerc

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/iden3/go-iden3-crypto/babyjub"
)

// Ciphertext is an ElGamal ciphertext over BabyJubJub, as stored in an
// account's encrypted balance (EGCT).
type Ciphertext struct {
	C1 *babyjub.Point
	C2 *babyjub.Point
}

// IsZero returns whether the ciphertext was never set on the ledger.
func (c Ciphertext) IsZero() bool {
	return isZeroPoint(c.C1) && isZeroPoint(c.C2)
}

// Encrypt encrypts m for pub with randomness r: (r*B8, m*B8 + r*pub).
func Encrypt(pub *babyjub.Point, m *big.Int, r *big.Int) Ciphertext {
	c1 := babyjub.NewPoint().Mul(r, babyjub.B8)
	mp := babyjub.NewPoint().Mul(m, babyjub.B8)
	shared := babyjub.NewPoint().Mul(r, pub)
	return Ciphertext{C1: c1, C2: addPoints(mp, shared)}
}

// EncryptRandom encrypts m for pub with fresh randomness, which is returned.
func EncryptRandom(pub *babyjub.Point, m *big.Int) (Ciphertext, *big.Int, error) {
	r, err := randomScalar()
	if err != nil {
		return Ciphertext{}, nil, err
	}
	return Encrypt(pub, m, r), r, nil
}

// DecryptPoint removes the key's blinding from ct, returning m*B8.
func DecryptPoint(key PrivateKey, ct Ciphertext) *babyjub.Point {
	c1x := babyjub.NewPoint().Mul(key.Scalar(), ct.C1)
	return addPoints(ct.C2, negPoint(c1x))
}

func addPoints(a, b *babyjub.Point) *babyjub.Point {
	return babyjub.NewPointProjective().Add(a.Projective(), b.Projective()).Affine()
}

func negPoint(p *babyjub.Point) *babyjub.Point {
	var x fr.Element
	x.SetBigInt(p.X)
	x.Neg(&x)
	return &babyjub.Point{X: x.BigInt(new(big.Int)), Y: new(big.Int).Set(p.Y)}
}

func isZeroPoint(p *babyjub.Point) bool {
	return p == nil || (p.X.Sign() == 0 && p.Y.Sign() == 0)
}

func randomScalar() (*big.Int, error) {
	r, err := rand.Int(rand.Reader, babyjub.SubOrder)
	if err != nil {
		return nil, fmt.Errorf("generating randomness: %v", err)
	}
	if r.Sign() == 0 {
		r.SetInt64(1)
	}
	return r, nil
}

// NewPoint returns the point (x, y), validating it is on the curve.
func NewPoint(x, y *big.Int) (*babyjub.Point, error) {
	p := &babyjub.Point{X: new(big.Int).Set(x), Y: new(big.Int).Set(y)}
	if !p.InCurve() {
		return nil, fmt.Errorf("point (%s, %s) is not on the curve", x, y)
	}
	return p, nil
}
