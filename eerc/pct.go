package eerc

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

// PCTLen is the number of field elements in a PCT: four ciphertext elements,
// the two coordinates of the authentication key and the nonce.
const PCTLen = 7

var (
	two128 = new(big.Int).Lsh(big.NewInt(1), 128)

	// ErrPCTAuth indicates a PCT whose authentication element does not verify
	// under the given key.
	ErrPCTAuth = errors.New("pct authentication failed")
)

// PCT is a Poseidon ciphertext of a single amount.
type PCT [PCTLen]*big.Int

// PCTFromBigs builds a PCT from a slice of exactly PCTLen elements.
func PCTFromBigs(v []*big.Int) (PCT, error) {
	var p PCT
	if len(v) != PCTLen {
		return p, fmt.Errorf("pct must have %d elements, got %d", PCTLen, len(v))
	}
	for i := range v {
		if v[i] == nil {
			return p, fmt.Errorf("pct element %d is nil", i)
		}
		p[i] = new(big.Int).Set(v[i])
	}
	return p, nil
}

// IsZero returns whether every element is zero, i.e. the slot is unused.
func (p PCT) IsZero() bool {
	for _, v := range p {
		if v != nil && v.Sign() != 0 {
			return false
		}
	}
	return true
}

// Strings returns the decimal encoding of each element.
func (p PCT) Strings() []string {
	out := make([]string, PCTLen)
	for i, v := range p {
		if v == nil {
			out[i] = "0"
			continue
		}
		out[i] = v.String()
	}
	return out
}

// DecryptPCT recovers the amount in p with key. It runs in constant time with
// respect to the amount; no discrete log is involved.
func DecryptPCT(p PCT, key PrivateKey) (*big.Int, error) {
	for i, v := range p {
		if v == nil {
			return nil, fmt.Errorf("pct element %d is nil", i)
		}
	}
	authKey, err := NewPoint(p[4], p[5])
	if err != nil {
		return nil, fmt.Errorf("pct auth key: %v", err)
	}
	shared := babyjub.NewPoint().Mul(key.Scalar(), authKey)
	msg, err := poseidonDecrypt(p[:4], shared, p[6], 1)
	if err != nil {
		return nil, err
	}
	return msg[0], nil
}

// EncryptedPCT is a PCT together with the randomness used to build it.
type EncryptedPCT struct {
	PCT       PCT
	EncRandom *big.Int
}

// EncryptPCT encrypts m for pub under a fresh ephemeral key and nonce.
func EncryptPCT(m *big.Int, pub *babyjub.Point) (EncryptedPCT, error) {
	encRandom, err := randomScalar()
	if err != nil {
		return EncryptedPCT{}, err
	}
	nonce, err := rand.Int(rand.Reader, two128)
	if err != nil {
		return EncryptedPCT{}, fmt.Errorf("generating nonce: %v", err)
	}
	shared := babyjub.NewPoint().Mul(encRandom, pub)
	authKey := babyjub.NewPoint().Mul(encRandom, babyjub.B8)
	ct, err := poseidonEncrypt([]*big.Int{m}, shared, nonce)
	if err != nil {
		return EncryptedPCT{}, err
	}
	var p PCT
	copy(p[:4], ct)
	p[4], p[5], p[6] = authKey.X, authKey.Y, nonce
	return EncryptedPCT{PCT: p, EncRandom: encRandom}, nil
}

// SumPCTs decrypts every non-empty PCT with key and returns the total.
// PCTs that fail to decrypt count as zero.
func SumPCTs(key PrivateKey, pcts ...PCT) *big.Int {
	total := new(big.Int)
	for _, p := range pcts {
		if p.IsZero() {
			continue
		}
		v, err := DecryptPCT(p, key)
		if err != nil {
			continue
		}
		total.Add(total, v)
	}
	return total
}

func poseidonEncrypt(msg []*big.Int, key *babyjub.Point, nonce *big.Int) ([]*big.Int, error) {
	if nonce.Cmp(two128) >= 0 {
		return nil, errors.New("nonce must be lower than 2^128")
	}
	padded := make([]*big.Int, 0, len(msg)+2)
	padded = append(padded, msg...)
	for len(padded)%3 != 0 {
		padded = append(padded, new(big.Int))
	}
	state := initialState(key, nonce, len(msg))
	ct := make([]*big.Int, 0, len(padded)+1)
	var err error
	for i := 0; i < len(padded)/3; i++ {
		if state, err = permute(state); err != nil {
			return nil, err
		}
		for j := 1; j <= 3; j++ {
			state[j] = fieldAdd(state[j], padded[i*3+j-1])
			ct = append(ct, state[j])
		}
	}
	if state, err = permute(state); err != nil {
		return nil, err
	}
	return append(ct, state[1]), nil
}

func poseidonDecrypt(ct []*big.Int, key *babyjub.Point, nonce *big.Int, length int) ([]*big.Int, error) {
	if (len(ct)-1)%3 != 0 || len(ct) < 4 {
		return nil, fmt.Errorf("invalid ciphertext length %d", len(ct))
	}
	state := initialState(key, nonce, length)
	msg := make([]*big.Int, 0, len(ct)-1)
	var err error
	for i := 0; i < (len(ct)-1)/3; i++ {
		if state, err = permute(state); err != nil {
			return nil, err
		}
		for j := 1; j <= 3; j++ {
			msg = append(msg, fieldSub(ct[i*3+j-1], state[j]))
			state[j] = ct[i*3+j-1]
		}
	}
	if state, err = permute(state); err != nil {
		return nil, err
	}
	if state[1].Cmp(ct[len(ct)-1]) != 0 {
		return nil, ErrPCTAuth
	}
	return msg[:length], nil
}

func initialState(key *babyjub.Point, nonce *big.Int, length int) [4]*big.Int {
	domain := new(big.Int).Mul(big.NewInt(int64(length)), two128)
	return [4]*big.Int{
		new(big.Int),
		new(big.Int).Set(key.X),
		new(big.Int).Set(key.Y),
		fieldAdd(nonce, domain),
	}
}

// permute applies the width-4 Poseidon permutation to the whole state.
func permute(state [4]*big.Int) ([4]*big.Int, error) {
	out, err := poseidon.HashWithStateEx(state[1:], state[0], 4)
	if err != nil {
		return state, fmt.Errorf("poseidon permutation: %v", err)
	}
	return [4]*big.Int{out[0], out[1], out[2], out[3]}, nil
}

func fieldAdd(a, b *big.Int) *big.Int {
	var x, y fr.Element
	x.SetBigInt(a)
	y.SetBigInt(b)
	x.Add(&x, &y)
	return x.BigInt(new(big.Int))
}

func fieldSub(a, b *big.Int) *big.Int {
	var x, y fr.Element
	x.SetBigInt(a)
	y.SetBigInt(b)
	x.Sub(&x, &y)
	return x.BigInt(new(big.Int))
}
