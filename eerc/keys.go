// Package eerc implements the encrypted-ERC primitives the auction engine
// needs: BabyJubJub key derivation from wallet signatures, ElGamal balance
// decryption with a bounded discrete log, and Poseidon amount ciphertexts
// (PCTs) that a key holder decrypts directly.
package eerc

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/dchest/blake512"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/babyjub"
)

// signatureLen is the length of an EVM personal_sign signature (r, s, v).
const signatureLen = 65

// ErrInvalidSignature indicates a signature that cannot seed a key.
var ErrInvalidSignature = errors.New("invalid signature")

// PrivateKey is a raw eERC private key as derived from a wallet signature.
// The scalar used on the curve is obtained with Scalar.
type PrivateKey struct {
	k *big.Int
}

// NewPrivateKey returns a key wrapping the raw value k.
func NewPrivateKey(k *big.Int) PrivateKey {
	return PrivateKey{k: new(big.Int).Set(k)}
}

// Raw returns a copy of the raw key.
func (pk PrivateKey) Raw() *big.Int {
	if pk.k == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(pk.k)
}

// IsZero returns whether the key is unset.
func (pk PrivateKey) IsZero() bool {
	return pk.k == nil || pk.k.Sign() == 0
}

// Scalar returns the BabyJubJub scalar for the key: blake512 of the raw key,
// pruned, shifted right by three and reduced modulo the subgroup order.
func (pk PrivateKey) Scalar() *big.Int {
	h := blake512.New()
	_, _ = h.Write(minimalBytes(pk.Raw()))
	d := h.Sum(nil)[:32]
	d[0] &= 0xf8
	d[31] &= 0x7f
	d[31] |= 0x40
	s := leBytesToInt(d)
	s.Rsh(s, 3)
	return s.Mod(s, babyjub.SubOrder)
}

// Public returns the public key Base8 * Scalar.
func (pk PrivateKey) Public() *babyjub.Point {
	return babyjub.NewPoint().Mul(pk.Scalar(), babyjub.B8)
}

// DeriveKey derives the eERC key from a wallet signature: keccak256 of the
// signature, clamped, read little endian and reduced modulo the subgroup order.
func DeriveKey(sig []byte) (PrivateKey, error) {
	k, err := clampedSignatureHash(sig)
	if err != nil {
		return PrivateKey{}, err
	}
	k.Mod(k, babyjub.SubOrder)
	if k.Sign() == 0 {
		k.SetInt64(1)
	}
	return PrivateKey{k: k}, nil
}

// DeriveLegacyKey derives a key the way early clients did, without the final
// reduction modulo the subgroup order.
func DeriveLegacyKey(sig []byte) (PrivateKey, error) {
	k, err := clampedSignatureHash(sig)
	if err != nil {
		return PrivateKey{}, err
	}
	if k.Sign() == 0 {
		k.SetInt64(1)
	}
	return PrivateKey{k: k}, nil
}

// DeriveKeyFromHex is DeriveKey over a 0x-prefixed hex signature.
func DeriveKeyFromHex(sig string) (PrivateKey, error) {
	b, err := decodeSignature(sig)
	if err != nil {
		return PrivateKey{}, err
	}
	return DeriveKey(b)
}

// MigratedKeyDerivation returns the current and the legacy key candidates for
// a hex signature. It exists for accounts registered by old clients and is
// only meant for balance lookups.
func MigratedKeyDerivation(sig string) ([]PrivateKey, error) {
	b, err := decodeSignature(sig)
	if err != nil {
		return nil, err
	}
	current, err := DeriveKey(b)
	if err != nil {
		return nil, err
	}
	legacy, err := DeriveLegacyKey(b)
	if err != nil {
		return nil, err
	}
	return []PrivateKey{current, legacy}, nil
}

// RegistrationMessage is the message a wallet signs to derive its eERC key.
func RegistrationMessage(addr common.Address) string {
	return "eERC\nRegistering user with\n Address:" + strings.ToLower(addr.Hex())
}

// DeriveKeyFromECDSA signs the registration message with key and derives the
// eERC key from the signature. The escrow uses it to obtain its auditor key.
func DeriveKeyFromECDSA(key *ecdsa.PrivateKey) (PrivateKey, error) {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	hash := accounts.TextHash([]byte(RegistrationMessage(addr)))
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("signing registration message: %v", err)
	}
	sig[64] += 27
	return DeriveKey(sig)
}

func decodeSignature(sig string) ([]byte, error) {
	b, err := hexutil.Decode(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return b, nil
}

func clampedSignatureHash(sig []byte) (*big.Int, error) {
	if len(sig) < signatureLen {
		return nil, ErrInvalidSignature
	}
	h := crypto.Keccak256(sig)
	h[0] &= 0xf8
	h[31] &= 0x7f
	h[31] |= 0x40
	return leBytesToInt(h), nil
}

func leBytesToInt(b []byte) *big.Int {
	be := make([]byte, len(b))
	for i := range b {
		be[len(b)-1-i] = b[i]
	}
	return new(big.Int).SetBytes(be)
}

// minimalBytes is the big endian encoding of i with at least one byte.
func minimalBytes(i *big.Int) []byte {
	b := i.Bytes()
	if len(b) == 0 {
		return []byte{0}
	}
	return b
}
