package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"hash"
	"math/big"

	"github.com/cuemby/ota-agent/internal/otaerr"
)

// SignatureSize is the detached ECDSA-P256 signature length: two
// 32-byte big-endian coordinates, r || s (spec §4.9).
const SignatureSize = 64

// PublicKeyCoordSize is the width of each embedded public-key
// coordinate.
const PublicKeyCoordSize = 32

// PublicKey wraps the embedded verification key, given as two
// big-endian coordinates per spec §4.9.
type PublicKey struct {
	key *ecdsa.PublicKey
}

// NewPublicKey builds a PublicKey from the embedded X and Y
// coordinates, each PublicKeyCoordSize bytes, big-endian.
func NewPublicKey(x, y []byte) (PublicKey, error) {
	if len(x) != PublicKeyCoordSize || len(y) != PublicKeyCoordSize {
		return PublicKey{}, otaerr.New(otaerr.GetData, "public key coordinates must each be 32 bytes")
	}

	key := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}
	if !key.Curve.IsOnCurve(key.X, key.Y) {
		return PublicKey{}, otaerr.New(otaerr.GetData, "public key is not a point on P-256")
	}

	return PublicKey{key: key}, nil
}

// SignatureVerifier accumulates a SHA-256 digest incrementally across
// chunk writes, holding back the trailing SignatureSize bytes of the
// stream so they never enter the hash (spec §4.9 "must never hash the
// trailing 64-byte signature").
//
// Because chunks do not align to the signature boundary, the verifier
// buffers up to SignatureSize trailing bytes internally; a write that
// straddles the boundary only hashes the portion that can no longer be
// part of the signature.
type SignatureVerifier struct {
	digest  hash.Hash
	trailer []byte
}

// NewSignatureVerifier returns a verifier ready to accumulate a stream.
func NewSignatureVerifier() *SignatureVerifier {
	return &SignatureVerifier{
		digest: sha256.New(),
	}
}

// Write feeds the next len(p) bytes of the stream into the verifier.
// Bytes that might still turn out to be part of the trailing signature
// are held in an internal buffer until enough further data arrives to
// prove they are not.
func (v *SignatureVerifier) Write(p []byte) {
	v.trailer = append(v.trailer, p...)
	if len(v.trailer) <= SignatureSize {
		return
	}

	flush := len(v.trailer) - SignatureSize
	v.digest.Write(v.trailer[:flush])
	v.trailer = append([]byte(nil), v.trailer[flush:]...)
}

// Finish returns the SHA-256 digest of everything written except the
// final SignatureSize bytes, and those final bytes as the detached
// signature. It is an error to call Finish before at least
// SignatureSize bytes have been written.
func (v *SignatureVerifier) Finish() (digest [32]byte, signature []byte, err error) {
	if len(v.trailer) < SignatureSize {
		return digest, nil, otaerr.New(otaerr.GetData, "stream shorter than the detached signature")
	}

	sum := v.digest.Sum(nil)
	copy(digest[:], sum)
	return digest, v.trailer, nil
}

// Verify checks that signature (r || s, SignatureSize bytes) is a
// valid ECDSA-P256 signature of digest under pub, following the
// standard ECDSA verification equation referenced in spec §4.9.
func Verify(pub PublicKey, digest [32]byte, signature []byte) error {
	if len(signature) != SignatureSize {
		return otaerr.New(otaerr.GetData, "signature must be 64 bytes")
	}

	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])

	if !ecdsa.Verify(pub.key, digest[:], r, s) {
		return otaerr.New(otaerr.BLEVerify, "ECDSA-P256 signature verification failed")
	}

	return nil
}
