package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCRC32_PartitionInvariant matches spec §8 invariant 2: CRC-32
// computed incrementally over an arbitrary partition of a byte string
// equals the CRC-32 of the concatenated string.
func TestCRC32_PartitionInvariant(t *testing.T) {
	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i * 7)
	}

	whole := ComputeCRC32(data)

	partitions := [][]int{
		{0, 10000},
		{0, 1, 10000},
		{0, 3333, 6666, 10000},
		{0, 1, 2, 3, 10000},
	}

	for _, cuts := range partitions {
		c := NewCRC()
		for i := 0; i < len(cuts)-1; i++ {
			c.Write(data[cuts[i]:cuts[i+1]])
		}
		assert.Equal(t, whole, c.Sum())
	}
}

func signStream(t *testing.T, priv *ecdsa.PrivateKey, msg []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(msg)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	require.NoError(t, err)

	sig := make([]byte, SignatureSize)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig
}

func publicKeyFrom(t *testing.T, priv *ecdsa.PrivateKey) PublicKey {
	t.Helper()
	x := make([]byte, PublicKeyCoordSize)
	y := make([]byte, PublicKeyCoordSize)
	priv.PublicKey.X.FillBytes(x)
	priv.PublicKey.Y.FillBytes(y)

	pub, err := NewPublicKey(x, y)
	require.NoError(t, err)
	return pub
}

// TestSignedStream_HashIgnoresChunkBoundaries matches spec §8 invariant
// 3: given stream M || sig64, the SHA-256 computed incrementally equals
// SHA-256(M) regardless of the write boundaries.
func TestSignedStream_HashIgnoresChunkBoundaries(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	message := make([]byte, 100*1024)
	for i := range message {
		message[i] = byte(i)
	}
	sig := signStream(t, priv, message)
	stream := append(append([]byte{}, message...), sig...)

	chunkSizes := []int{1, 17, 512, 4096, 1 << 20}
	var digests [][32]byte
	for _, chunkSize := range chunkSizes {
		v := NewSignatureVerifier()
		for off := 0; off < len(stream); off += chunkSize {
			end := off + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			v.Write(stream[off:end])
		}
		digest, signature, err := v.Finish()
		require.NoError(t, err)
		assert.Equal(t, sig, signature)
		digests = append(digests, digest)
	}

	for i := 1; i < len(digests); i++ {
		assert.Equal(t, digests[0], digests[i], "digest must not depend on write chunking")
	}

	pub := publicKeyFrom(t, priv)
	require.NoError(t, Verify(pub, digests[0], sig))
}

// TestSignedStream_BitFlipFailsVerify matches spec §8's end-to-end
// scenario: any single-bit flip of the stream or signature fails
// verification.
func TestSignedStream_BitFlipFailsVerify(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pub := publicKeyFrom(t, priv)

	message := []byte("firmware image payload")
	sig := signStream(t, priv, message)

	digestFor := func(msg []byte) [32]byte {
		v := NewSignatureVerifier()
		v.Write(append(append([]byte{}, msg...), sig...))
		digest, _, err := v.Finish()
		require.NoError(t, err)
		return digest
	}

	require.NoError(t, Verify(pub, digestFor(message), sig))

	flippedMessage := append([]byte{}, message...)
	flippedMessage[0] ^= 0x01
	assert.Error(t, Verify(pub, digestFor(flippedMessage), sig))

	flippedSig := append([]byte{}, sig...)
	flippedSig[0] ^= 0x01
	assert.Error(t, Verify(pub, digestFor(message), flippedSig))
}

func TestNewPublicKey_RejectsWrongLength(t *testing.T) {
	_, err := NewPublicKey(make([]byte, 16), make([]byte, 32))
	require.Error(t, err)
}

func TestVerify_RejectsWrongSignatureLength(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pub := publicKeyFrom(t, priv)

	err = Verify(pub, [32]byte{}, make([]byte, 10))
	require.Error(t, err)
}
