package wireless

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	ourcrypto "github.com/cuemby/ota-agent/internal/crypto"
	"github.com/cuemby/ota-agent/internal/storage"
	"github.com/cuemby/ota-agent/internal/storage/flash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine() *storage.Engine {
	areas := storage.Areas{
		Secondary0: flash.Area{ID: flash.AreaSecondarySlot0, Device: flash.DeviceInternal, Offset: 0, Size: 8192},
		Secondary1: flash.Area{ID: flash.AreaSecondarySlot1, Device: flash.DeviceInternal, Offset: 8192, Size: 8192},
	}
	dev := flash.NewMemDevice(256, []flash.Area{areas.Secondary0, areas.Secondary1})
	return storage.New(dev, areas, flash.TrailerAlignment8)
}

func TestUnsignedFlow_MatchingCRCVerifies(t *testing.T) {
	engine := newTestEngine()
	a := New(engine, ourcrypto.PublicKey{}, false)

	require.Equal(t, StatusOK, a.PrepareDownload())
	require.Equal(t, StatusOK, a.Download(10))

	data := []byte("0123456789")
	require.Equal(t, StatusOK, a.Write(data))

	expected := ourcrypto.ComputeCRC32(data)
	assert.Equal(t, StatusOK, a.Verify(expected))
}

func TestUnsignedFlow_MismatchedCRCFails(t *testing.T) {
	engine := newTestEngine()
	a := New(engine, ourcrypto.PublicKey{}, false)

	require.Equal(t, StatusOK, a.PrepareDownload())
	require.Equal(t, StatusOK, a.Download(10))
	require.Equal(t, StatusOK, a.Write([]byte("0123456789")))

	assert.Equal(t, StatusBad, a.Verify(0xdeadbeef))
}

func TestSignedFlow_ValidSignatureVerifies(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	pub, err := ourcrypto.NewPublicKey(leftPad32(priv.PublicKey.X.Bytes()), leftPad32(priv.PublicKey.Y.Bytes()))
	require.NoError(t, err)

	firmware := []byte("signed firmware image bytes")
	sum := sha256.Sum256(firmware)
	r, s, err := ecdsa.Sign(rand.Reader, priv, sum[:])
	require.NoError(t, err)
	sig := append(leftPad32(r.Bytes()), leftPad32(s.Bytes())...)

	engine := newTestEngine()
	a := New(engine, pub, true)

	require.Equal(t, StatusOK, a.PrepareDownload())
	require.Equal(t, StatusOK, a.Download(uint32(len(firmware)+len(sig))))

	stream := append(append([]byte{}, firmware...), sig...)
	require.Equal(t, StatusOK, a.Write(stream))

	assert.Equal(t, StatusOK, a.Verify(0))
}

func TestSignedFlow_TamperedImageFailsVerify(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	pub, err := ourcrypto.NewPublicKey(leftPad32(priv.PublicKey.X.Bytes()), leftPad32(priv.PublicKey.Y.Bytes()))
	require.NoError(t, err)

	firmware := []byte("signed firmware image bytes")
	sum := sha256.Sum256(firmware)
	r, s, err := ecdsa.Sign(rand.Reader, priv, sum[:])
	require.NoError(t, err)
	sig := append(leftPad32(r.Bytes()), leftPad32(s.Bytes())...)

	tampered := append([]byte{}, firmware...)
	tampered[0] ^= 0xff

	engine := newTestEngine()
	a := New(engine, pub, true)

	require.Equal(t, StatusOK, a.PrepareDownload())
	require.Equal(t, StatusOK, a.Download(uint32(len(tampered)+len(sig))))

	stream := append(tampered, sig...)
	require.Equal(t, StatusOK, a.Write(stream))

	assert.Equal(t, StatusBad, a.Verify(0))
}

func TestAbort_ReturnsToWaitingAndRejectsFurtherWrites(t *testing.T) {
	engine := newTestEngine()
	a := New(engine, ourcrypto.PublicKey{}, false)

	require.Equal(t, StatusOK, a.PrepareDownload())
	require.Equal(t, StatusOK, a.Download(10))
	a.Abort()

	assert.Equal(t, StatusBad, a.Write([]byte("too late")))
}

func TestWrite_BeforeDownloadIsRejected(t *testing.T) {
	engine := newTestEngine()
	a := New(engine, ourcrypto.PublicKey{}, false)

	assert.Equal(t, StatusBad, a.Write([]byte("no prepare or download yet")))
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
