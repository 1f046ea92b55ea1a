package storage

import (
	"testing"

	"github.com/cuemby/ota-agent/internal/storage/flash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAreas() Areas {
	return Areas{
		Secondary0: flash.Area{ID: flash.AreaSecondarySlot0, Device: flash.DeviceInternal, Offset: 0, Size: 8192},
		Secondary1: flash.Area{ID: flash.AreaSecondarySlot1, Device: flash.DeviceInternal, Offset: 8192, Size: 8192},
	}
}

func newTestEngine() (*Engine, flash.Device) {
	areas := testAreas()
	dev := flash.NewMemDevice(256, []flash.Area{
		{ID: flash.AreaPrimarySlot0, Device: flash.DeviceInternal, Offset: 0, Size: 8192},
		areas.Secondary0,
		areas.Secondary1,
	})
	return New(dev, areas, flash.TrailerAlignment8), dev
}

func TestEngine_DirectWriteAndRead(t *testing.T) {
	e, _ := newTestEngine()
	require.NoError(t, e.Open(100, true, false))

	data := []byte("firmware bytes here")
	require.NoError(t, e.Write(0, data))

	readBack, err := e.Read(0, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, readBack)
	assert.Equal(t, uint32(len(data)), e.TotalBytesWritten())
	assert.False(t, e.IsTarArchive())
}

// TestEngine_TotalBytesWrittenInvariant matches spec §3's storage
// context invariant: total_bytes_written must never exceed
// total_image_size once the latter is known.
func TestEngine_TotalBytesWrittenInvariant(t *testing.T) {
	e, _ := newTestEngine()
	require.NoError(t, e.Open(10, true, false))

	err := e.Write(0, make([]byte, 20))
	require.Error(t, err)
}

func ustarMemberBlock(name string, body []byte) []byte {
	block := make([]byte, 512)
	copy(block[:100], name)
	sizeOctal := []byte(octalField(uint32(len(body))))
	copy(block[124:136], sizeOctal)
	copy(block[257:263], "ustar ")
	out := append([]byte{}, block...)
	out = append(out, body...)
	if pad := (512 - len(body)%512) % 512; pad > 0 {
		out = append(out, make([]byte, pad)...)
	}
	return out
}

func octalField(v uint32) string {
	digits := []byte{}
	if v == 0 {
		digits = []byte{'0'}
	}
	for v > 0 {
		digits = append([]byte{byte('0' + v%8)}, digits...)
		v /= 8
	}
	for len(digits) < 11 {
		digits = append([]byte{'0'}, digits...)
	}
	return string(digits) + "\x00"
}

func TestEngine_SwitchesToTarOnFirstBlockMagic(t *testing.T) {
	e, _ := newTestEngine()
	require.NoError(t, e.Open(0, true, false))

	nspeBody := []byte("application image bytes")
	stream := ustarMemberBlock("NSPE", nspeBody)
	stream = append(stream, make([]byte, 512*2)...)

	require.NoError(t, e.Write(0, stream))
	assert.True(t, e.IsTarArchive())
}

func TestEngine_VerifyMarksSlotPending(t *testing.T) {
	e, dev := newTestEngine()
	require.NoError(t, e.Open(10, true, true))
	require.NoError(t, e.Write(0, []byte("0123456789")))

	require.NoError(t, e.Verify())

	trailer, err := flash.ReadTrailer(dev, testAreas().Secondary0, flash.TrailerAlignment8)
	require.NoError(t, err)
	assert.True(t, trailer.MagicValid)
}

func TestEngine_ValidateMarksPrimaryConfirmed(t *testing.T) {
	e, dev := newTestEngine()
	primary := flash.Area{ID: flash.AreaPrimarySlot0, Device: flash.DeviceInternal, Offset: 0, Size: 8192}

	require.NoError(t, e.Validate(primary))

	trailer, err := flash.ReadTrailer(dev, primary, flash.TrailerAlignment8)
	require.NoError(t, err)
	assert.True(t, trailer.MagicValid)
	assert.Equal(t, byte(0x01), trailer.ImageOK)
}
