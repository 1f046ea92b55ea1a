package flash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAreas() []Area {
	return []Area{
		{ID: AreaPrimarySlot0, Device: DeviceInternal, Offset: 0, Size: 4096},
		{ID: AreaSecondarySlot0, Device: DeviceInternal, Offset: 4096, Size: 4096},
		{ID: AreaSecondarySlot1, Device: DeviceExternal, Offset: 8192, Size: 4096},
	}
}

func TestMemDevice_ErasedByteByKind(t *testing.T) {
	dev := NewMemDevice(256, testAreas())

	internalBuf := make([]byte, 4)
	require.NoError(t, dev.ReadAt(testAreas()[0], 0, internalBuf))
	assert.Equal(t, []byte{0, 0, 0, 0}, internalBuf)

	externalBuf := make([]byte, 4)
	require.NoError(t, dev.ReadAt(testAreas()[2], 0, externalBuf))
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, externalBuf)
}

func TestWriteRowAligned_AlignedWrite(t *testing.T) {
	dev := NewMemDevice(256, testAreas())
	area := testAreas()[1]

	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, WriteRowAligned(dev, area, 0, data))

	readBack := make([]byte, 256)
	require.NoError(t, dev.ReadAt(area, 0, readBack))
	assert.Equal(t, data, readBack)
}

func TestWriteRowAligned_UnalignedReadModifyWrite(t *testing.T) {
	dev := NewMemDevice(256, testAreas())
	area := testAreas()[1]

	require.NoError(t, WriteRowAligned(dev, area, 10, []byte{1, 2, 3}))

	row := make([]byte, 256)
	require.NoError(t, dev.ReadAt(area, 0, row))
	assert.Equal(t, []byte{1, 2, 3}, row[10:13])
	assert.Equal(t, byte(0), row[0])
	assert.Equal(t, byte(0), row[13])
}

func TestWriteRowAligned_SpansMultipleRows(t *testing.T) {
	dev := NewMemDevice(256, testAreas())
	area := testAreas()[1]

	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, WriteRowAligned(dev, area, 100, data))

	readBack := make([]byte, 300)
	require.NoError(t, dev.ReadAt(area, 100, readBack))
	assert.Equal(t, data, readBack)
}

// TestTrailerRoundTrip matches spec §8's literal scenario 6: after
// set_pending, a read of the trailer returns the specified magic at the
// documented offset; after set_confirmed, image_ok == 0x01 in the
// primary slot's trailer.
func TestTrailerRoundTrip(t *testing.T) {
	areas := testAreas()
	dev := NewMemDevice(8, areas)
	secondary := areas[1]
	primary := areas[0]

	require.NoError(t, SetPending(dev, secondary, TrailerAlignment8, false, SwapTest, 0))
	trailer, err := ReadTrailer(dev, secondary, TrailerAlignment8)
	require.NoError(t, err)
	assert.True(t, trailer.MagicValid)

	require.NoError(t, SetConfirmed(dev, primary, TrailerAlignment8))
	confirmed, err := ReadTrailer(dev, primary, TrailerAlignment8)
	require.NoError(t, err)
	assert.True(t, confirmed.MagicValid)
	assert.Equal(t, byte(0x01), confirmed.ImageOK)
}

func TestSetPending_ExternalFlashWritesImageOkAndSwapInfo(t *testing.T) {
	areas := testAreas()
	dev := NewMemDevice(8, areas)
	external := areas[2]

	require.NoError(t, SetPending(dev, external, TrailerAlignment8, true, SwapTest, 1))
	trailer, err := ReadTrailer(dev, external, TrailerAlignment8)
	require.NoError(t, err)
	assert.True(t, trailer.MagicValid)
	assert.Equal(t, byte(0x01), trailer.ImageOK)
	assert.Equal(t, byte(1<<4)|byte(SwapTest), trailer.SwapInfo)
}
