package flash

import (
	"github.com/cuemby/ota-agent/internal/otaerr"
)

// TrailerMagic is the fixed 16-byte MCUboot-style trailer magic (spec
// §6.6), little-endian.
var TrailerMagic = [16]byte{
	0x77, 0xc2, 0x95, 0xf3, 0x60, 0xd2, 0xef, 0x7f,
	0x35, 0x52, 0x50, 0x0f, 0x2c, 0xb6, 0x79, 0x80,
}

// SwapType is the bootloader swap-type tag written into the trailer's
// swap_info byte (spec §6.6).
type SwapType byte

const (
	SwapNone   SwapType = 1
	SwapTest   SwapType = 2
	SwapPerm   SwapType = 3
	SwapRevert SwapType = 4
	SwapFail   SwapType = 5
	SwapPanic  SwapType = 0xff
)

// TrailerAlignment is the write alignment for trailer fields: 8 bytes
// on most targets, 256 on the low-power radio family (spec §6.6). This
// implementation targets the 8-byte alignment; TrailerAlignment256 is exposed
// for callers simulating that family.
const (
	TrailerAlignment8   = 8
	TrailerAlignment256 = 256
)

// trailerFieldSize returns the padded size of a single-byte trailer
// field at the given alignment.
func trailerFieldSize(alignment uint32) uint32 {
	return alignment
}

// TrailerSize computes the total trailer size at the given alignment:
// 16-byte magic, plus three fields (image_ok, copy_done, swap_info)
// each padded to alignment.
func TrailerSize(alignment uint32) uint32 {
	return 16 + 3*trailerFieldSize(alignment)
}

// Trailer is the decoded form of the flash-map trailer (spec §6.6).
type Trailer struct {
	MagicValid bool
	ImageOK    byte
	CopyDone   byte
	SwapInfo   byte
}

// trailerOffset returns the offset of the trailer within area, given
// the area's size and the field alignment.
func trailerOffset(area Area, alignment uint32) uint32 {
	return area.Size - TrailerSize(alignment)
}

// ReadTrailer reads and decodes the trailer at the high end of area.
func ReadTrailer(dev Device, area Area, alignment uint32) (Trailer, error) {
	var t Trailer

	off := trailerOffset(area, alignment)
	buf := make([]byte, TrailerSize(alignment))
	if err := dev.ReadAt(area, off, buf); err != nil {
		return t, otaerr.Wrap(otaerr.ReadStorage, "reading flash trailer", err)
	}

	var magic [16]byte
	copy(magic[:], buf[:16])
	t.MagicValid = magic == TrailerMagic

	field := trailerFieldSize(alignment)
	t.ImageOK = buf[16]
	t.CopyDone = buf[16+field]
	t.SwapInfo = buf[16+2*field]

	return t, nil
}

// SetPending writes the trailer magic (always) and, on external flash,
// also writes image_ok and swap_info, marking the slot pending a swap
// on next boot (spec §4.7/§6.6). imageOK controls whether the bootloader
// should treat the image as already confirmed (used when the agent is
// not configured to validate after reboot).
func SetPending(dev Device, area Area, alignment uint32, imageOK bool, swapType SwapType, image int) error {
	off := trailerOffset(area, alignment)
	field := trailerFieldSize(alignment)
	buf := make([]byte, TrailerSize(alignment))

	copy(buf[:16], TrailerMagic[:])

	if area.Device == DeviceExternal {
		if imageOK {
			buf[16] = 0x01
		} else {
			buf[16] = 0xFF
		}
		buf[16+2*field] = byte(image<<4) | byte(swapType)
	} else {
		buf[16] = area.Device.ErasedByte()
		buf[16+2*field] = area.Device.ErasedByte()
	}
	buf[16+field] = area.Device.ErasedByte()

	if err := dev.WriteAt(area, off, buf); err != nil {
		return otaerr.Wrap(otaerr.WriteStorage, "writing pending trailer", err)
	}
	return nil
}

// SetConfirmed writes the trailer magic and image_ok on the primary
// slot, marking the running image validated (spec §4.7/§6.6).
func SetConfirmed(dev Device, area Area, alignment uint32) error {
	off := trailerOffset(area, alignment)
	field := trailerFieldSize(alignment)
	buf := make([]byte, TrailerSize(alignment))

	copy(buf[:16], TrailerMagic[:])
	buf[16] = 0x01
	buf[16+field] = area.Device.ErasedByte()
	buf[16+2*field] = area.Device.ErasedByte()

	if err := dev.WriteAt(area, off, buf); err != nil {
		return otaerr.Wrap(otaerr.WriteStorage, "writing confirmed trailer", err)
	}
	return nil
}
