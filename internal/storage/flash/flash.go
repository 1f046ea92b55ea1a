// Package flash implements the Flash Map & Slot I/O abstraction of spec
// §3/§4.7/§6.6: named flash areas (bootloader, primary/secondary image
// slots, scratch, swap-status), row-aligned read/write/erase, and the
// bootloader trailer format used to mark a staged image pending or
// confirmed.
//
// Grounded on flash_area_* in the original Infineon agent
// (source/bootloader_support/COMPONENT_MCUBOOT/cy_ota_storage.c) and
// the MCUboot trailer layout it targets; exposed here as a pluggable
// Device interface in the style of the teacher's health.Checker
// interface (pkg/health), which lets one abstraction have multiple
// concrete backends (HTTP/TCP/Exec there; here only the in-memory
// MemDevice exists in-tree).
package flash

import (
	"fmt"

	"github.com/cuemby/ota-agent/internal/otaerr"
)

// AreaID names a flash area (spec §3 "Flash area").
type AreaID int

const (
	AreaBootloader AreaID = iota
	AreaPrimarySlot0
	AreaSecondarySlot0
	AreaPrimarySlot1
	AreaSecondarySlot1
	AreaScratch
	AreaSwapStatus
)

func (a AreaID) String() string {
	switch a {
	case AreaBootloader:
		return "bootloader"
	case AreaPrimarySlot0:
		return "primary-slot-0"
	case AreaSecondarySlot0:
		return "secondary-slot-0"
	case AreaPrimarySlot1:
		return "primary-slot-1"
	case AreaSecondarySlot1:
		return "secondary-slot-1"
	case AreaScratch:
		return "scratch"
	case AreaSwapStatus:
		return "swap-status"
	default:
		return fmt.Sprintf("area(%d)", int(a))
	}
}

// DeviceKind distinguishes internal flash from external-flash-flagged
// devices, which differ in erased-byte value (spec §3).
type DeviceKind int

const (
	DeviceInternal DeviceKind = iota
	DeviceExternal
)

// ErasedByte returns the byte value an erased region reads as: 0x00 on
// internal flash, 0xFF on external flash (spec §3).
func (k DeviceKind) ErasedByte() byte {
	if k == DeviceExternal {
		return 0xFF
	}
	return 0x00
}

// Area describes one named flash region (spec §3).
type Area struct {
	ID     AreaID
	Device DeviceKind
	Offset uint32
	Size   uint32
}

// Device abstracts the underlying flash hardware (or its host-side
// simulation). RowSize reports the device's erase/program granularity;
// writes not aligned to it must be read-modify-written a row at a time.
type Device interface {
	RowSize() uint32
	Erase(area Area, offset, size uint32) error
	ReadAt(area Area, offset uint32, buf []byte) error
	WriteAt(area Area, offset uint32, data []byte) error
}

// WriteRowAligned writes data to area at offset, honoring row alignment
// via read-modify-write when the write does not land on a row boundary
// or the length is not a multiple of the row size (spec §4.7, grounded
// on write_data_to_flash in source/cy_ota_untar.c).
func WriteRowAligned(dev Device, area Area, offset uint32, data []byte) error {
	row := dev.RowSize()
	if row == 0 {
		return otaerr.New(otaerr.WriteStorage, "device reports zero row size")
	}

	if offset%row == 0 && uint32(len(data))%row == 0 {
		return dev.WriteAt(area, offset, data)
	}

	remaining := data
	curOffset := offset
	for len(remaining) > 0 {
		rowBase := (curOffset / row) * row
		rowBuf := make([]byte, row)
		if err := dev.ReadAt(area, rowBase, rowBuf); err != nil {
			return fmt.Errorf("row read-modify-write: %w", err)
		}

		rowOffset := curOffset - rowBase
		n := row - rowOffset
		if n > uint32(len(remaining)) {
			n = uint32(len(remaining))
		}
		copy(rowBuf[rowOffset:rowOffset+n], remaining[:n])

		if err := dev.WriteAt(area, rowBase, rowBuf); err != nil {
			return fmt.Errorf("row read-modify-write: %w", err)
		}

		remaining = remaining[n:]
		curOffset += n
	}

	return nil
}
