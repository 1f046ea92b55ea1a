// Package storage implements the Storage Engine of spec §4.7: opening
// and closing the target staging slot, writing incoming data blocks
// (optionally demultiplexing a TAR stream into multiple slots via
// internal/storage/tar), and verifying/validating the staged image
// through internal/storage/flash's trailer writes.
//
// Grounded on cy_ota_storage_open/read/write/close/verify in
// source/bootloader_support/COMPONENT_MCUBOOT/cy_ota_storage.c and the
// tar-vs-direct dispatch in source/cy_ota_untar.c's
// cy_ota_write_incoming_data_block.
package storage

import (
	"github.com/cuemby/ota-agent/internal/otaerr"
	"github.com/cuemby/ota-agent/internal/storage/flash"
	"github.com/cuemby/ota-agent/internal/storage/tar"
)

// tarMagicOffset is where the ustar magic "ustar " sits within a
// 512-byte header block (spec §4.7 "TAR magic at offset 257").
const tarMagicOffset = 257

// Engine holds the mutable storage context of spec §3 ("Storage
// context"): the active slot, byte counters, and the TAR/direct mode
// decision made from the first received block.
type Engine struct {
	dev       flash.Device
	alignment uint32

	directArea flash.Area
	tarRouter  *tarSlotRouter
	demux      *tar.Demultiplexer

	totalImageSize      uint32
	totalBytesWritten   uint32
	lastOffset          uint32
	lastSize            uint32
	lastPacketNumber    uint16
	totalPackets        uint16
	isTarArchive        bool
	rebootOnCompletion  bool
	validateAfterReboot bool

	opened bool
}

// Areas bundles the flash areas an Engine needs: the direct (non-TAR)
// secondary slot 0, and the slots a TAR archive may be demultiplexed
// into (SPE -> secondary slot 1, NSPE -> secondary slot 0, FWDB ->
// secondary slot 1), per spec §4.8. Member bodies are written at their
// own member-relative offset; no separate slot offset is applied.
type Areas struct {
	Secondary0 flash.Area
	Secondary1 flash.Area
}

// New constructs a storage Engine over dev, with the given flash areas
// and row alignment.
func New(dev flash.Device, areas Areas, alignment uint32) *Engine {
	return &Engine{
		dev:        dev,
		alignment:  alignment,
		directArea: areas.Secondary0,
		tarRouter:  &tarSlotRouter{dev: dev, secondary0: areas.Secondary0, secondary1: areas.Secondary1},
	}
}

// Open erases secondary slot 0 and resets byte counters (spec §4.7
// "open"). Secondary slot 1 is not erased.
func (e *Engine) Open(totalImageSize uint32, rebootOnCompletion, validateAfterReboot bool) error {
	if err := e.dev.Erase(e.directArea, 0, e.directArea.Size); err != nil {
		return otaerr.Wrap(otaerr.OpenStorage, "erasing secondary slot 0", err)
	}

	e.totalImageSize = totalImageSize
	e.totalBytesWritten = 0
	e.lastOffset = 0
	e.lastSize = 0
	e.lastPacketNumber = 0
	e.totalPackets = 0
	e.isTarArchive = false
	e.rebootOnCompletion = rebootOnCompletion
	e.validateAfterReboot = validateAfterReboot
	e.demux = nil
	e.opened = true

	return nil
}

// Write appends the next data block at offset, switching to TAR
// demultiplexing on the first block if it carries the ustar magic
// (spec §4.7). Invariant: total_bytes_written <= total_image_size
// whenever total_image_size > 0, and last_offset + last_size ==
// total_bytes_written after each successful write (spec §3).
func (e *Engine) Write(offset uint32, data []byte) error {
	if !e.opened {
		return otaerr.New(otaerr.WriteStorage, "storage engine not opened")
	}

	if offset == 0 {
		if isTarHeader(data) {
			e.isTarArchive = true
			e.demux = tar.NewDemultiplexer(e.tarRouter)
		}
	}

	if e.isTarArchive {
		if err := e.demux.Write(offset, data); err != nil {
			return otaerr.Wrap(otaerr.WriteStorage, "tar demux write", err)
		}
	} else {
		if err := flash.WriteRowAligned(e.dev, e.directArea, offset, data); err != nil {
			return otaerr.Wrap(otaerr.WriteStorage, "direct write", err)
		}
	}

	e.lastOffset = offset
	e.lastSize = uint32(len(data))
	e.totalBytesWritten += uint32(len(data))

	if e.totalImageSize > 0 && e.totalBytesWritten > e.totalImageSize {
		return otaerr.New(otaerr.WriteStorage, "total_bytes_written exceeds total_image_size")
	}

	return nil
}

// Read reads length bytes at offset from the direct staging slot. TAR
// mode does not support read-back (the original agent never reads
// during a TAR download either).
func (e *Engine) Read(offset, length uint32) ([]byte, error) {
	buf := make([]byte, length)
	if err := e.dev.ReadAt(e.directArea, offset, buf); err != nil {
		return nil, otaerr.Wrap(otaerr.ReadStorage, "reading staged slot", err)
	}
	return buf, nil
}

// Close releases the engine's handle to the staging slot (spec §4.7).
// The in-memory/host Device has nothing to release; this exists to
// preserve the open/close pairing the original agent enforces.
func (e *Engine) Close() error {
	e.opened = false
	return nil
}

// Verify marks the staged slot pending in the bootloader trailer (spec
// §4.7 "verify"): writes the trailer magic, and on external flash also
// writes image_ok and swap_info.
func (e *Engine) Verify() error {
	imageOK := !e.validateAfterReboot
	if err := flash.SetPending(e.dev, e.directArea, e.alignment, imageOK, flash.SwapTest, 0); err != nil {
		return otaerr.Wrap(otaerr.Verify, "marking slot pending", err)
	}
	return nil
}

// Validate marks the primary slot confirmed after the application has
// validated the new image post-reboot (spec §4.7 "validate").
func (e *Engine) Validate(primary flash.Area) error {
	if err := flash.SetConfirmed(e.dev, primary, e.alignment); err != nil {
		return otaerr.Wrap(otaerr.Verify, "marking slot confirmed", err)
	}
	return nil
}

// TotalBytesWritten reports the running byte counter.
func (e *Engine) TotalBytesWritten() uint32 {
	return e.totalBytesWritten
}

// IsTarArchive reports whether the current session switched to TAR
// demultiplexing.
func (e *Engine) IsTarArchive() bool {
	return e.isTarArchive
}

// isTarHeader checks for the ustar magic at the documented offset
// within the first block (spec §4.7).
func isTarHeader(block []byte) bool {
	if len(block) < tarMagicOffset+6 {
		return false
	}
	return string(block[tarMagicOffset:tarMagicOffset+5]) == "ustar"
}

// tarSlotRouter implements tar.Router, dispatching demultiplexed member
// bodies to the flash areas named in spec §4.8.
type tarSlotRouter struct {
	dev        flash.Device
	secondary0 flash.Area
	secondary1 flash.Area
}

func (r *tarSlotRouter) WriteMember(memberType string, offset uint32, data []byte) error {
	switch memberType {
	case "SPE":
		return flash.WriteRowAligned(r.dev, r.secondary1, offset, data)
	case "NSPE":
		return flash.WriteRowAligned(r.dev, r.secondary0, offset, data)
	case "FWDB":
		return flash.WriteRowAligned(r.dev, r.secondary1, offset, data)
	default:
		return otaerr.New(otaerr.WriteStorage, "unknown tar member type: "+memberType)
	}
}
