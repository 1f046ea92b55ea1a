// Package crypto implements the Crypto Verifier (spec §4.9): CRC-32 for
// the unsigned wireless mode and SHA-256 + ECDSA-P256 for the signed
// mode, both maintained incrementally across chunk-sized writes so
// neither mode needs the full image buffered in memory.
//
// Grounded on source/COMPONENT_OTA_BLUETOOTH/ota_ecc_pp.c and
// ota_multprecision.c (the original Infineon agent's bundled
// elliptic-curve verifier) for the P-256 verify algorithm, and on
// cy_ota_storage.c's running-CRC update for the unsigned mode.
package crypto

import "hash/crc32"

// crcTable is the standard CRC-32/ISO-HDLC table (polynomial
// 0xEDB88320), matching spec §4.6's running CRC and §4.9's unsigned
// verify mode.
var crcTable = crc32.MakeTable(crc32.IEEE)

// CRC accumulates a CRC-32/ISO-HDLC checksum across successive writes.
// The zero value starts at init 0 with no final xor, per spec §4.9.
type CRC struct {
	sum uint32
}

// NewCRC returns a CRC ready to accumulate from the beginning of a
// stream.
func NewCRC() *CRC {
	return &CRC{}
}

// Write folds p into the running checksum.
func (c *CRC) Write(p []byte) {
	c.sum = crc32.Update(c.sum, crcTable, p)
}

// Sum returns the checksum accumulated so far.
func (c *CRC) Sum() uint32 {
	return c.sum
}

// ComputeCRC32 is a convenience wrapper for computing the checksum of a
// single in-memory buffer, used by the crypto and wireless-adapter
// tests.
func ComputeCRC32(data []byte) uint32 {
	c := NewCRC()
	c.Write(data)
	return c.Sum()
}
