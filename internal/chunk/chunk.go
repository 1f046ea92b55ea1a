// Package chunk implements the pub/sub chunked data-download protocol's
// wire framing (spec §4.3, §6.4): decoding the 32-byte binary chunk
// header, validating it against spec §3's invariants, and tracking a
// received-packets bitmap for duplicate detection.
//
// Grounded on the packed cy_ota_mqtt_chunk_payload_header_t struct in
// the original Infineon agent (source/cy_ota_mqtt.c): an 8-byte ASCII
// magic followed by little-endian fixed-width fields, no implicit
// padding.
package chunk

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/ota-agent/internal/otaerr"
	"github.com/cuemby/ota-agent/pkg/otatypes"
)

// DecodeHeader parses the 32-byte chunk header from the start of
// payload. It does not validate semantic invariants — call Validate for
// that — only that the magic matches and the buffer is long enough.
func DecodeHeader(payload []byte) (otatypes.ChunkHeader, error) {
	if len(payload) < otatypes.ChunkHeaderSize {
		return otatypes.ChunkHeader{}, otaerr.New(otaerr.GetData, "payload shorter than chunk header")
	}

	var h otatypes.ChunkHeader
	copy(h.Magic[:], payload[0:8])
	if string(h.Magic[:]) != otatypes.ChunkMagic {
		return otatypes.ChunkHeader{}, otaerr.New(otaerr.GetData, "NOT_A_HEADER: magic mismatch")
	}

	le := binary.LittleEndian
	h.OffsetToData = le.Uint16(payload[8:10])
	h.OTAImageType = le.Uint16(payload[10:12])
	h.UpdateVersionMaj = le.Uint16(payload[12:14])
	h.UpdateVersionMin = le.Uint16(payload[14:16])
	h.UpdateVersionBld = le.Uint16(payload[16:18])
	h.TotalSize = le.Uint32(payload[18:22])
	h.ImageOffset = le.Uint32(payload[22:26])
	h.DataSize = le.Uint16(payload[26:28])
	h.TotalNumPayloads = le.Uint16(payload[28:30])
	h.ThisPayloadIndex = le.Uint16(payload[30:32])

	return h, nil
}

// EncodeHeader renders h back to its 32-byte wire form, used by the
// test fixtures of this package and of the pub/sub adapter.
func EncodeHeader(h otatypes.ChunkHeader) []byte {
	buf := make([]byte, otatypes.ChunkHeaderSize)
	copy(buf[0:8], h.Magic[:])

	le := binary.LittleEndian
	le.PutUint16(buf[8:10], h.OffsetToData)
	le.PutUint16(buf[10:12], h.OTAImageType)
	le.PutUint16(buf[12:14], h.UpdateVersionMaj)
	le.PutUint16(buf[14:16], h.UpdateVersionMin)
	le.PutUint16(buf[16:18], h.UpdateVersionBld)
	le.PutUint32(buf[18:22], h.TotalSize)
	le.PutUint32(buf[22:26], h.ImageOffset)
	le.PutUint16(buf[26:28], h.DataSize)
	le.PutUint16(buf[28:30], h.TotalNumPayloads)
	le.PutUint16(buf[30:32], h.ThisPayloadIndex)

	return buf
}

// Validate checks the header against the invariants of spec §3:
// offset_to_data <= payload length; image_type == 0; data_size <=
// total_size; this_payload_index < total_num_payloads; advertised
// version strictly greater than running.
func Validate(h otatypes.ChunkHeader, payloadLen int, running otatypes.Version) error {
	if int(h.OffsetToData) > payloadLen {
		return otaerr.New(otaerr.GetData, "offset_to_data exceeds payload length")
	}
	if h.OTAImageType != 0 {
		return otaerr.New(otaerr.GetData, "unsupported ota_image_type")
	}
	if uint32(h.DataSize) > h.TotalSize {
		return otaerr.New(otaerr.GetData, "data_size exceeds total_size")
	}
	if h.ThisPayloadIndex >= h.TotalNumPayloads {
		return otaerr.New(otaerr.GetData, "this_payload_index not less than total_num_payloads")
	}

	advertised := otatypes.Version{Major: h.UpdateVersionMaj, Minor: h.UpdateVersionMin, Build: h.UpdateVersionBld}
	if !advertised.GreaterThan(running) {
		return otaerr.New(otaerr.InvalidVersion,
			fmt.Sprintf("advertised version %s is not greater than running version %s", advertised, running))
	}

	return nil
}

// ToWriteRequest builds the write request described by spec §4.3 step 4
// from a validated header and the full inbound publish payload.
func ToWriteRequest(h otatypes.ChunkHeader, payload []byte) (otatypes.WriteRequest, error) {
	start := int(h.OffsetToData)
	end := start + int(h.DataSize)
	if end > len(payload) {
		return otatypes.WriteRequest{}, otaerr.New(otaerr.GetData, "data_size exceeds payload bounds")
	}

	return otatypes.WriteRequest{
		Offset:       h.ImageOffset,
		Length:       h.DataSize,
		Payload:      payload[start:end],
		PacketNumber: h.ThisPayloadIndex,
		TotalPackets: h.TotalNumPayloads,
	}, nil
}

// ReceivedPackets is the bounded received-packets map of spec §3: a
// bitmap-like counter indexed by this_payload_index, used to detect
// duplicates and to enumerate missing packets at end of transfer.
type ReceivedPackets struct {
	seen []bool
}

// MinCapacity is the minimum capacity required by spec §3 ("capacity
// ≥ 2048").
const MinCapacity = 2048

// NewReceivedPackets allocates a ReceivedPackets sized to at least
// MinCapacity and at least totalPackets.
func NewReceivedPackets(totalPackets int) *ReceivedPackets {
	cap := MinCapacity
	if totalPackets > cap {
		cap = totalPackets
	}
	return &ReceivedPackets{seen: make([]bool, cap)}
}

// MarkReceived records index as received and reports whether it had
// already been seen (i.e. this chunk is a duplicate).
func (r *ReceivedPackets) MarkReceived(index uint16) (duplicate bool, err error) {
	if int(index) >= len(r.seen) {
		return false, otaerr.New(otaerr.GetData, "payload index exceeds received-packets capacity")
	}
	if r.seen[index] {
		return true, nil
	}
	r.seen[index] = true
	return false, nil
}

// Missing enumerates indices in [0, totalPackets) not yet marked
// received, for end-of-transfer diagnostics (spec §4.3).
func (r *ReceivedPackets) Missing(totalPackets int) []int {
	var missing []int
	for i := 0; i < totalPackets && i < len(r.seen); i++ {
		if !r.seen[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

// Count returns how many distinct indices have been marked received.
func (r *ReceivedPackets) Count() int {
	n := 0
	for _, v := range r.seen {
		if v {
			n++
		}
	}
	return n
}
