package flash

import (
	"fmt"
	"sync"

	"github.com/cuemby/ota-agent/internal/otaerr"
)

// MemDevice is an in-memory Device, used both by tests and as the
// host-side stand-in when the agent runs off-target (the embedding
// application supplies a real flash_area-backed Device on MCU
// firmware; see spec §6.8's six function-pointer contract).
type MemDevice struct {
	row  uint32
	mu   sync.Mutex
	data map[AreaID][]byte
}

// NewMemDevice returns a MemDevice with the given row size, its areas
// pre-erased (filled with each area's erased-byte value).
func NewMemDevice(row uint32, areas []Area) *MemDevice {
	d := &MemDevice{row: row, data: make(map[AreaID][]byte)}
	for _, a := range areas {
		buf := make([]byte, a.Size)
		fill(buf, a.Device.ErasedByte())
		d.data[a.ID] = buf
	}
	return d
}

func fill(buf []byte, b byte) {
	for i := range buf {
		buf[i] = b
	}
}

func (d *MemDevice) RowSize() uint32 {
	return d.row
}

func (d *MemDevice) Erase(area Area, offset, size uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.data[area.ID]
	if !ok {
		return otaerr.New(otaerr.OpenStorage, fmt.Sprintf("unknown area %s", area.ID))
	}
	if offset+size > uint32(len(buf)) {
		return otaerr.New(otaerr.OpenStorage, "erase out of bounds")
	}

	fill(buf[offset:offset+size], area.Device.ErasedByte())
	return nil
}

func (d *MemDevice) ReadAt(area Area, offset uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, ok := d.data[area.ID]
	if !ok {
		return otaerr.New(otaerr.ReadStorage, fmt.Sprintf("unknown area %s", area.ID))
	}
	if offset+uint32(len(buf)) > uint32(len(data)) {
		return otaerr.New(otaerr.ReadStorage, "read out of bounds")
	}

	copy(buf, data[offset:offset+uint32(len(buf))])
	return nil
}

func (d *MemDevice) WriteAt(area Area, offset uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dst, ok := d.data[area.ID]
	if !ok {
		return otaerr.New(otaerr.WriteStorage, fmt.Sprintf("unknown area %s", area.ID))
	}
	if offset+uint32(len(data)) > uint32(len(dst)) {
		return otaerr.New(otaerr.WriteStorage, "write out of bounds")
	}

	copy(dst[offset:offset+uint32(len(data))], data)
	return nil
}
