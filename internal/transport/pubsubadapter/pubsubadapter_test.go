package pubsubadapter

import (
	"context"
	"testing"

	"github.com/cuemby/ota-agent/internal/chunk"
	"github.com/cuemby/ota-agent/internal/transport"
	"github.com/cuemby/ota-agent/pkg/otatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTopics_MatchesSpecLayout(t *testing.T) {
	publish, session := buildTopics("acme", "board-x", "listen", "deadbeefcafef00d")
	assert.Equal(t, "acme/board-x/listen", publish)
	assert.Equal(t, "acme/board-x/otaimage/deadbeefcafef00d", session)
}

func TestRandomSuffix_Is16HexChars(t *testing.T) {
	s, err := randomSuffix()
	require.NoError(t, err)
	assert.Len(t, s, 16)
	for _, r := range s {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'))
	}
}

func TestRandomSuffix_DiffersAcrossCalls(t *testing.T) {
	a, err := randomSuffix()
	require.NoError(t, err)
	b, err := randomSuffix()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

// TestDrainChunks_DeliversAndDedupes exercises the inbox-draining loop
// directly, bypassing the real MQTT client, the way internal/chunk is
// exercised elsewhere: two chunks, one repeated, whose distinct bytes
// add up exactly to the declared image size so the loop terminates at
// total_bytes_written >= total_size (spec §4.3).
func TestDrainChunks_DeliversAndDedupes(t *testing.T) {
	running := otatypes.Version{Major: 1, Minor: 0, Build: 0}
	advertised := otatypes.Version{Major: 1, Minor: 1, Build: 0}

	payload1 := buildChunkPayload(t, advertised, 0, 10, []byte("0123456789"), 0, 2)
	payload2 := buildChunkPayload(t, advertised, 10, 10, []byte("9876543210"), 1, 2)
	duplicate1 := payload1

	a := &Adapter{cfg: Config{RunningVersion: running}}
	a.inbox = make(chan []byte, 8)
	a.inbox <- payload1
	a.inbox <- duplicate1
	a.inbox <- payload2

	var received []byte
	err := a.drainChunks(context.Background(), transport.DataRequest{TotalImageSize: 20}, func(wr otatypes.WriteRequest) error {
		received = append(received, wr.Payload...)
		return nil
	}, chunk.NewReceivedPackets(0))

	require.NoError(t, err)
	assert.Equal(t, []byte("01234567899876543210"), received)
}

func buildChunkPayload(t *testing.T, version otatypes.Version, imageOffset uint32, totalSize uint32, data []byte, index, total uint16) []byte {
	t.Helper()
	h := otatypes.ChunkHeader{
		OffsetToData:     otatypes.ChunkHeaderSize,
		OTAImageType:     0,
		UpdateVersionMaj: version.Major,
		UpdateVersionMin: version.Minor,
		UpdateVersionBld: version.Build,
		TotalSize:        totalSize,
		ImageOffset:      imageOffset,
		DataSize:         uint16(len(data)),
		TotalNumPayloads: total,
		ThisPayloadIndex: index,
	}
	copy(h.Magic[:], otatypes.ChunkMagic)
	return append(chunk.EncodeHeader(h), data...)
}
