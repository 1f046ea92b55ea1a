package job

import (
	"testing"

	"github.com/cuemby/ota-agent/internal/otaerr"
	"github.com/cuemby/ota-agent/pkg/otatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func currentHTTP() CurrentConnection {
	return CurrentConnection{
		RunningVersion: otatypes.Version{Major: 1, Minor: 9, Build: 9},
		Board:          "CY8CKIT-062S2-43012",
		Connection:     otatypes.ConnectionHTTP,
		Host:           "h",
		Port:           80,
	}
}

func TestParse_HappyPath(t *testing.T) {
	raw := []byte(`{
		"Message":"Update Availability","Manufacturer":"X","ManufacturerID":"X",
		"Product":"P","SerialNumber":"S","Version":"2.0.0","Board":"CY8CKIT-062S2-43012",
		"Connection":"HTTP","Server":"h","Port":"80","File":"/ota.bin"}`)

	parsed, outcome, err := Parse(raw, currentHTTP())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSameServer, outcome)
	assert.Equal(t, otatypes.Version{Major: 2, Minor: 0, Build: 0}, parsed.Version)
	assert.Equal(t, "h", parsed.Broker)
	assert.Equal(t, 80, parsed.Port)
	assert.Equal(t, "/ota.bin", parsed.File)
}

func TestParse_VersionRejection(t *testing.T) {
	raw := []byte(`{"Version":"1.9.9","Board":"CY8CKIT-062S2-43012","Connection":"HTTP","Server":"h","Port":"80"}`)

	_, _, err := Parse(raw, currentHTTP())
	require.Error(t, err)
	code, ok := otaerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, otaerr.InvalidVersion, code)
}

func TestParse_BoardRejection(t *testing.T) {
	raw := []byte(`{"Version":"2.0.0","Board":"OTHER_BOARD","Connection":"HTTP","Server":"h","Port":"80"}`)

	_, _, err := Parse(raw, currentHTTP())
	require.Error(t, err)
	code, ok := otaerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, otaerr.WrongBoard, code)
}

func TestParse_MalformedJSON(t *testing.T) {
	_, _, err := Parse([]byte(`{not json`), currentHTTP())
	require.Error(t, err)
	code, ok := otaerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, otaerr.MalformedJobDoc, code)
}

func TestParse_MalformedVersion(t *testing.T) {
	raw := []byte(`{"Version":"bogus","Board":"CY8CKIT-062S2-43012","Connection":"HTTP","Server":"h","Port":"80"}`)
	_, _, err := Parse(raw, currentHTTP())
	require.Error(t, err)
	code, ok := otaerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, otaerr.MalformedJobDoc, code)
}

func TestParse_ChangingServer(t *testing.T) {
	raw := []byte(`{"Version":"2.0.0","Board":"CY8CKIT-062S2-43012","Connection":"HTTP","Server":"other-host","Port":"8080"}`)

	parsed, outcome, err := Parse(raw, currentHTTP())
	require.NoError(t, err)
	assert.Equal(t, OutcomeChangingServer, outcome)
	assert.Equal(t, "other-host", parsed.Broker)
	assert.Equal(t, 8080, parsed.Port)
}

func TestParse_EmptyHostReusesCurrent(t *testing.T) {
	raw := []byte(`{"Version":"2.0.0","Board":"CY8CKIT-062S2-43012","Connection":"HTTP","Server":"","Port":""}`)

	parsed, outcome, err := Parse(raw, currentHTTP())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSameServer, outcome)
	assert.Equal(t, "h", parsed.Broker)
	assert.Equal(t, 80, parsed.Port)
}

func TestParse_Idempotence(t *testing.T) {
	raw := []byte(`{"Version":"2.0.0","Board":"CY8CKIT-062S2-43012","Connection":"HTTP","Server":"h","Port":"80","File":"/ota.bin"}`)

	first, _, err := Parse(raw, currentHTTP())
	require.NoError(t, err)

	// Re-emit the parsed fields as a new doc and re-parse: same struct.
	reemitted := []byte(`{"Version":"` + first.Version.String() + `","Board":"` + first.Board +
		`","Connection":"HTTP","Server":"` + first.Broker + `","Port":"80","File":"` + first.File + `"}`)

	second, _, err := Parse(reemitted, currentHTTP())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
