// Package job implements the Job Parser (spec §4.2): decoding the JSON
// job document and applying the version/board/connection gates that
// decide whether a download proceeds against the current connection,
// a different one, or not at all.
//
// Grounded on cy_ota_parse_job_info in the original Infineon ota-update
// agent (source/cy_ota_agent.c): version comparison is lexicographic by
// (major, minor, build) against the compiled-in running version, board
// must match exactly, and an empty or matching host/port in the job
// document means "keep using the current connection."
package job

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/ota-agent/internal/otaerr"
	"github.com/cuemby/ota-agent/pkg/otatypes"
)

// wireDoc mirrors the JSON shape of spec §6.3.
type wireDoc struct {
	Message         string `json:"Message"`
	Manufacturer    string `json:"Manufacturer"`
	ManufacturerID  string `json:"ManufacturerID"`
	Product         string `json:"Product"`
	SerialNumber    string `json:"SerialNumber"`
	Version         string `json:"Version"`
	Board           string `json:"Board"`
	Connection      string `json:"Connection"`
	Broker          string `json:"Broker"`
	Server          string `json:"Server"`
	Port            any    `json:"Port"` // numeric string accepted
	File            string `json:"File"`
	UniqueTopicName string `json:"UniqueTopicName"`

	// Per-chunk request fields (spec §6.3).
	Filename string `json:"Filename"`
	Offset   uint32 `json:"Offset"`
	Size     uint16 `json:"Size"`
}

// CurrentConnection describes the connection the job doc is being
// parsed against: the running firmware version, the compiled-in board
// string, and the connection the agent is currently using.
type CurrentConnection struct {
	RunningVersion otatypes.Version
	Board          string
	Connection     otatypes.Connection
	Host           string
	Port           int
}

// Outcome is the non-error decision returned by Parse on success: either
// the current connection applies, or the job document redirects to a
// different server (spec §4.1 "CHANGING_SERVER").
type Outcome int

const (
	OutcomeSameServer Outcome = iota
	OutcomeChangingServer
)

// Parse decodes raw into a Job and applies the gating rules of spec §4.2.
// On success it returns the parsed Job and an Outcome. On failure it
// returns an *otaerr.Error with one of MalformedJobDoc, NotAJobDoc,
// WrongBoard, or InvalidVersion.
func Parse(raw []byte, current CurrentConnection) (otatypes.Job, Outcome, error) {
	var doc wireDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return otatypes.Job{}, 0, otaerr.Wrap(otaerr.MalformedJobDoc, "invalid JSON", err)
	}

	if doc.Version == "" && doc.Board == "" && doc.Message == "" {
		return otatypes.Job{}, 0, otaerr.New(otaerr.NotAJobDoc, "no recognizable job fields present")
	}

	version, err := parseVersion(doc.Version)
	if err != nil {
		return otatypes.Job{}, 0, otaerr.Wrap(otaerr.MalformedJobDoc, "malformed Version field", err)
	}

	conn, err := parseConnection(doc.Connection)
	if err != nil {
		return otatypes.Job{}, 0, otaerr.Wrap(otaerr.MalformedJobDoc, "unrecognized Connection", err)
	}

	port, err := parsePort(doc.Port)
	if err != nil {
		return otatypes.Job{}, 0, otaerr.Wrap(otaerr.MalformedJobDoc, "malformed Port field", err)
	}

	host := doc.Broker
	if host == "" {
		host = doc.Server
	}

	parsed := otatypes.Job{
		Message:         doc.Message,
		Manufacturer:    doc.Manufacturer,
		ManufacturerID:  doc.ManufacturerID,
		Product:         doc.Product,
		SerialNumber:    doc.SerialNumber,
		Version:         version,
		Board:           doc.Board,
		Connection:      conn,
		Broker:          host,
		Port:            port,
		File:            doc.File,
		UniqueTopicName: doc.UniqueTopicName,
		Filename:        doc.Filename,
		Offset:          doc.Offset,
		Size:            doc.Size,
	}

	// Version gate: job version must be strictly greater than running.
	if !version.GreaterThan(current.RunningVersion) {
		return otatypes.Job{}, 0, otaerr.New(otaerr.InvalidVersion,
			fmt.Sprintf("job version %s is not greater than running version %s", version, current.RunningVersion))
	}

	// Board gate: exact match required.
	if parsed.Board != current.Board {
		return otatypes.Job{}, 0, otaerr.New(otaerr.WrongBoard,
			fmt.Sprintf("job board %q does not match this board %q", parsed.Board, current.Board))
	}

	// Resolve "use current host/port when empty or matching" (spec §4.2).
	sameConnectionType := conn == current.Connection
	hostEmptyOrMatches := host == "" || host == current.Host
	portEmptyOrMatches := port == 0 || port == current.Port

	if sameConnectionType && hostEmptyOrMatches && portEmptyOrMatches {
		parsed.Broker = current.Host
		parsed.Port = current.Port
		return parsed, OutcomeSameServer, nil
	}

	return parsed, OutcomeChangingServer, nil
}

// parseVersion parses the "M.N.B" form required by spec §3.
func parseVersion(s string) (otatypes.Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return otatypes.Version{}, fmt.Errorf("version %q is not in M.N.B form", s)
	}

	nums := make([]uint16, 3)
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return otatypes.Version{}, fmt.Errorf("version %q component %q is not numeric", s, p)
		}
		nums[i] = uint16(n)
	}

	return otatypes.Version{Major: nums[0], Minor: nums[1], Build: nums[2]}, nil
}

func parseConnection(s string) (otatypes.Connection, error) {
	switch strings.ToUpper(s) {
	case "MQTT":
		return otatypes.ConnectionMQTT, nil
	case "HTTP":
		return otatypes.ConnectionHTTP, nil
	case "HTTPS":
		return otatypes.ConnectionHTTPS, nil
	default:
		return "", fmt.Errorf("unrecognized connection %q", s)
	}
}

// parsePort accepts either a JSON number or a numeric string, per spec
// §6.3 "Port (numeric string accepted)".
func parsePort(v any) (int, error) {
	switch p := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int(p), nil
	case string:
		if p == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("port %q is not numeric", p)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported port value type %T", v)
	}
}
