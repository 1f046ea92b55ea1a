// Package wireless implements the Wireless-Link Adapter of spec §4.6:
// an external host drives the four commands (+ abort) down a
// short-range radio link, streaming firmware bytes to the staging slot
// and finishing with either a CRC-32 compare (unsigned mode) or a
// SHA-256/ECDSA-P256 verify (signed mode).
//
// Unlike the HTTP and pub/sub adapters, this link is host-driven: the
// device never initiates a job query or a data pull, it only reacts to
// commands. Connect/Disconnect satisfy transport.Transport for
// uniformity with the other two adapters; DownloadJob and DownloadData
// are not meaningful over this link (no job document is ever
// negotiated) and return Unsupported. The substance of this package is
// the PrepareDownload/Download/Write/Verify/Abort command methods,
// which the layer owning the radio link (out of scope here, per spec
// §1) calls as commands arrive.
//
// Grounded on cy_ota_ble.c's command dispatch and on
// COMPONENT_OTA_BLUETOOTH/ota_ecc_pp.c's signed-mode verify sequence;
// the CRC/SHA-256 accumulation itself lives in internal/crypto.
package wireless

import (
	"context"

	"github.com/cuemby/ota-agent/internal/crypto"
	"github.com/cuemby/ota-agent/internal/otaerr"
	"github.com/cuemby/ota-agent/internal/transport"
)

// Status is the upstream-facing result code of spec §4.6 ("Status
// codes reported upstream").
type Status byte

const (
	StatusOK  Status = 0
	StatusBad Status = 1
)

// state tracks the command sequence PREPARE_DOWNLOAD -> DOWNLOAD ->
// write* -> VERIFY, with ABORT returning to Waiting from any point.
type state int

const (
	stateWaiting state = iota
	statePrepared
	stateDownloading
)

// Storage is the subset of internal/storage's Engine the wireless
// adapter drives: open the staging slot, append bytes at an
// offset, and mark it pending once verified.
type Storage interface {
	Open(totalImageSize uint32, rebootOnCompletion, validateAfterReboot bool) error
	Write(offset uint32, data []byte) error
	Verify() error
}

// Adapter implements the wireless-link command protocol of spec §4.6.
type Adapter struct {
	storage Storage
	pub     crypto.PublicKey
	signed  bool

	state       state
	cursor      uint32
	totalSize   uint32
	crc         *crypto.CRC
	sigVerifier *crypto.SignatureVerifier
}

var _ transport.Transport = (*Adapter)(nil)

// New constructs an Adapter. pub is only consulted in signed mode.
func New(storage Storage, pub crypto.PublicKey, signed bool) *Adapter {
	return &Adapter{storage: storage, pub: pub, signed: signed, state: stateWaiting}
}

// PrepareDownload handles the PREPARE_DOWNLOAD (1) command: resets the
// signature/CRC context and opens (erasing) the staging slot.
func (a *Adapter) PrepareDownload() Status {
	if err := a.storage.Open(0, true, false); err != nil {
		return StatusBad
	}
	a.crc = crypto.NewCRC()
	a.sigVerifier = crypto.NewSignatureVerifier()
	a.cursor = 0
	a.totalSize = 0
	a.state = statePrepared
	return StatusOK
}

// Download handles the DOWNLOAD (2) command: records the announced
// image size and transitions to the streaming state.
func (a *Adapter) Download(updateFileSize uint32) Status {
	if a.state != statePrepared {
		return StatusBad
	}
	a.totalSize = updateFileSize
	a.state = stateDownloading
	return StatusOK
}

// Write handles the next chunk of the write stream: appends data at
// the implicit cursor and folds it into the running CRC or SHA-256
// context (spec §4.6 "write").
func (a *Adapter) Write(data []byte) Status {
	if a.state != stateDownloading {
		return StatusBad
	}

	if err := a.storage.Write(a.cursor, data); err != nil {
		return StatusBad
	}
	a.cursor += uint32(len(data))

	if a.signed {
		a.sigVerifier.Write(data)
	} else {
		a.crc.Write(data)
	}
	return StatusOK
}

// Verify handles the VERIFY (3) command. In unsigned mode it compares
// the running CRC against expectedCRC (the value the host computed
// over the same stream); expectedCRC is ignored in signed mode, where
// the trailing 64 bytes of the stream are the detached signature
// instead. On success it invokes the storage verify hook and marks the
// slot pending (spec §4.6).
func (a *Adapter) Verify(expectedCRC uint32) Status {
	if a.state != stateDownloading {
		return StatusBad
	}

	if a.signed {
		digest, signature, err := a.sigVerifier.Finish()
		if err != nil {
			return StatusBad
		}
		if err := crypto.Verify(a.pub, digest, signature); err != nil {
			return StatusBad
		}
	} else if a.crc.Sum() != expectedCRC {
		return StatusBad
	}

	if err := a.storage.Verify(); err != nil {
		return StatusBad
	}

	a.state = stateWaiting
	return StatusOK
}

// Abort handles the ABORT (4) command: returns to AGENT_WAITING
// regardless of how far the session had progressed (spec §4.6).
func (a *Adapter) Abort() {
	a.state = stateWaiting
}

// Connect is a no-op: the radio pairing/session establishment happens
// below this package, out of spec §4.6's scope.
func (a *Adapter) Connect(ctx context.Context) error {
	return nil
}

// Disconnect is a no-op for the same reason Connect is.
func (a *Adapter) Disconnect(ctx context.Context) error {
	return nil
}

// DownloadJob is not meaningful over the wireless link: the host
// drives the session directly with DOWNLOAD, it never negotiates a job
// document (spec §4.6 describes no job-query command).
func (a *Adapter) DownloadJob(ctx context.Context, req transport.JobRequest) ([]byte, error) {
	return nil, otaerr.New(otaerr.Unsupported, "wireless-link adapter has no job-document query")
}

// DownloadData is not meaningful either: data arrives via Write calls
// driven by the host, not a pull the agent initiates.
func (a *Adapter) DownloadData(ctx context.Context, req transport.DataRequest, handler transport.DataHandler) error {
	return otaerr.New(otaerr.Unsupported, "wireless-link adapter is host-driven; use Write")
}

// ReportResult is not meaningful: spec §4.6 reports only the per-command
// Status codes, there is no separate result-reporting phase.
func (a *Adapter) ReportResult(ctx context.Context, report transport.ResultReport) error {
	return otaerr.New(otaerr.Unsupported, "wireless-link adapter reports status per command, not a result")
}
