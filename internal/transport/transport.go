// Package transport defines the Transport interface shared by the
// three inbound-data adapters (spec §4.4-§4.6): HTTP/HTTPS range
// requests, pub/sub (MQTT-style) chunk subscriptions, and the
// wireless-link command protocol. The orchestrator drives any one of
// them through this interface without knowing which wire protocol is
// underneath, the way pkg/health lets a monitor drive an HTTP, TCP, or
// exec checker through the Checker interface.
package transport

import (
	"context"

	"github.com/cuemby/ota-agent/pkg/otatypes"
)

// JobRequest carries what an adapter needs to ask its server for the
// current job document (spec §6.3).
type JobRequest struct {
	Manufacturer   string
	ManufacturerID string
	Product        string
	SerialNumber   string
	Board          string
	RunningVersion otatypes.Version
}

// DataRequest describes the image an adapter is about to download, as
// resolved from the parsed job document (spec §4.4-§4.5).
type DataRequest struct {
	File            string
	TotalImageSize  uint32
	UniqueTopicName string

	// GetAllAtOnce selects the pub/sub "full download" request shape
	// over the per-chunk request shape (spec §4.5).
	GetAllAtOnce bool
}

// DataHandler receives validated write requests as an adapter streams
// data in. Implementations normally forward straight to a storage
// Engine's Write method; the adapter itself never touches flash.
type DataHandler func(otatypes.WriteRequest) error

// ResultReport is what ReportResult sends back to the server describing
// how the session ended (spec §4.1 "result reporting phase").
type ResultReport struct {
	File    string
	Outcome otatypes.SessionOutcome
	Detail  string
}

// Transport is the contract every inbound-data adapter implements: the
// connect/download/report/disconnect sequence of spec §4.1's phases,
// independent of which wire protocol carries it.
type Transport interface {
	// Connect establishes the underlying session (TCP+TLS dial, MQTT
	// CONNECT, or wireless-link pairing). It must be safe to call again
	// after Disconnect.
	Connect(ctx context.Context) error

	// DownloadJob fetches and returns the raw job document bytes.
	DownloadJob(ctx context.Context, req JobRequest) ([]byte, error)

	// DownloadData streams the image named by req, invoking handler for
	// each received block until total_image_size bytes have arrived or
	// ctx is cancelled. The per-phase and per-packet timers of spec §5
	// are expressed as ctx deadlines by the caller.
	DownloadData(ctx context.Context, req DataRequest, handler DataHandler) error

	// ReportResult sends the outcome of the session. A transport that
	// has no server-side acknowledgement (NO_RESPONSE, spec §4.4) treats
	// the send itself as success.
	ReportResult(ctx context.Context, report ResultReport) error

	// Disconnect tears down the underlying session. It must be
	// idempotent: calling it when not connected is not an error.
	Disconnect(ctx context.Context) error
}
