// Package httpadapter implements the HTTP Adapter of spec §4.4: a
// plain GET for the job document, windowed Range GETs for image data,
// and a best-effort POST for result reporting.
//
// Grounded on cy_ota_http.c's cy_ota_http_get_job/cy_ota_http_get_data
// (range-window accumulation driven by the Content-Range response
// header) and on pkg/health's HTTPChecker for the request-construction
// and *http.Client wiring style.
package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/ota-agent/internal/otaerr"
	"github.com/cuemby/ota-agent/internal/transport"
	"github.com/cuemby/ota-agent/pkg/otatypes"
)

// DefaultWindowSize is the fixed Range-request window spec §4.4
// documents as the default.
const DefaultWindowSize = 4096

// MaxJobDocumentSize bounds the job-document GET response body (spec
// §4.4 "bounded by CY_OTA_JSON_DOC_BUFF_SIZE").
const MaxJobDocumentSize = 16 * 1024

// Config configures an Adapter.
type Config struct {
	// Host and Port address the server. UseTLS selects https:// and, per
	// spec §4.4, is the only case in which Username/Password are sent.
	Host   string
	Port   int
	UseTLS bool

	// JobFile is the path GET for the job document (spec §4.4).
	JobFile string

	Username string
	Password string

	// WindowSize overrides DefaultWindowSize when non-zero.
	WindowSize int

	// Client overrides the default *http.Client (tests substitute a
	// client pointed at an httptest.Server).
	Client *http.Client
}

// Adapter implements transport.Transport over HTTP/HTTPS.
type Adapter struct {
	cfg    Config
	client *http.Client
}

// New constructs an Adapter from cfg.
func New(cfg Config) *Adapter {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	return &Adapter{cfg: cfg, client: client}
}

var _ transport.Transport = (*Adapter)(nil)

// Connect is a no-op: HTTP carries no session state between requests.
// It exists so Adapter satisfies transport.Transport alongside the
// stateful pub/sub and wireless-link adapters.
func (a *Adapter) Connect(ctx context.Context) error {
	return nil
}

// Disconnect is a no-op for the same reason Connect is.
func (a *Adapter) Disconnect(ctx context.Context) error {
	return nil
}

// DownloadJob issues the plain GET of spec §4.4 against req's file and
// returns the response body.
func (a *Adapter) DownloadJob(ctx context.Context, req transport.JobRequest) ([]byte, error) {
	return a.get(ctx, a.cfg.JobFile, otaerr.GetJob)
}

// DownloadData issues windowed Range GETs until total_image_size bytes
// have accumulated, deriving the total from the first response's
// Content-Range header (spec §4.4).
func (a *Adapter) DownloadData(ctx context.Context, req transport.DataRequest, handler transport.DataHandler) error {
	window := a.cfg.WindowSize

	total := req.TotalImageSize
	var written uint32
	var packet uint16

	for total == 0 || written < total {
		end := written + uint32(window) - 1
		resp, err := a.rangeGet(ctx, req.File, written, end)
		if err != nil {
			return otaerr.Wrap(otaerr.GetData, "range GET failed", err)
		}

		body, contentRangeTotal, err := readRangeResponse(resp)
		if err != nil {
			return otaerr.Wrap(otaerr.GetData, "reading range response", err)
		}
		if total == 0 {
			total = contentRangeTotal
		}
		if total == 0 {
			return otaerr.New(otaerr.GetData, "server returned no Content-Range total")
		}

		if err := handler(otatypes.WriteRequest{
			Offset:       written,
			Length:       uint16(len(body)),
			Payload:      body,
			PacketNumber: packet,
		}); err != nil {
			return err
		}

		written += uint32(len(body))
		packet++

		if len(body) == 0 {
			break
		}
	}

	return nil
}

// ReportResult POSTs the JSON result body of spec §4.4. A transport
// error from the POST itself (the "NO_RESPONSE" case — many servers do
// not implement it) is treated as success.
func (a *Adapter) ReportResult(ctx context.Context, report transport.ResultReport) error {
	message := "Success"
	if report.Outcome != otatypes.OutcomeSuccess {
		message = "Failure"
	}

	body, err := json.Marshal(struct {
		Message string `json:"Message"`
		File    string `json:"File"`
	}{Message: message, File: report.File})
	if err != nil {
		return otaerr.Wrap(otaerr.SendingResult, "encoding result body", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.urlFor(report.File), strings.NewReader(string(body)))
	if err != nil {
		return otaerr.Wrap(otaerr.SendingResult, "building result request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	a.setCredentials(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		// NO_RESPONSE: server accepted the write but dropped the
		// connection, or never listens for POST at all.
		return nil
	}
	defer resp.Body.Close()

	return nil
}

func (a *Adapter) get(ctx context.Context, file string, onFailure otaerr.Code) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.urlFor(file), nil)
	if err != nil {
		return nil, otaerr.Wrap(onFailure, "building GET request", err)
	}
	a.setCredentials(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, otaerr.Wrap(onFailure, "GET failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, otaerr.New(onFailure, fmt.Sprintf("server returned %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxJobDocumentSize))
	if err != nil {
		return nil, otaerr.Wrap(onFailure, "reading response body", err)
	}
	return body, nil
}

func (a *Adapter) rangeGet(ctx context.Context, file string, start, end uint32) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.urlFor(file), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	a.setCredentials(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return resp, nil
}

// setCredentials attaches basic auth only over HTTPS (spec §4.4
// "Credentials are ignored unless the selected transport is HTTPS").
func (a *Adapter) setCredentials(req *http.Request) {
	if a.cfg.UseTLS && a.cfg.Username != "" {
		req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	}
}

func (a *Adapter) urlFor(file string) string {
	scheme := "http"
	if a.cfg.UseTLS {
		scheme = "https"
	}
	if !strings.HasPrefix(file, "/") {
		file = "/" + file
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, a.cfg.Host, a.cfg.Port, file)
}

// readRangeResponse drains resp's body and parses the "A-B/TOTAL" form
// of its Content-Range header.
func readRangeResponse(resp *http.Response) (body []byte, total uint32, err error) {
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}

	cr := resp.Header.Get("Content-Range")
	if cr == "" {
		return body, 0, nil
	}

	slash := strings.LastIndex(cr, "/")
	if slash < 0 || slash == len(cr)-1 {
		return body, 0, nil
	}
	totalStr := strings.TrimSpace(cr[slash+1:])
	if totalStr == "*" {
		return body, 0, nil
	}

	n, err := strconv.ParseUint(totalStr, 10, 32)
	if err != nil {
		return nil, 0, fmt.Errorf("malformed Content-Range total %q: %w", totalStr, err)
	}
	return body, uint32(n), nil
}
