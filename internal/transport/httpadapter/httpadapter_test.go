package httpadapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/cuemby/ota-agent/internal/otaerr"
	"github.com/cuemby/ota-agent/internal/transport"
	"github.com/cuemby/ota-agent/pkg/otatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return New(Config{
		Host:    u.Hostname(),
		Port:    port,
		JobFile: "/job_doc.json",
		Client:  srv.Client(),
	})
}

func TestDownloadJob_ReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/job_doc.json", r.URL.Path)
		w.Write([]byte(`{"Message":"Update Available"}`))
	}))
	defer srv.Close()

	a := newAdapter(t, srv)
	body, err := a.DownloadJob(context.Background(), transport.JobRequest{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Message":"Update Available"}`, string(body))
}

func TestDownloadJob_4xxMapsToErrorGetJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := newAdapter(t, srv)
	_, err := a.DownloadJob(context.Background(), transport.JobRequest{})
	require.Error(t, err)
	code, ok := otaerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, otaerr.GetJob, code)
}

// TestDownloadData_AccumulatesRangeWindows matches spec §4.4: the
// adapter iterates fixed-size Range windows until total_image_size,
// derived from Content-Range, has been received.
func TestDownloadData_AccumulatesRangeWindows(t *testing.T) {
	image := make([]byte, 3*DefaultWindowSize+100)
	for i := range image {
		image[i] = byte(i % 256)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		require.True(t, strings.HasPrefix(rng, "bytes="))
		var start, end int
		_, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
		require.NoError(t, err)

		if end >= len(image) {
			end = len(image) - 1
		}
		if start > end {
			w.Write(nil)
			return
		}

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(image)))
		w.Write(image[start : end+1])
	}))
	defer srv.Close()

	a := newAdapter(t, srv)

	var received []byte
	err := a.DownloadData(context.Background(), transport.DataRequest{File: "/firmware.bin"}, func(wr otatypes.WriteRequest) error {
		received = append(received, wr.Payload...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, image, received)
}

func TestReportResult_TransportErrorTreatedAsSuccess(t *testing.T) {
	a := New(Config{Host: "127.0.0.1", Port: 1})
	err := a.ReportResult(context.Background(), transport.ResultReport{
		File:    "firmware.bin",
		Outcome: otatypes.OutcomeSuccess,
	})
	assert.NoError(t, err)
}

func TestReportResult_SendsExpectedBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
	}))
	defer srv.Close()

	a := newAdapter(t, srv)
	err := a.ReportResult(context.Background(), transport.ResultReport{
		File:    "firmware.bin",
		Outcome: otatypes.OutcomeFailure,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Message":"Failure","File":"firmware.bin"}`, gotBody)
}
