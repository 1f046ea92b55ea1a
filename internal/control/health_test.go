package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/ota-agent/pkg/otatypes"
)

func TestHealthHandler_AlwaysReportsHealthy(t *testing.T) {
	hs := NewHTTPServer(&fakeAgent{})
	server := httptest.NewServer(hs.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "healthy", body.Status)
}

func TestReadyHandler_ReadyWhenStartedAndNoLastError(t *testing.T) {
	agent := &fakeAgent{snapshot: otatypes.AgentSnapshot{State: otatypes.StateAgentWaiting}}
	hs := NewHTTPServer(agent)
	server := httptest.NewServer(hs.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body readyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ready", body.Status)
	require.Equal(t, "ok", body.Checks["last_session"])
}

func TestReadyHandler_NotReadyOnLastError(t *testing.T) {
	agent := &fakeAgent{snapshot: otatypes.AgentSnapshot{
		State:     otatypes.StateAgentWaiting,
		LastError: errors.New("verify failed"),
	}}
	hs := NewHTTPServer(agent)
	server := httptest.NewServer(hs.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestReadyHandler_NotReadyBeforeStart(t *testing.T) {
	hs := NewHTTPServer(&fakeAgent{})
	server := httptest.NewServer(hs.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint_Serves(t *testing.T) {
	hs := NewHTTPServer(&fakeAgent{})
	server := httptest.NewServer(hs.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
}
