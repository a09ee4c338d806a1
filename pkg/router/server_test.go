package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeController resolves routes from a static map.
type fakeController struct {
	routes   map[string]string
	ready    bool
	issues   map[string]string
	stateURL string
}

func (f *fakeController) Route(ctx context.Context, assetUUID string) (string, error) {
	return f.routes[assetUUID], nil
}

func (f *fakeController) Ready(ctx context.Context) (bool, map[string]string) {
	return f.ready, f.issues
}

func (f *fakeController) StateAPIURL() string { return f.stateURL }

func startRouter(t *testing.T, c Controller) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewServer(c).Handler())
	t.Cleanup(server.Close)
	return server
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestAssetStream_UnknownAsset(t *testing.T) {
	server := startRouter(t, &fakeController{routes: map[string]string{}})

	status, body := getJSON(t, server.URL+"/asset_stream?asset_uuid=ZZZ")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Asset group not found", body["detail"])
}

func TestAssetStream_MissingAssetUUID(t *testing.T) {
	server := startRouter(t, &fakeController{})

	status, _ := getJSON(t, server.URL+"/asset_stream")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAssetStream_QueryWhitelist(t *testing.T) {
	var forwarded url.Values
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = r.URL.Query()
		w.Header().Set("Content-Type", "text/event-stream")
		// Close immediately; the test only cares about the URL.
	}))
	defer upstream.Close()

	server := startRouter(t, &fakeController{routes: map[string]string{"A": upstream.URL}})

	resp, err := http.Get(server.URL + "/asset_stream?asset_uuid=A&id=temp&start_time=1&evil=rm-rf&token=secret")
	require.NoError(t, err)
	defer resp.Body.Close()
	_, _ = io.ReadAll(resp.Body)

	require.NotNil(t, forwarded)
	assert.Equal(t, "A", forwarded.Get("asset_uuid"))
	assert.Equal(t, "temp", forwarded.Get("id"))
	assert.Equal(t, "1", forwarded.Get("start_time"))
	assert.NotContains(t, forwarded, "evil")
	assert.NotContains(t, forwarded, "token")
}

func TestAssetState_PassThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/asset_state", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"asset_uuid":"A","dataItems":[{"id":"temp","value":"22.4"}]}`))
	}))
	defer upstream.Close()

	server := startRouter(t, &fakeController{stateURL: upstream.URL})

	status, body := getJSON(t, server.URL+"/asset_state?asset_uuid=A")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "A", body["asset_uuid"])
}

func TestAssetState_UpstreamStatusPreserved(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"No data found for the given asset_uuid."}`))
	}))
	defer upstream.Close()

	server := startRouter(t, &fakeController{stateURL: upstream.URL})

	status, body := getJSON(t, server.URL+"/asset_state?asset_uuid=A")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "No data found for the given asset_uuid.", body["detail"])
}

func TestAssetState_QueryWhitelist(t *testing.T) {
	var forwarded url.Values
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = r.URL.Query()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	server := startRouter(t, &fakeController{stateURL: upstream.URL})

	status, _ := getJSON(t, server.URL+"/asset_state?asset_uuid=A&granularity=1m&debug=1")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "A", forwarded.Get("asset_uuid"))
	assert.Equal(t, "1m", forwarded.Get("granularity"))
	assert.NotContains(t, forwarded, "debug")
}

func TestAssetState_TransportError(t *testing.T) {
	server := startRouter(t, &fakeController{stateURL: "http://127.0.0.1:1"})

	status, body := getJSON(t, server.URL+"/asset_state?asset_uuid=A")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "Error contacting the State API.", body["detail"])
}

func TestAssetState_Unresolvable(t *testing.T) {
	server := startRouter(t, &fakeController{stateURL: ""})

	status, body := getJSON(t, server.URL+"/asset_state?asset_uuid=A")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Asset State API not available.", body["detail"])
}

func TestHealth(t *testing.T) {
	server := startRouter(t, &fakeController{})

	status, body := getJSON(t, server.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestReady_Aggregated(t *testing.T) {
	server := startRouter(t, &fakeController{ready: true})

	status, body := getJSON(t, server.URL+"/ready")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])
}

func TestReady_NotReadyCarriesIssues(t *testing.T) {
	server := startRouter(t, &fakeController{
		ready: false,
		issues: map[string]string{
			"service:wc2": "received status code 503",
		},
	})

	status, body := getJSON(t, server.URL+"/ready")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "not ready", body["status"])

	issues, ok := body["issues"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, issues, "service:wc2")
}

func TestInfo(t *testing.T) {
	t.Setenv("OPENFACTORY_VERSION", "v0.9.0")
	server := startRouter(t, &fakeController{})

	status, body := getJSON(t, server.URL+"/info")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "v0.9.0", body["openfactory_version"])
}
