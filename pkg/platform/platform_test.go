package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openfactoryio/serving-layer/pkg/config"
)

func TestSanitizeGroupName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"wc1", "wc1"},
		{"WorkCenter-1", "workcenter-1"},
		{"Work Center #1", "work-center-1"},
		{"--weird__name--", "weird-name"},
		{"Ünit/Zone 9", "nit-zone-9"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeGroupName(tt.in), "input %q", tt.in)
	}
}

func TestServiceName_RoundTrip(t *testing.T) {
	// ASCII letters/digits/dashes sanitise to their lowercase form.
	for _, g := range []string{"wc1", "WC1", "line-3", "A-b-9"} {
		assert.Equal(t, "stream-api-group-"+strings.ToLower(g), ServiceName(g))
	}
}

func TestHostPort_DeterministicAndBounded(t *testing.T) {
	p1 := HostPort(6000, "wc1")
	p2 := HostPort(6000, "wc1")
	assert.Equal(t, p1, p2)
	assert.GreaterOrEqual(t, p1, 6000)
	assert.Less(t, p1, 7000)

	// Different groups should normally land on different ports.
	assert.NotEqual(t, HostPort(6000, "wc1"), HostPort(6000, "wc2"))
}

func TestCheckReady_Ready(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ready", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}))
	defer server.Close()

	ready, msg := CheckReady(context.Background(), server.URL)
	assert.True(t, ready)
	assert.Equal(t, "service is ready", msg)
}

func TestCheckReady_NotReadyWithStringIssues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready","issues":"Kafka consumer has no assigned partitions"}`))
	}))
	defer server.Close()

	ready, msg := CheckReady(context.Background(), server.URL)
	assert.False(t, ready)
	assert.Contains(t, msg, "received status code 503")
}

func TestCheckReady_OKButReportedNotReady(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"not ready","issues":{"database":"connection timeout"}}`))
	}))
	defer server.Close()

	ready, msg := CheckReady(context.Background(), server.URL)
	assert.False(t, ready)
	assert.Contains(t, msg, "database: connection timeout")
}

func TestCheckReady_NoEndpoint(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	ready, msg := CheckReady(context.Background(), server.URL)
	assert.False(t, ready)
	assert.Contains(t, msg, "404")
}

func TestCheckReady_Unreachable(t *testing.T) {
	ready, msg := CheckReady(context.Background(), "http://127.0.0.1:1")
	assert.False(t, ready)
	assert.Contains(t, msg, "not reachable")
}

func TestRegistry_KnownPlatforms(t *testing.T) {
	assert.Contains(t, Names(), "docker")
	assert.Contains(t, Names(), "swarm")

	_, err := New("nomad", &config.Settings{})
	assert.ErrorContains(t, err, "unknown deployment platform")
}
