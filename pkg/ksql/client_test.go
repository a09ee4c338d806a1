package ksql

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeLiteral(t *testing.T) {
	assert.Equal(t, "wc1", EscapeLiteral("wc1"))
	assert.Equal(t, "o''brien", EscapeLiteral("o'brien"))
	assert.Equal(t, "a''''b", EscapeLiteral("a''b"))
}

func TestQuery_ParsesHeaderAndRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req["ksql"], "SELECT")

		_, _ = w.Write([]byte(`[
			{"header":{"queryId":"q1","schema":"` + "`ASSET_UUID`" + ` STRING, ` + "`GROUPS`" + ` STRING"}},
			{"row":{"columns":["A1","wc1"]}},
			{"row":{"columns":["A2","wc2"]}}
		]`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	rows, err := client.Query(context.Background(), "SELECT asset_uuid, groups FROM m;")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "A1", rows[0]["ASSET_UUID"])
	assert.Equal(t, "wc2", rows[1]["GROUPS"])
}

func TestQuery_MapSchemaColumns(t *testing.T) {
	columns := parseSchemaColumns("`UNS_LEVELS` MAP<STRING, STRING>, `ASSET_UUID` STRING")
	assert.Equal(t, []string{"UNS_LEVELS", "ASSET_UUID"}, columns)
}

func TestQuery_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"bad query"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.Query(context.Background(), "SELECT nope;")
	assert.ErrorContains(t, err, "status 400")
}

func TestTables(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ksql", r.URL.Path)
		_, _ = w.Write([]byte(`[{"@type":"tables","tables":[{"name":"ASSET_TO_UNS_MAP"},{"name":"ASSETS"}]}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	tables, err := client.Tables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ASSET_TO_UNS_MAP", "ASSETS"}, tables)
}

func TestTables_Unreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	_, err := client.Tables(context.Background())
	assert.ErrorContains(t, err, "unreachable")
}

func TestStatement_OK(t *testing.T) {
	var received string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		received, _ = req["ksql"].(string)
		_, _ = w.Write([]byte(`[{"@type":"currentStatus"}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	require.NoError(t, client.Statement(context.Background(), "DROP STREAM s DELETE TOPIC;"))
	assert.Equal(t, "DROP STREAM s DELETE TOPIC;", received)
}
