package ksql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a ksqlDB server over its HTTP API. It covers the small
// surface the serving layer needs: DDL/DML statements, pull queries and
// table listing.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a ksqlDB client for the given server URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// EscapeLiteral escapes single quotes for safe inclusion in ksqlDB string
// literals. Every literal interpolated from configuration or user input
// must pass through here.
func EscapeLiteral(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}

// Row is a single query result row keyed by upper-case column name.
type Row map[string]any

// Statement executes a DDL/DML statement (CREATE STREAM, DROP STREAM, ...)
// against the /ksql endpoint.
func (c *Client) Statement(ctx context.Context, statement string) error {
	body, err := json.Marshal(map[string]any{
		"ksql":              statement,
		"streamsProperties": map[string]string{},
	})
	if err != nil {
		return fmt.Errorf("failed to encode statement: %w", err)
	}

	resp, err := c.post(ctx, "/ksql", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		content, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ksqlDB statement failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(content)))
	}
	return nil
}

// Query runs a pull query against the /query endpoint and returns the rows
// keyed by column name. Column names are upper-cased by ksqlDB.
func (c *Client) Query(ctx context.Context, sql string) ([]Row, error) {
	body, err := json.Marshal(map[string]any{"ksql": sql})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	resp, err := c.post(ctx, "/query", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		content, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ksqlDB query failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(content)))
	}

	// The /query endpoint answers with a JSON array: a header element
	// carrying the schema, then one element per row.
	var payload []struct {
		Header *struct {
			Schema string `json:"schema"`
		} `json:"header"`
		Row *struct {
			Columns []any `json:"columns"`
		} `json:"row"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode ksqlDB response: %w", err)
	}

	var columns []string
	var rows []Row
	for _, el := range payload {
		if el.Header != nil {
			columns = parseSchemaColumns(el.Header.Schema)
			continue
		}
		if el.Row == nil {
			continue
		}
		row := make(Row, len(columns))
		for i, v := range el.Row.Columns {
			if i < len(columns) {
				row[columns[i]] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Tables lists the table names known to the ksqlDB server.
func (c *Client) Tables(ctx context.Context) ([]string, error) {
	body, err := json.Marshal(map[string]any{"ksql": "LIST TABLES;"})
	if err != nil {
		return nil, fmt.Errorf("failed to encode statement: %w", err)
	}

	resp, err := c.post(ctx, "/ksql", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		content, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ksqlDB LIST TABLES failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(content)))
	}

	var payload []struct {
		Tables []struct {
			Name string `json:"name"`
		} `json:"tables"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode ksqlDB response: %w", err)
	}

	var names []string
	for _, el := range payload {
		for _, tbl := range el.Tables {
			names = append(names, tbl.Name)
		}
	}
	return names, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/vnd.ksql.v1+json; charset=utf-8")
	req.Header.Set("Accept", "application/vnd.ksql.v1+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ksqlDB unreachable: %w", err)
	}
	return resp, nil
}

// parseSchemaColumns extracts column names from a ksqlDB schema string such
// as "`ASSET_UUID` STRING, `VALUE` STRING".
func parseSchemaColumns(schema string) []string {
	var columns []string
	for _, part := range splitTopLevel(schema) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := part
		if idx := strings.Index(part, " "); idx > 0 {
			name = part[:idx]
		}
		columns = append(columns, strings.ToUpper(strings.Trim(name, "`")))
	}
	return columns
}

// splitTopLevel splits a schema string on commas that are not nested inside
// angle brackets (MAP<STRING, STRING> and friends).
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '<', '(':
			depth++
		case '>', ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
