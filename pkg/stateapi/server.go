package stateapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openfactoryio/serving-layer/pkg/ksql"
	"github.com/openfactoryio/serving-layer/pkg/log"
	"github.com/openfactoryio/serving-layer/pkg/version"
)

// Server is the centralized state-query service: a thin pass-through from
// HTTP to pull queries on the assets state table.
type Server struct {
	client      *ksql.Client
	assetsTable string
	router      chi.Router
	httpServer  *http.Server
}

// NewServer builds the state API over a ksqlDB client.
func NewServer(client *ksql.Client, assetsTable string) *Server {
	s := &Server{
		client:      client,
		assetsTable: assetsTable,
	}

	r := chi.NewRouter()
	r.Get("/asset_state", s.handleAssetState)
	r.Get("/ready", s.handleReady)
	r.Get("/info", s.handleInfo)
	s.router = r

	return s
}

// Handler returns the HTTP handler for embedding in tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.WithComponent("state-api").Info().Str("addr", addr).Msg("State API listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// dataItemState is one data item of an asset's current state.
type dataItemState struct {
	ID        string `json:"id"`
	Value     string `json:"value"`
	Type      string `json:"type"`
	Tag       string `json:"tag"`
	Timestamp string `json:"timestamp"`
}

// handleAssetState returns the latest state of one data item (composite
// key asset_uuid|id) or of all data items of an asset.
func (s *Server) handleAssetState(w http.ResponseWriter, r *http.Request) {
	assetUUID := r.URL.Query().Get("asset_uuid")
	if assetUUID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "asset_uuid query parameter is required"})
		return
	}
	dataitemID := r.URL.Query().Get("id")

	escapedUUID := ksql.EscapeLiteral(assetUUID)

	if dataitemID != "" {
		compositeKey := escapedUUID + "|" + ksql.EscapeLiteral(dataitemID)
		query := fmt.Sprintf(
			"SELECT asset_uuid, id, value, type, tag, timestamp FROM %s WHERE key = '%s' LIMIT 1;",
			s.assetsTable, compositeKey,
		)
		rows, err := s.client.Query(r.Context(), query)
		if err != nil {
			log.WithComponent("state-api").Error().Err(err).Msg("ksqlDB query failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": fmt.Sprintf("ksqlDB query failed: %v", err)})
			return
		}
		if len(rows) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "No data found for the given asset_uuid and id."})
			return
		}

		item := itemFromRow(rows[0])
		writeJSON(w, http.StatusOK, map[string]string{
			"asset_uuid": stringColumn(rows[0], "ASSET_UUID"),
			"id":         item.ID,
			"value":      item.Value,
			"type":       item.Type,
			"tag":        item.Tag,
			"timestamp":  item.Timestamp,
		})
		return
	}

	query := fmt.Sprintf(
		"SELECT asset_uuid, id, value, type, tag, timestamp FROM %s WHERE asset_uuid = '%s';",
		s.assetsTable, escapedUUID,
	)
	rows, err := s.client.Query(r.Context(), query)
	if err != nil {
		log.WithComponent("state-api").Error().Err(err).Msg("ksqlDB query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": fmt.Sprintf("ksqlDB query failed: %v", err)})
		return
	}
	if len(rows) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "No data found for the given asset_uuid."})
		return
	}

	items := make([]dataItemState, 0, len(rows))
	for _, row := range rows {
		items = append(items, itemFromRow(row))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset_uuid": assetUUID,
		"dataItems":  items,
	})
}

// handleReady verifies the assets state table is reachable on ksqlDB.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	tables, err := s.client.Tables(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "issues": fmt.Sprintf("ksqlDB connection failed: %v", err)})
		return
	}
	expected := strings.ToUpper(s.assetsTable)
	for _, t := range tables {
		if strings.ToUpper(t) == expected {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status": "not ready",
		"issues": fmt.Sprintf("assets table '%s' not found in ksqlDB", s.assetsTable),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.FromEnv())
}

func itemFromRow(row ksql.Row) dataItemState {
	return dataItemState{
		ID:        stringColumn(row, "ID"),
		Value:     stringColumn(row, "VALUE"),
		Type:      stringColumn(row, "TYPE"),
		Tag:       stringColumn(row, "TAG"),
		Timestamp: stringColumn(row, "TIMESTAMP"),
	}
}

func stringColumn(row ksql.Row, name string) string {
	v, _ := row[name].(string)
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
