package streamapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openfactoryio/serving-layer/pkg/fanout"
	"github.com/openfactoryio/serving-layer/pkg/log"
	"github.com/openfactoryio/serving-layer/pkg/metrics"
	"github.com/openfactoryio/serving-layer/pkg/version"
)

// ReadyFunc reports instance readiness with a diagnostic message.
type ReadyFunc func() (bool, string)

// Server is the HTTP surface of a per-group stream-api instance: the SSE
// subscriber endpoint plus readiness, metadata and metrics probes.
type Server struct {
	registry   *fanout.Registry
	ready      ReadyFunc
	router     chi.Router
	httpServer *http.Server
}

// NewServer builds the instance server over the fan-out registry.
func NewServer(registry *fanout.Registry, ready ReadyFunc) *Server {
	s := &Server{
		registry: registry,
		ready:    ready,
	}

	r := chi.NewRouter()
	r.Get("/asset_stream", s.handleAssetStream)
	r.Get("/ready", s.handleReady)
	r.Get("/info", s.handleInfo)
	r.Handle("/metrics", metrics.Handler())
	s.router = r

	return s
}

// Handler returns the HTTP handler for embedding in tests or other servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called. Streaming
// responses forbid a server-side write timeout.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	log.WithComponent("stream-api").Info().Str("addr", addr).Msg("Stream API listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// dataItem is the payload envelope used for dataitem-id filtering.
type dataItem struct {
	ID string `json:"id"`
}

// handleAssetStream registers a bounded subscriber queue for the asset and
// emits one SSE frame per payload until the client disconnects.
func (s *Server) handleAssetStream(w http.ResponseWriter, r *http.Request) {
	assetUUID := r.URL.Query().Get("asset_uuid")
	if assetUUID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "asset_uuid query parameter is required"})
		return
	}
	dataitemID := r.URL.Query().Get("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "streaming unsupported"})
		return
	}

	logger := log.WithAsset(assetUUID)

	queue := s.registry.Subscribe(assetUUID)
	defer s.registry.Unsubscribe(queue)
	logger.Info().Msg("Client subscribed")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Client disconnected")
			return
		case payload := <-queue.C():
			if dataitemID != "" {
				var item dataItem
				if err := json.Unmarshal([]byte(payload), &item); err != nil {
					logger.Error().Err(err).Msg("Failed to parse payload for dataitem filter")
					continue
				}
				if item.ID != dataitemID {
					continue
				}
			}
			fmt.Fprintf(w, "event: asset_update\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// handleReady answers the orchestrator readiness probe.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready, msg := s.ready()
	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "issues": msg})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.FromEnv())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
