package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openfactoryio/serving-layer/pkg/log"
	"github.com/openfactoryio/serving-layer/pkg/version"
)

// stateRequestTimeout bounds a state-query pass-through.
const stateRequestTimeout = 5 * time.Second

// streamAllowedParams is the whitelist of query parameters forwarded to a
// group instance. Anything else from the client is discarded; the
// whitelist is a security boundary.
var streamAllowedParams = map[string]bool{
	"asset_uuid": true,
	"id":         true,
	"start_time": true,
	"end_time":   true,
}

// stateAllowedParams is the whitelist for state-query forwarding.
var stateAllowedParams = map[string]bool{
	"asset_uuid":  true,
	"id":          true,
	"start_time":  true,
	"end_time":    true,
	"granularity": true,
}

// Controller is the routing surface the front-end needs.
type Controller interface {
	// Route resolves an asset to its group instance URL; "" means no
	// group is known for the asset.
	Route(ctx context.Context, assetUUID string) (string, error)

	// Ready aggregates subcomponent readiness into an issues map.
	Ready(ctx context.Context) (bool, map[string]string)

	// StateAPIURL resolves the state-query instance.
	StateAPIURL() string
}

// Server is the routing front-end: it resolves assets to group instances,
// proxies live streams and forwards state queries.
type Server struct {
	controller  Controller
	router      chi.Router
	httpServer  *http.Server
	stateClient *http.Client
}

// NewServer builds the front-end over a routing controller.
func NewServer(controller Controller) *Server {
	s := &Server{
		controller:  controller,
		stateClient: &http.Client{Timeout: stateRequestTimeout},
	}

	r := chi.NewRouter()
	r.Get("/asset_stream", s.handleAssetStream)
	r.Get("/asset_state", s.handleAssetState)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/info", s.handleInfo)
	s.router = r

	return s
}

// Handler returns the HTTP handler for embedding in tests.
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
	log.WithComponent("router").Info().Str("addr", addr).Msg("Routing front-end listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleAssetStream resolves the asset's group instance and proxies its
// SSE stream back to the client.
func (s *Server) handleAssetStream(w http.ResponseWriter, r *http.Request) {
	assetUUID := r.URL.Query().Get("asset_uuid")
	if assetUUID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "asset_uuid query parameter is required"})
		return
	}

	targetURL, err := s.controller.Route(r.Context(), assetUUID)
	if err != nil {
		log.WithAsset(assetUUID).Error().Err(err).Msg("Route resolution failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "Failed to proxy request to group service"})
		return
	}
	if targetURL == "" {
		log.WithAsset(assetUUID).Warn().Msg("No route found for asset")
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Asset group not found"})
		return
	}

	fullURL := targetURL + "/asset_stream"
	if query := filterQuery(r.URL.Query(), streamAllowedParams); query != "" {
		fullURL += "?" + query
	}

	proxyAssetStream(w, r, fullURL)
}

// handleAssetState forwards a state query to the state API and returns its
// status and body verbatim.
func (s *Server) handleAssetState(w http.ResponseWriter, r *http.Request) {
	assetUUID := r.URL.Query().Get("asset_uuid")
	if assetUUID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "asset_uuid query parameter is required"})
		return
	}

	baseURL := s.controller.StateAPIURL()
	if baseURL == "" {
		log.Error("Asset State API route could not be resolved")
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Asset State API not available."})
		return
	}

	fullURL := baseURL + "/asset_state"
	if query := filterQuery(r.URL.Query(), stateAllowedParams); query != "" {
		fullURL += "?" + query
	}
	log.WithComponent("router").Debug().Str("url", fullURL).Msg("Forwarding state query")

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, fullURL, nil)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "Error contacting the State API."})
		return
	}

	resp, err := s.stateClient.Do(req)
	if err != nil {
		log.WithComponent("router").Error().Err(err).Msg("Error contacting the State API")
		writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "Error contacting the State API."})
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready, issues := s.controller.Ready(r.Context())
	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "issues": issues})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.FromEnv())
}

// filterQuery keeps only whitelisted parameters.
func filterQuery(params url.Values, allowed map[string]bool) string {
	filtered := url.Values{}
	for key, values := range params {
		if allowed[key] {
			filtered[key] = values
		}
	}
	return filtered.Encode()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
