package router

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openfactoryio/serving-layer/pkg/log"
	"github.com/openfactoryio/serving-layer/pkg/metrics"
)

// sseClient performs the long-lived upstream reads. No timeout: the
// stream stays open as long as both sides do; client disconnects cancel
// the read through the request context.
var sseClient = &http.Client{}

// proxyAssetStream forwards a group instance's SSE stream to the client,
// line-transparent: each non-empty upstream line is relayed verbatim. A
// non-200 upstream or a mid-stream failure ends the response with a
// terminal error frame.
func proxyAssetStream(w http.ResponseWriter, r *http.Request, fullURL string) {
	logger := log.WithComponent("proxy")
	logger.Debug().Str("url", fullURL).Msg("Forwarding asset stream")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "streaming unsupported"})
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, fullURL, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build upstream request")
		writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "Failed to proxy request to group service"})
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.ProxiedStreams.Inc()

	resp, err := sseClient.Do(req)
	if err != nil {
		metrics.ProxyErrors.Inc()
		logger.Error().Err(err).Msg("Error connecting to upstream")
		writeErrorFrame(w, flusher, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		content, _ := io.ReadAll(resp.Body)
		metrics.ProxyErrors.Inc()
		logger.Error().Int("status", resp.StatusCode).Str("body", string(content)).Msg("Upstream error")
		writeErrorFrame(w, flusher, string(content))
		return
	}

	logger.Info().Msg("Connected to SSE upstream")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		// Client gone: abort the upstream read promptly.
		select {
		case <-r.Context().Done():
			logger.Info().Msg("Client disconnected")
			return
		default:
		}

		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fmt.Fprintln(w, line)
		flusher.Flush()
	}

	if err := scanner.Err(); err != nil && r.Context().Err() == nil {
		metrics.ProxyErrors.Inc()
		logger.Error().Err(err).Msg("Error streaming from upstream")
		writeErrorFrame(w, flusher, err.Error())
		return
	}

	logger.Info().Msg("Upstream stream ended")
}

func writeErrorFrame(w http.ResponseWriter, flusher http.Flusher, text string) {
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", text)
	flusher.Flush()
}
