// Package streamapi is the HTTP surface of a per-group serving instance:
// the /asset_stream SSE endpoint backed by the fan-out registry, plus
// /ready, /info and /metrics probes.
package streamapi
