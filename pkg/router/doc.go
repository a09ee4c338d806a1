/*
Package router implements the routing front-end: the HTTP surface clients
talk to.

	GET /asset_stream  resolve the asset's group instance, proxy its SSE
	                   stream (line-transparent, disconnect-aware)
	GET /asset_state   forward to the central state API, status and body
	                   returned verbatim
	GET /health        liveness
	GET /ready         aggregated readiness with per-component issues
	GET /info          build metadata

Only whitelisted query parameters are forwarded downstream; the whitelist
is a security boundary, not an optimisation.
*/
package router
