// Package metrics defines the Prometheus metrics of the serving layer and
// the /metrics HTTP handler exposing them.
package metrics
