// Package stateapi is the centralized state-query service: a thin
// pass-through from /asset_state to pull queries on the assets state
// table of the change-stream engine.
package stateapi
