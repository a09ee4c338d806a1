// Package config loads serving-layer settings from the environment (the
// only configuration mechanism), with an optional .env file for local
// development. Enum-valued settings are validated at startup.
package config
