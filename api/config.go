// Package api provides an HTTP API server for inspecting the usage ledger.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// MaxListLimit caps the limit query parameter of /usage. Zero means 1000.
	MaxListLimit int
}
