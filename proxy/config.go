package proxy

import "time"

const (
	defaultUpstreamTimeout = 5 * time.Minute
	defaultModelsCacheTTL  = time.Minute
)

// Config is the bridge server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// UpstreamURL is the Ollama backend base URL (e.g., "https://ollama.com")
	UpstreamURL string

	// APIKey is sent upstream as a bearer token when a client request carries
	// no Authorization header.
	APIKey string

	// OwnedBy is reported as the owner of every model in /v1/models.
	OwnedBy string

	// UpstreamTimeout bounds a whole backend exchange, including the time
	// spent streaming the response body. Defaults to 5 minutes.
	UpstreamTimeout time.Duration

	// ModelsCacheTTL is how long a translated model list is served from
	// cache per Authorization value. Negative disables caching.
	ModelsCacheTTL time.Duration

	// Instance labels usage events published by this bridge.
	Instance string
}

func (c *Config) setDefaults() {
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = defaultUpstreamTimeout
	}
	if c.ModelsCacheTTL == 0 {
		c.ModelsCacheTTL = defaultModelsCacheTTL
	}
}
