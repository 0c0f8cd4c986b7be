package config

const (
	defaultBridgeListen    = ":8080"
	defaultUpstream        = "https://ollama.com"
	defaultOwnedBy         = "ollama"
	defaultUpstreamTimeout = "5m"
	defaultModelsCacheTTL  = "1m"
	defaultAPIListen       = ":8081"
	defaultKafkaTopic      = "ollamabridge.usage"

	defaultClientBridgeTarget = "http://localhost:8080"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Bridge: BridgeConfig{
			Listen:          defaultBridgeListen,
			Upstream:        defaultUpstream,
			OwnedBy:         defaultOwnedBy,
			UpstreamTimeout: defaultUpstreamTimeout,
		},
		Models: ModelsConfig{
			CacheTTL: defaultModelsCacheTTL,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		EventStream: EventStreamConfig{
			KafkaTopic: defaultKafkaTopic,
		},
		Client: ClientConfig{
			BridgeTarget: defaultClientBridgeTarget,
		},
	}
}
