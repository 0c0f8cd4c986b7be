package config

import (
	"fmt"
	"strings"
	"time"
)

// Config represents the persistent bridge configuration stored as config.toml
// in the .ollamabridge/ directory. The TOML layout uses sections for logical
// grouping.
type Config struct {
	Version     int               `toml:"version"`
	Bridge      BridgeConfig      `toml:"bridge"`
	Models      ModelsConfig      `toml:"models"`
	API         APIConfig         `toml:"api"`
	Storage     StorageConfig     `toml:"storage"`
	EventStream EventStreamConfig `toml:"eventstream"`
	Client      ClientConfig      `toml:"client"`
}

// BridgeConfig holds settings for the translating proxy.
type BridgeConfig struct {
	Listen   string `toml:"listen,omitempty"`
	Upstream string `toml:"upstream,omitempty"`

	// APIKey is used upstream only when a client sends no Authorization.
	APIKey  string `toml:"api_key,omitempty"`
	OwnedBy string `toml:"owned_by,omitempty"`

	// UpstreamTimeout is a Go duration string (e.g. "5m").
	UpstreamTimeout string `toml:"upstream_timeout,omitempty"`
}

// ModelsConfig holds /v1/models settings.
type ModelsConfig struct {
	// CacheTTL is a Go duration string. A negative value disables caching.
	CacheTTL string `toml:"cache_ttl,omitempty"`
}

// APIConfig holds admin API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// StorageConfig selects the usage ledger backend. With neither set the
// ledger is kept in memory.
type StorageConfig struct {
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// EventStreamConfig holds usage event publishing settings. Publishing is
// disabled while KafkaBrokers is empty.
type EventStreamConfig struct {
	// KafkaBrokers is a comma separated list of host:port pairs.
	KafkaBrokers string `toml:"kafka_brokers,omitempty"`
	KafkaTopic   string `toml:"kafka_topic,omitempty"`
}

// ClientConfig holds settings for CLI commands that talk to a running
// bridge (e.g. ollamabridge chat). Values are full URLs.
type ClientConfig struct {
	BridgeTarget string `toml:"bridge_target,omitempty"`
}

// SplitList splits a comma separated setting, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func durationKey(key string, field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			*field(c) = v
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"bridge.listen": {
		get: func(c *Config) string { return c.Bridge.Listen },
		set: func(c *Config, v string) error { c.Bridge.Listen = v; return nil },
	},
	"bridge.upstream": {
		get: func(c *Config) string { return c.Bridge.Upstream },
		set: func(c *Config, v string) error { c.Bridge.Upstream = v; return nil },
	},
	"bridge.api_key": {
		get: func(c *Config) string { return c.Bridge.APIKey },
		set: func(c *Config, v string) error { c.Bridge.APIKey = v; return nil },
	},
	"bridge.owned_by": {
		get: func(c *Config) string { return c.Bridge.OwnedBy },
		set: func(c *Config, v string) error { c.Bridge.OwnedBy = v; return nil },
	},
	"bridge.upstream_timeout": durationKey("bridge.upstream_timeout", func(c *Config) *string {
		return &c.Bridge.UpstreamTimeout
	}),
	"models.cache_ttl": durationKey("models.cache_ttl", func(c *Config) *string {
		return &c.Models.CacheTTL
	}),
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_dsn": {
		get: func(c *Config) string { return c.Storage.PostgresDSN },
		set: func(c *Config, v string) error { c.Storage.PostgresDSN = v; return nil },
	},
	"eventstream.kafka_brokers": {
		get: func(c *Config) string { return c.EventStream.KafkaBrokers },
		set: func(c *Config, v string) error {
			c.EventStream.KafkaBrokers = strings.Join(SplitList(v), ",")
			return nil
		},
	},
	"eventstream.kafka_topic": {
		get: func(c *Config) string { return c.EventStream.KafkaTopic },
		set: func(c *Config, v string) error { c.EventStream.KafkaTopic = v; return nil },
	},
	"client.bridge_target": {
		get: func(c *Config) string { return c.Client.BridgeTarget },
		set: func(c *Config, v string) error { c.Client.BridgeTarget = v; return nil },
	},
}
