package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline, so the same logical flag
// cannot drift between "ollamabridge serve" and "ollamabridge chat".
type Flag struct {
	// Name is the long flag name (e.g. "upstream").
	Name string

	// Shorthand is the one-letter short flag (e.g. "u"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "bridge.upstream").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddDurationFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagBridgeListen    = "listen"
	FlagAPIListen       = "api-listen"
	FlagUpstream        = "upstream"
	FlagAPIKey          = "api-key"
	FlagOwnedBy         = "owned-by"
	FlagUpstreamTimeout = "upstream-timeout"
	FlagModelsCacheTTL  = "models-cache-ttl"
	FlagSQLite          = "sqlite"
	FlagPostgres        = "postgres"
	FlagKafkaBrokers    = "kafka-brokers"
	FlagKafkaTopic      = "kafka-topic"
	FlagBridgeTarget    = "bridge-target"
)

// ServeFlags are the flags of "ollamabridge serve".
var ServeFlags = FlagSet{
	FlagBridgeListen:    {Name: "listen", Shorthand: "l", ViperKey: "bridge.listen", Description: "Address for the bridge to listen on"},
	FlagAPIListen:       {Name: "api-listen", Shorthand: "a", ViperKey: "api.listen", Description: "Address for the admin API to listen on (empty disables it)"},
	FlagUpstream:        {Name: "upstream", Shorthand: "u", ViperKey: "bridge.upstream", Description: "Ollama backend URL"},
	FlagAPIKey:          {Name: "api-key", ViperKey: "bridge.api_key", Description: "Backend API key used when a client sends no Authorization header"},
	FlagOwnedBy:         {Name: "owned-by", ViperKey: "bridge.owned_by", Description: "Owner reported for every model in /v1/models"},
	FlagUpstreamTimeout: {Name: "upstream-timeout", ViperKey: "bridge.upstream_timeout", Description: "Limit on a whole backend exchange, streaming included"},
	FlagModelsCacheTTL:  {Name: "models-cache-ttl", ViperKey: "models.cache_ttl", Description: "How long model lists are cached per API key (negative disables)"},
	FlagSQLite:          {Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path", Description: "Path to SQLite usage ledger (default: in-memory)"},
	FlagPostgres:        {Name: "postgres", ViperKey: "storage.postgres_dsn", Description: "PostgreSQL connection string for the usage ledger"},
	FlagKafkaBrokers:    {Name: "kafka-brokers", ViperKey: "eventstream.kafka_brokers", Description: "Comma separated Kafka brokers for usage events"},
	FlagKafkaTopic:      {Name: "kafka-topic", ViperKey: "eventstream.kafka_topic", Description: "Kafka topic for usage events"},
}

// ClientFlags are the flags of commands that talk to a running bridge.
var ClientFlags = FlagSet{
	FlagBridgeTarget: {Name: "bridge-target", Shorthand: "t", ViperKey: "client.bridge_target", Description: "Bridge URL"},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddDurationFlag registers a duration flag on cmd from the given FlagSet.
func AddDurationFlag(cmd *cobra.Command, fs FlagSet, key string, target *time.Duration) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultDuration(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().DurationVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().DurationVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultDuration returns the default duration value for a viper key from NewDefaultConfig.
func defaultDuration(viperKey string) time.Duration {
	v := viper.New()
	setViperDefaults(v)
	return v.GetDuration(viperKey)
}
