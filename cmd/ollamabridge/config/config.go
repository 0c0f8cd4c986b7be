// Package configcmder provides the config command for managing persistent
// bridge configuration stored in the .ollamabridge/ directory.
package configcmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/ollamabridge/pkg/cliui"
	"github.com/papercomputeco/ollamabridge/pkg/config"
)

const configLongDesc string = `Manage persistent bridge configuration.

Configuration is stored as config.toml in the .ollamabridge/ directory and
provides default values for command flags. CLI flags and OLLAMABRIDGE_*
environment variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  bridge.listen, bridge.upstream, bridge.api_key, bridge.owned_by,
  bridge.upstream_timeout, models.cache_ttl, api.listen,
  storage.sqlite_path, storage.postgres_dsn,
  eventstream.kafka_brokers, eventstream.kafka_topic,
  client.bridge_target

Use subcommands to manage configuration values:
  ollamabridge config init --preset local    Write a preset config file
  ollamabridge config set <key> <value>      Set a configuration value
  ollamabridge config get <key>              Get a configuration value
  ollamabridge config list                   List all configuration values

Examples:
  ollamabridge config set bridge.upstream http://localhost:11434
  ollamabridge config set models.cache_ttl 30s
  ollamabridge config get bridge.upstream
  ollamabridge config list`

const configShortDesc string = "Manage persistent bridge configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func validKeysArg(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

// printTarget reports which config file a subcommand is working on.
func printTarget(w io.Writer, cfger *config.Configer) {
	target := cfger.GetTarget()
	if target != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
	} else {
		fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
	}
}
