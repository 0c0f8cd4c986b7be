// Package ollamabridgecmder
package ollamabridgecmder

import (
	"github.com/spf13/cobra"

	chatcmder "github.com/papercomputeco/ollamabridge/cmd/ollamabridge/chat"
	configcmder "github.com/papercomputeco/ollamabridge/cmd/ollamabridge/config"
	modelscmder "github.com/papercomputeco/ollamabridge/cmd/ollamabridge/models"
	servecmder "github.com/papercomputeco/ollamabridge/cmd/ollamabridge/serve"
	versioncmder "github.com/papercomputeco/ollamabridge/cmd/ollamabridge/version"
)

const ollamabridgeLongDesc string = `ollamabridge serves the OpenAI chat completions API from an Ollama backend.

Clients written for OpenAI talk to the bridge; the bridge rewrites their
requests into Ollama's chat format and streams the answers back as OpenAI
chunks.

Run the bridge using:
  ollamabridge serve            Run the bridge and its admin API
  ollamabridge chat             Chat through a running bridge
  ollamabridge models           List models through a running bridge`

const ollamabridgeShortDesc string = "ollamabridge - OpenAI API for Ollama"

func NewOllamaBridgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ollamabridge",
		Short:        ollamabridgeShortDesc,
		Long:         ollamabridgeLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Directory holding config.toml (default: ./.ollamabridge or ~/.ollamabridge)")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(modelscmder.NewModelsCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
