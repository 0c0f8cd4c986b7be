package configcmder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/ollamabridge/pkg/cliui"
	"github.com/papercomputeco/ollamabridge/pkg/config"
)

const initLongDesc string = `Write a config.toml from a backend preset.

Presets:
  cloud   https://ollama.com (the default backend)
  local   an Ollama daemon on http://localhost:11434

An existing config file is left alone unless --force is given.

Examples:
  ollamabridge config init --preset local
  ollamabridge config init --preset cloud --force`

const initShortDesc string = "Write a preset config file"

func newInitCmd() *cobra.Command {
	var (
		preset string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runInit(cmd.OutOrStdout(), preset, force, configDir)
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "cloud",
		fmt.Sprintf("Backend preset (%s)", strings.Join(config.ValidPresetNames(), ", ")))
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func runInit(w io.Writer, preset string, force bool, configDir string) error {
	cfg, err := config.PresetConfig(preset)
	if err != nil {
		return err
	}

	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	target := cfger.GetTarget()
	if _, err := os.Stat(target); err == nil && !force {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", target)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config file: %w", err)
	}

	if err := cfger.SaveConfig(cfg); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n  %s Wrote %s preset to %s\n\n",
		cliui.SuccessMark,
		cliui.KeyStyle.Render(preset),
		cliui.DimStyle.Render(target),
	)
	return nil
}
