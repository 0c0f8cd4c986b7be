// Package modelscmder provides the models command, which lists the models a
// running bridge exposes.
package modelscmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/ollamabridge/pkg/cliui"
	"github.com/papercomputeco/ollamabridge/pkg/config"
	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/openai"
)

type modelsCommander struct {
	bridgeTarget string
	apiKey       string
	jsonOut      bool

	out    io.Writer
	client *http.Client
}

const modelsLongDesc string = `List the models a running bridge exposes on /v1/models.

The list comes from the backend's model catalog, translated by the bridge.

Examples:
  ollamabridge models
  ollamabridge models --bridge-target http://localhost:8080 --json`

const modelsShortDesc string = "List models available through the bridge"

func NewModelsCmd() *cobra.Command {
	cmder := &modelsCommander{}

	cmd := &cobra.Command{
		Use:   "models",
		Short: modelsShortDesc,
		Long:  modelsLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.ClientFlags, []string{config.FlagBridgeTarget})
			cmder.bridgeTarget = strings.TrimSuffix(v.GetString("client.bridge_target"), "/")
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.out = cmd.OutOrStdout()
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.ClientFlags, config.FlagBridgeTarget, &cmder.bridgeTarget)
	cmd.Flags().StringVar(&cmder.apiKey, "api-key", "", "Bearer token sent to the bridge")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Print the raw model list JSON")

	return cmd
}

func (c *modelsCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 30 * time.Second}
	}

	if c.jsonOut {
		list, err := c.fetch(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	var list *openai.ModelList
	fmt.Fprintln(c.out)
	err := cliui.Step(c.out, "Fetching models from "+c.bridgeTarget, func() error {
		var err error
		list, err = c.fetch(ctx)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out)

	if len(list.Data) == 0 {
		fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("No models available."))
		return nil
	}

	width := 0
	for _, m := range list.Data {
		width = max(width, len(m.ID))
	}

	for _, m := range list.Data {
		fmt.Fprintf(c.out, "  %s  %s  %s\n",
			cliui.KeyStyle.Render(fmt.Sprintf("%-*s", width, m.ID)),
			cliui.ValueStyle.Render(m.OwnedBy),
			cliui.DimStyle.Render(time.Unix(m.Created, 0).UTC().Format(time.DateOnly)),
		)
	}
	fmt.Fprintln(c.out)

	return nil
}

func (c *modelsCommander) fetch(ctx context.Context) (*openai.ModelList, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.bridgeTarget+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting models: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading models: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bridge returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var list openai.ModelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}
	return &list, nil
}
