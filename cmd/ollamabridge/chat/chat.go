// Package chatcmder provides the chat command, an interactive client for a
// running bridge's OpenAI-compatible chat endpoint.
package chatcmder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/ollamabridge/pkg/cliui"
	"github.com/papercomputeco/ollamabridge/pkg/config"
	"github.com/papercomputeco/ollamabridge/pkg/dotdir"
	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/openai"
	"github.com/papercomputeco/ollamabridge/pkg/logger"
	"github.com/papercomputeco/ollamabridge/pkg/sse"
	"github.com/papercomputeco/ollamabridge/pkg/utils"
)

type chatCommander struct {
	bridgeTarget string
	model        string
	apiKey       string
	configDir    string
	showWire     bool
	newSession   bool
	debug        bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	client *http.Client
	logger *slog.Logger
}

// turn is what one streamed reply produced.
type turn struct {
	content   string
	toolCalls []openai.ToolCallItem
	finish    string
}

const chatLongDesc string = `Start an interactive chat session through a running bridge.

Messages are sent to the bridge's /v1/chat/completions endpoint as streaming
OpenAI chat completion requests and the reply is printed as it arrives.

The conversation is saved to the .ollamabridge/ directory after every turn
and resumed on the next start. Use --new to start fresh.

Commands inside the session:
  /reset   forget the conversation so far
  /exit    quit (Ctrl+D also works)

Examples:
  ollamabridge chat --model llama3.2
  ollamabridge chat --model qwen2.5:7b --bridge-target http://localhost:8080
  ollamabridge chat --show-wire`

const chatShortDesc string = "Interactive chat through the bridge"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.ClientFlags, []string{config.FlagBridgeTarget})
			cmder.bridgeTarget = strings.TrimSuffix(v.GetString("client.bridge_target"), "/")
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			cmder.errOut = cmd.ErrOrStderr()
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.ClientFlags, config.FlagBridgeTarget, &cmder.bridgeTarget)
	cmd.Flags().StringVarP(&cmder.model, "model", "m", "llama3.2", "Model name (e.g., llama3.2, qwen2.5:7b)")
	cmd.Flags().StringVar(&cmder.apiKey, "api-key", "", "Bearer token sent to the bridge")
	cmd.Flags().BoolVar(&cmder.showWire, "show-wire", false, "Copy the raw event stream to stderr")
	cmd.Flags().BoolVar(&cmder.newSession, "new", false, "Discard the saved conversation and start fresh")

	return cmd
}

func (c *chatCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.logger == nil {
		c.logger = logger.New(logger.WithDebug(c.debug), logger.WithPretty(true), logger.WithWriter(c.errOut))
	}
	if c.client == nil {
		// LLM responses can be slow
		c.client = &http.Client{Timeout: 5 * time.Minute}
	}

	ddm := dotdir.NewManager()
	if c.newSession {
		if err := ddm.ClearSession(c.configDir); err != nil {
			return fmt.Errorf("clearing session: %w", err)
		}
	}

	session, err := ddm.LoadSession(c.configDir)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	var history []dotdir.SessionMessage
	fmt.Fprintln(c.out)
	if session != nil && len(session.Messages) > 0 {
		history = session.Messages
		fmt.Fprintf(c.out, "  %s Resuming conversation %s\n",
			cliui.SuccessMark,
			cliui.DimStyle.Render(fmt.Sprintf("(%d messages)", len(history))),
		)
	} else {
		fmt.Fprintf(c.out, "  %s New conversation\n", cliui.DimStyle.Render("●"))
	}

	fmt.Fprintf(c.out, "  %s %s\n\n",
		cliui.KeyStyle.Render("Model:"),
		cliui.ValueStyle.Render(c.model),
	)
	fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /reset to start over, /exit or Ctrl+D to quit."))

	scanner := bufio.NewScanner(c.in)

	for {
		fmt.Fprint(c.out, cliui.UserStyle.Render("you> "))
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/exit":
			fmt.Fprintln(c.out)
			return scanner.Err()
		case "/reset":
			history = nil
			if err := ddm.ClearSession(c.configDir); err != nil {
				return fmt.Errorf("clearing session: %w", err)
			}
			fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("Conversation cleared."))
			continue
		}

		history = append(history, dotdir.SessionMessage{Role: "user", Content: input})

		reply, err := c.sendAndStream(ctx, history)
		if err != nil {
			fmt.Fprintf(c.errOut, "  %s %s\n", cliui.FailMark, cliui.ErrorStyle.Render(err.Error()))
			// Drop the failed user message so it can be retried.
			history = history[:len(history)-1]
			continue
		}

		history = append(history, dotdir.SessionMessage{Role: "assistant", Content: reply.content})
		fmt.Fprint(c.out, "\n\n")

		if err := ddm.SaveSession(&dotdir.ChatSession{Model: c.model, Messages: history}, c.configDir); err != nil {
			c.logger.Warn("could not save chat session", "error", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Fprintln(c.out)
	return nil
}

// buildRequest turns the conversation into a streaming chat request body.
func (c *chatCommander) buildRequest(history []dotdir.SessionMessage) ([]byte, error) {
	stream := true
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: make([]openai.Message, 0, len(history)),
		Stream:   &stream,
	}

	for _, msg := range history {
		content, err := json.Marshal(msg.Content)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, openai.Message{Role: msg.Role, Content: content})
	}

	return json.Marshal(req)
}

// sendAndStream posts the conversation to the bridge and prints the reply
// as it streams in.
func (c *chatCommander) sendAndStream(ctx context.Context, history []dotdir.SessionMessage) (*turn, error) {
	body, err := c.buildRequest(history)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	c.logger.Debug("sending chat request",
		"bridge_target", c.bridgeTarget,
		"model", c.model,
		"message_count", len(history),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.bridgeTarget+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bridge returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	wire := io.Discard
	if c.showWire {
		wire = c.errOut
	}
	reader := sse.NewTeeReader(resp.Body, wire)

	fmt.Fprint(c.out, cliui.AssistantStyle.Render("assistant> "))

	result, err := c.consume(reader)
	if err != nil {
		return nil, err
	}

	for _, tc := range result.toolCalls {
		fmt.Fprintf(c.out, "\n  %s %s",
			cliui.ToolStyle.Render("⚙ "+tc.Function.Name),
			cliui.DimStyle.Render(tc.Function.Arguments),
		)
	}
	if result.finish == openai.FinishReasonLength {
		fmt.Fprintf(c.out, "\n  %s", cliui.DimStyle.Render("(truncated)"))
	}

	return result, nil
}

// consume reads chunks until the [DONE] sentinel, printing content deltas
// and gathering tool calls by index.
func (c *chatCommander) consume(reader *sse.Reader) (*turn, error) {
	var (
		content strings.Builder
		result  turn
		byIndex = map[int]int{}
	)

	for {
		ev, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("reading stream: %w", err)
		}
		if ev == nil {
			return nil, errors.New("stream ended before [DONE]")
		}
		if ev.IsDone() {
			break
		}

		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			c.logger.Debug("failed to parse stream chunk", "error", err, "data", utils.Truncate(ev.Data, 200))
			continue
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				fmt.Fprint(c.out, choice.Delta.Content)
				content.WriteString(choice.Delta.Content)
			}

			for _, item := range choice.Delta.ToolCalls {
				pos, ok := byIndex[item.Index]
				if !ok {
					byIndex[item.Index] = len(result.toolCalls)
					result.toolCalls = append(result.toolCalls, item)
					continue
				}
				result.toolCalls[pos].Function.Arguments += item.Function.Arguments
			}

			if choice.FinishReason != nil {
				result.finish = *choice.FinishReason
			}
		}
	}

	result.content = content.String()
	return &result, nil
}
