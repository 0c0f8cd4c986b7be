// Package proxy provides the HTTP bridge that serves OpenAI style chat
// clients from an Ollama backend.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/papercomputeco/ollamabridge/pkg/eventstream"
	"github.com/papercomputeco/ollamabridge/pkg/llm"
	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/ollama"
	"github.com/papercomputeco/ollamabridge/pkg/storage"
	"github.com/papercomputeco/ollamabridge/pkg/translate"
	"github.com/papercomputeco/ollamabridge/pkg/usage"
	"github.com/papercomputeco/ollamabridge/proxy/header"
	"github.com/papercomputeco/ollamabridge/proxy/worker"
)

const (
	modelsPath = "/v1/models"
	chatPath   = "/v1/chat/completions"
)

// Proxy translates OpenAI chat completion traffic to an Ollama backend and
// back. Completed chats are enqueued on a worker pool for the usage ledger.
type Proxy struct {
	config        Config
	workerPool    *worker.Pool
	logger        *slog.Logger
	httpClient    *http.Client
	server        *fiber.App
	headerHandler *header.Handler
	models        *ristretto.Cache[string, []byte]

	// streams in flight; Close waits for them before closing the pool
	streamsWG sync.WaitGroup

	requests *translate.RequestTranscoder
	streams  *translate.StreamTranscoder
	catalog  *translate.ModelListTranscoder
}

// New creates a new Proxy.
// The driver receives usage records; publisher may be nil.
func New(config Config, driver storage.Driver, publisher eventstream.Publisher, logger *slog.Logger) (*Proxy, error) {
	if config.UpstreamURL == "" {
		return nil, errors.New("upstream URL is required")
	}
	config.UpstreamURL = strings.TrimRight(config.UpstreamURL, "/")
	config.setDefaults()

	wp, err := worker.NewPool(&worker.Config{
		Driver:    driver,
		Publisher: publisher,
		Source: eventstream.EventSource{
			Instance: config.Instance,
			Upstream: config.UpstreamURL,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	p := &Proxy{
		config:        config,
		workerPool:    wp,
		logger:        logger,
		headerHandler: header.NewHandler(config.APIKey),
		// Timeouts are applied per request through the context so that a
		// streamed body is bounded by the same limit.
		httpClient: &http.Client{},
		requests:   translate.NewRequestTranscoder(logger),
		streams:    translate.NewStreamTranscoder(logger),
		catalog:    translate.NewModelListTranscoder(config.OwnedBy),
	}

	if config.ModelsCacheTTL > 0 {
		p.models, err = ristretto.NewCache(&ristretto.Config[string, []byte]{
			NumCounters: 1e4,
			MaxCost:     1 << 10,
			BufferItems: 64,
		})
		if err != nil {
			wp.Close()
			return nil, fmt.Errorf("could not create models cache: %w", err)
		}
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		ErrorHandler:          p.handleError,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type, Authorization",
		MaxAge:       86400,
	}))

	// Compression buffers the whole body, which would hold back SSE events.
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == chatPath
		},
	}))

	app.Options("/*", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	app.Get(modelsPath, p.handleModels)
	app.Post(chatPath, p.handleChat)
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "Endpoint not found"})
	})

	p.server = app
	return p, nil
}

// Run starts the proxy server on the given listening address
func (p *Proxy) Run() error {
	p.logger.Info("starting bridge server",
		"listen", p.config.ListenAddr,
		"upstream", p.config.UpstreamURL,
	)

	return p.server.Listen(p.config.ListenAddr)
}

// RunWithListener starts the proxy server using the provided listener.
func (p *Proxy) RunWithListener(listener net.Listener) error {
	p.logger.Info("starting bridge server",
		"listen", listener.Addr().String(),
		"upstream", p.config.UpstreamURL,
	)

	return p.server.Listener(listener)
}

// Close gracefully shuts down the proxy and waits for the worker pool to drain
func (p *Proxy) Close() error {
	err := p.server.Shutdown()
	p.streamsWG.Wait()
	p.workerPool.Close()
	if p.models != nil {
		p.models.Close()
	}
	return err
}

// handleError renders errors returned by handlers in the JSON envelope.
func (p *Proxy) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(llm.ErrorResponse{Error: fe.Message})
	}

	p.logger.Error("request failed", "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{
		Error: "Internal server error: " + err.Error(),
	})
}

// handleModels serves GET /v1/models from the backend tag catalog.
func (p *Proxy) handleModels(c *fiber.Ctx) error {
	cacheKey := c.Get(fiber.HeaderAuthorization)
	if p.models != nil {
		if body, ok := p.models.Get(cacheKey); ok {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(body)
		}
	}

	ctx, cancel := context.WithTimeout(c.Context(), p.config.UpstreamTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UpstreamURL+ollama.TagsPath, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating upstream request: %w", err)
	}
	p.headerHandler.SetUpstreamRequestHeaders(c, httpReq)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return p.upstreamFailed(c, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return p.upstreamFailed(c, err)
	}

	if !isSuccess(httpResp.StatusCode) {
		return p.passthrough(c, httpResp, respBody)
	}

	body, err := json.Marshal(p.catalog.Transcode(respBody))
	if err != nil {
		return fmt.Errorf("encoding model list: %w", err)
	}

	if p.models != nil {
		p.models.SetWithTTL(cacheKey, body, 1, p.config.ModelsCacheTTL)
		p.models.Wait()
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}

// handleChat serves POST /v1/chat/completions.
func (p *Proxy) handleChat(c *fiber.Ctx) error {
	startTime := time.Now()

	// fasthttp reuses the request buffer once the handler returns.
	body, req := p.requests.TranscodeBody(bytes.Clone(c.Body()))

	// An untranslated body is still answered as a stream, the backend's
	// default.
	streaming := req == nil || req.Stream
	model := ""
	if req != nil {
		model = req.Model
		p.logger.Debug("translated chat request",
			"model", req.Model,
			"message_count", len(req.Messages),
			"tool_count", len(req.Tools),
			"stream", req.Stream,
		)
	}

	// The streamed body outlives the fasthttp request context, so the
	// backend exchange gets its own deadline.
	var parent context.Context = c.Context()
	if streaming {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, p.config.UpstreamTimeout)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.UpstreamURL+ollama.ChatPath, bytes.NewReader(body))
	if err != nil {
		cancel()
		return fmt.Errorf("creating upstream request: %w", err)
	}
	p.headerHandler.SetUpstreamRequestHeaders(c, httpReq)
	httpReq.Header.Set("Content-Type", fiber.MIMEApplicationJSON)

	p.logger.Debug("forwarding chat request to upstream",
		"url", httpReq.URL.String(),
		"stream", streaming,
	)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return p.upstreamFailed(c, err)
	}

	if !isSuccess(httpResp.StatusCode) {
		defer cancel()
		defer httpResp.Body.Close()
		respBody, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return p.upstreamFailed(c, err)
		}
		p.logger.Warn("upstream returned error",
			"status", httpResp.StatusCode,
			"body", string(respBody),
		)
		return p.passthrough(c, httpResp, respBody)
	}

	if streaming {
		return p.handleStream(c, ctx, cancel, httpResp, model, startTime)
	}

	defer cancel()
	return p.handleCompletion(c, httpResp, model, startTime)
}

// handleStream pipes the backend NDJSON body through the stream transcoder
// into the client response.
func (p *Proxy) handleStream(c *fiber.Ctx, ctx context.Context, cancel context.CancelFunc, httpResp *http.Response, model string, startTime time.Time) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	// io.Pipe gives backpressure: each event write blocks until fasthttp has
	// taken it for the socket, so backend reads follow the client's pace.
	pr, pw := io.Pipe()
	p.streamsWG.Add(1)
	go func() {
		defer p.streamsWG.Done()
		defer cancel()

		result, err := p.streams.Transcode(ctx, httpResp.Body, pw)
		if err != nil {
			p.logger.Warn("stream ended early",
				"model", model,
				"chunks", result.Chunks,
				"error", err,
			)
		}
		if result.Chunks == 0 {
			return
		}

		rec := newRecord(result.ChatID, result.Model, result.Usage.PromptTokens, result.Usage.CompletionTokens, result.FinishReason, startTime)
		rec.Streaming = true
		rec.Skipped = result.Skipped
		if rec.Model == "" {
			rec.Model = model
		}
		p.enqueue(rec)
	}()

	// Unknown size (-1) selects chunked transfer encoding.
	c.Context().Response.SetBodyStream(pr, -1)
	return nil
}

// handleCompletion answers a stream:false request with a single
// chat.completion object.
func (p *Proxy) handleCompletion(c *fiber.Ctx, httpResp *http.Response, model string, startTime time.Time) error {
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return p.upstreamFailed(c, err)
	}

	completion, err := translate.Aggregate(respBody, translate.NewStreamState())
	if err != nil {
		p.logger.Warn("could not translate upstream response", "model", model, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: err.Error()})
	}

	finish := ""
	if fr := completion.Choices[0].FinishReason; fr != nil {
		finish = *fr
	}
	rec := newRecord(completion.ID, completion.Model, completion.Usage.PromptTokens, completion.Usage.CompletionTokens, finish, startTime)
	if rec.Model == "" {
		rec.Model = model
	}
	p.enqueue(rec)

	return c.JSON(completion)
}

// passthrough relays a backend response untranslated.
func (p *Proxy) passthrough(c *fiber.Ctx, httpResp *http.Response, body []byte) error {
	p.headerHandler.SetClientResponseHeaders(c, httpResp)
	return c.Status(httpResp.StatusCode).Send(body)
}

func (p *Proxy) upstreamFailed(c *fiber.Ctx, err error) error {
	p.logger.Error("upstream request failed", "error", err)
	return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{
		Error: "Internal server error: " + err.Error(),
	})
}

func (p *Proxy) enqueue(rec *usage.Record) {
	// Drops are logged by the pool.
	p.workerPool.Enqueue(worker.Job{Record: rec})
}

func newRecord(id, model string, prompt, completion int, finish string, startTime time.Time) *usage.Record {
	return &usage.Record{
		ID:               id,
		Model:            model,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		FinishReason:     finish,
		Status:           fiber.StatusOK,
		StartedAt:        startTime,
		Duration:         time.Since(startTime),
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
