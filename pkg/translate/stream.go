package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/ollama"
	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/openai"
	"github.com/papercomputeco/ollamabridge/pkg/ndjson"
	"github.com/papercomputeco/ollamabridge/pkg/sse"
)

// ErrMalformedRecord is returned by DecodeRecord for lines that are not a
// JSON object.
var ErrMalformedRecord = errors.New("malformed stream record")

// StreamResult summarizes a finished stream for the usage ledger.
type StreamResult struct {
	ChatID       string
	Model        string
	Created      int64
	FinishReason string
	Usage        openai.Usage

	// Chunks is the number of SSE chunk events written.
	Chunks int

	// Skipped is the number of non-blank lines dropped as malformed.
	Skipped int
}

// StreamTranscoder drives an Ollama NDJSON response through MapChunk and
// writes the result to a client as an OpenAI SSE stream.
type StreamTranscoder struct {
	logger      *slog.Logger
	maxLineSize int
	newState    func() *StreamState
}

// StreamOption configures a StreamTranscoder.
type StreamOption func(*StreamTranscoder)

// WithMaxLineSize bounds the size of a single backend record.
func WithMaxLineSize(n int) StreamOption {
	return func(t *StreamTranscoder) {
		t.maxLineSize = n
	}
}

// WithStateFactory overrides how per-stream state is created.
func WithStateFactory(f func() *StreamState) StreamOption {
	return func(t *StreamTranscoder) {
		t.newState = f
	}
}

// NewStreamTranscoder creates a StreamTranscoder logging to logger.
func NewStreamTranscoder(logger *slog.Logger, opts ...StreamOption) *StreamTranscoder {
	t := &StreamTranscoder{
		logger:      logger,
		maxLineSize: ndjson.DefaultMaxLineSize,
		newState:    NewStreamState,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transcode reads records from src until end of stream and writes one SSE
// event per record to dst, followed by the [DONE] sentinel.
//
// Each event is written before the next read, so a slow dst throttles src.
// Both src and dst are closed on every return path. Cancelling ctx closes src,
// which unblocks a pending read; the context error is then returned. When dst
// supports CloseWithError (an *io.PipeWriter) a failure is propagated to its
// reader.
func (t *StreamTranscoder) Transcode(ctx context.Context, src io.ReadCloser, dst io.WriteCloser) (result *StreamResult, err error) {
	stop := context.AfterFunc(ctx, func() {
		src.Close()
	})
	defer func() {
		stop()
		src.Close()
		closeWithError(dst, err)
	}()

	state := t.newState()
	result = &StreamResult{
		ChatID:  state.ChatID(),
		Created: state.Created(),
	}

	lines := ndjson.NewReaderSize(src, t.maxLineSize)
	out := sse.NewWriter(dst)

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}

		line, readErr := lines.Next()
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			return result, fmt.Errorf("reading backend stream: %w", readErr)
		}

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		rec, decodeErr := DecodeRecord(line)
		if decodeErr != nil {
			result.Skipped++
			t.logger.Warn("skipping malformed stream record",
				"chat_id", result.ChatID,
				"error", decodeErr,
				"line", truncate(line, 256),
			)
			continue
		}

		chunk := MapChunk(rec, state)
		if chunk == nil {
			continue
		}

		if writeErr := out.WriteJSON(chunk); writeErr != nil {
			return result, fmt.Errorf("writing sse chunk: %w", writeErr)
		}
		result.observe(chunk)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}

	if writeErr := out.Done(); writeErr != nil {
		return result, fmt.Errorf("writing sse terminator: %w", writeErr)
	}

	t.logger.Debug("stream complete",
		"chat_id", result.ChatID,
		"model", result.Model,
		"chunks", result.Chunks,
		"skipped", result.Skipped,
		"finish_reason", result.FinishReason,
	)

	return result, nil
}

func (r *StreamResult) observe(chunk *openai.ChatCompletionChunk) {
	r.Chunks++
	r.Model = chunk.Model
	r.Usage = chunk.Usage
	if fr := chunk.Choices[0].FinishReason; fr != nil {
		r.FinishReason = *fr
	}
}

// DecodeRecord parses one NDJSON line into an Ollama chat record. Anything
// other than a JSON object is rejected.
func DecodeRecord(line []byte) (*ollama.ChatResponse, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrMalformedRecord
	}

	var rec ollama.ChatResponse
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	return &rec, nil
}

type closeWithErrorer interface {
	CloseWithError(err error) error
}

func closeWithError(w io.WriteCloser, err error) {
	if cw, ok := w.(closeWithErrorer); ok && err != nil {
		cw.CloseWithError(err)
		return
	}
	w.Close()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
