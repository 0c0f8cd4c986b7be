package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Writer frames payloads as SSE "data:" events on an underlying io.Writer.
//
// Each event is assembled in memory and handed to the destination in a single
// Write so a reader on the other end of a pipe never observes half an event.
// If the destination implements http.Flusher it is flushed after every event.
type Writer struct {
	dst io.Writer
	buf bytes.Buffer
	enc *json.Encoder
}

// NewWriter returns a Writer emitting events to dst.
func NewWriter(dst io.Writer) *Writer {
	w := &Writer{dst: dst}
	w.enc = json.NewEncoder(&w.buf)
	w.enc.SetEscapeHTML(false)
	return w
}

// WriteJSON encodes v as compact JSON and emits it as one data event.
func (w *Writer) WriteJSON(v any) error {
	w.buf.Reset()
	w.buf.WriteString("data: ")
	// Encode appends a newline, which together with the one below forms the
	// blank line that terminates the event.
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("encoding sse payload: %w", err)
	}
	w.buf.WriteByte('\n')
	return w.flush()
}

// WriteData emits data verbatim as one event. data must not contain newlines.
func (w *Writer) WriteData(data string) error {
	w.buf.Reset()
	w.buf.WriteString("data: ")
	w.buf.WriteString(data)
	w.buf.WriteString("\n\n")
	return w.flush()
}

// Done emits the end-of-stream sentinel event.
func (w *Writer) Done() error {
	return w.WriteData(DoneSentinel)
}

func (w *Writer) flush() error {
	if _, err := w.dst.Write(w.buf.Bytes()); err != nil {
		return err
	}
	if f, ok := w.dst.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
