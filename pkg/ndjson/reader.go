// Package ndjson reads newline-delimited records, such as the streamed
// /api/chat output of an Ollama backend, from an open byte stream.
//
// A record is only handed out once its terminating newline has been read, no
// matter how the underlying reads split the bytes. Splitting happens on the
// raw '\n' byte, which never occurs inside a multi-byte UTF-8 sequence, so a
// code point broken across two reads is reassembled intact.
package ndjson

import (
	"bufio"
	"errors"
	"io"
)

// DefaultMaxLineSize bounds the memory held for a single pending record.
const DefaultMaxLineSize = 8 * 1024 * 1024

// ErrLineTooLong is returned when a record exceeds the reader's maximum size
// before a newline is seen.
var ErrLineTooLong = errors.New("ndjson: line exceeds maximum size")

// Reader yields newline-terminated records from a source io.Reader.
//
// ┌──────────────────┐    ┌──────────────────┐    ┌──────────────┐
// │ source io.Reader │───▶│ pending fragment │───▶│ Reader.Next()│
// └──────────────────┘    └──────────────────┘    └──────────────┘
//
// A Reader is consumed once; after Next returns an error every later call
// returns the same error.
type Reader struct {
	br      *bufio.Reader
	maxSize int
	pending []byte
	err     error
}

// NewReader returns a Reader bounded by DefaultMaxLineSize.
func NewReader(src io.Reader) *Reader {
	return NewReaderSize(src, DefaultMaxLineSize)
}

// NewReaderSize returns a Reader that fails with ErrLineTooLong once a single
// record grows beyond maxSize bytes.
func NewReaderSize(src io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxLineSize
	}

	return &Reader{
		br:      bufio.NewReaderSize(src, 64*1024),
		maxSize: maxSize,
	}
}

// Next blocks until a complete record is available and returns it without
// its trailing newline. The returned slice is only valid until the next call.
//
// When the source is exhausted, any unterminated trailing fragment is
// discarded and io.EOF is returned.
func (r *Reader) Next() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}

	r.pending = r.pending[:0]
	for {
		frag, err := r.br.ReadSlice('\n')
		if len(r.pending)+len(frag) > r.maxSize+1 {
			r.pending = r.pending[:0]
			r.err = ErrLineTooLong
			return nil, r.err
		}
		r.pending = append(r.pending, frag...)

		switch {
		case err == nil:
			return r.pending[:len(r.pending)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			r.pending = r.pending[:0]
			r.err = err
			return nil, err
		}
	}
}
