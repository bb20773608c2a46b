package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// BufferedBody is a request body read once and replayed for every attempt.
// The captured bytes are never modified after creation.
type BufferedBody struct {
	data []byte
}

// NewBufferedBody wraps data. The caller must not modify data afterwards.
func NewBufferedBody(data []byte) *BufferedBody {
	if data == nil {
		data = []byte{}
	}
	return &BufferedBody{data: data}
}

// Bytes returns the captured body. Callers must treat it as read-only.
func (b *BufferedBody) Bytes() []byte {
	return b.data
}

// Len returns the body size in bytes.
func (b *BufferedBody) Len() int {
	return len(b.data)
}

// NewStream returns a fresh reader over the captured bytes. Each call is
// independent of every other.
func (b *BufferedBody) NewStream() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b.data))
}

// PrepareRequestBody reads the request body into memory. A request without a
// body yields an empty buffer. When the server bounds the body with
// http.MaxBytesReader, exceeding the bound returns *RequestTooLargeError.
func PrepareRequestBody(r *http.Request) (*BufferedBody, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return NewBufferedBody(nil), nil
	}
	defer r.Body.Close()

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &RequestTooLargeError{Limit: maxErr.Limit}
		}
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return NewBufferedBody(data), nil
}
