package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"mercator-hq/relay/pkg/providers"
)

// copyBufferSize is the read size used when relaying response bodies.
const copyBufferSize = 32 * 1024

// Handler serves proxied requests over HTTP.
type Handler struct {
	coordinator *Coordinator
	logger      *slog.Logger
}

// NewHandler creates an HTTP handler around c.
func NewHandler(c *Coordinator) *Handler {
	return &Handler{
		coordinator: c,
		logger:      slog.Default().With("component", "proxy.handler"),
	}
}

// ServeHTTP proxies the request and relays the upstream response, flushing
// after every chunk so server-sent events stream through.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := h.coordinator.Handle(r.Context(), r)
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			h.logger.DebugContext(r.Context(), "client went away before the upstream answered")
			return
		}
		WriteError(w, err)
		return
	}
	defer resp.Body.Close()

	dst := w.Header()
	for k, vv := range providers.CloneHeaders(resp.Header) {
		dst[k] = vv
	}
	if resp.ContentLength >= 0 && resp.Header.Get("Content-Length") != "" {
		dst.Set("Content-Length", resp.Header.Get("Content-Length"))
	}
	w.WriteHeader(resp.StatusCode)

	if err := copyResponse(w, resp.Body); err != nil && r.Context().Err() == nil {
		h.logger.WarnContext(r.Context(), "failed to relay upstream response", "error", err)
	}
}

func copyResponse(w http.ResponseWriter, src io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
