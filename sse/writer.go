package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Writer streams SSE events to one HTTP response.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares a response for SSE streaming: it verifies flushing
// support, disables the server's write deadline (streams are long-lived
// and must not be cut by WriteTimeout), and sets the SSE headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support streaming")
	}

	rc := http.NewResponseController(w)
	// Best effort: the connection may still work with keep-alives.
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// Send marshals v as JSON and writes it as one SSE event, flushing
// immediately.
func (s *Writer) Send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("sse: write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Comment writes an SSE comment line. Comments keep the connection alive
// through proxies and load balancers.
func (s *Writer) Comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("sse: write comment: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// KeepAlive writes a timestamped keep-alive comment.
func (s *Writer) KeepAlive() error {
	return s.Comment(fmt.Sprintf("keepalive %d", time.Now().Unix()))
}
