package sse

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewWriterSetsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	if _, err := NewWriter(rec); err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	h := rec.Header()
	if ct := h.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if cc := h.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("cache control = %q", cc)
	}
	if ab := h.Get("X-Accel-Buffering"); ab != "no" {
		t.Errorf("accel buffering = %q", ab)
	}
}

func TestSendFormatsEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	if err := w.Send("answer", map[string]string{"text": "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: answer\n") {
		t.Errorf("body %q missing event line", body)
	}
	if !strings.Contains(body, `data: {"text":"hi"}`) {
		t.Errorf("body %q missing data line", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Errorf("body %q missing event terminator", body)
	}
	if !rec.Flushed {
		t.Error("event not flushed")
	}
}

func TestSendUnmarshalableValue(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Send("answer", make(chan int)); err == nil {
		t.Error("Send accepted an unmarshalable value")
	}
}

func TestComment(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Comment("keepalive"); err != nil {
		t.Fatalf("Comment: %v", err)
	}
	if !strings.HasPrefix(rec.Body.String(), ": keepalive\n\n") {
		t.Errorf("body = %q, want comment line", rec.Body.String())
	}
}

func TestNewWriterRequiresFlusher(t *testing.T) {
	// httptest.ResponseRecorder always implements Flusher; wrap it so the
	// interface is hidden.
	if _, err := NewWriter(plainWriter{httptest.NewRecorder()}); err == nil {
		t.Error("NewWriter accepted a non-flushing writer")
	}
}

// plainWriter forwards ResponseWriter methods but hides Flush.
type plainWriter struct {
	rec *httptest.ResponseRecorder
}

func (p plainWriter) Header() http.Header         { return p.rec.Header() }
func (p plainWriter) Write(b []byte) (int, error) { return p.rec.Write(b) }
func (p plainWriter) WriteHeader(code int)        { p.rec.WriteHeader(code) }
