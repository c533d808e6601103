package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kbukum/ragflow/flow"
	"github.com/kbukum/ragflow/llm"
	"github.com/kbukum/ragflow/logger"
	"github.com/kbukum/ragflow/observability"
	"github.com/kbukum/ragflow/search"
)

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "json"}, "test")
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (s stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = s.EmbedText(ctx, texts[i])
	}
	return out, nil
}

type stubProvider struct {
	docs []search.Document
	err  error
}

func (s *stubProvider) SemanticSearch(context.Context, []float32, search.Options) ([]search.Document, error) {
	return s.docs, s.err
}

func (s *stubProvider) FullTextSearch(context.Context, string, search.Options) ([]search.Document, error) {
	return s.docs, s.err
}

func (s *stubProvider) HybridSearch(context.Context, string, []float32, search.Options) ([]search.Document, error) {
	return s.docs, s.err
}

type stubLLM struct {
	err error
}

func (stubLLM) Name() string                     { return "stub" }
func (stubLLM) IsAvailable(context.Context) bool { return true }

func (s stubLLM) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Content: "answer text", Model: "stub"}, nil
}

func (s stubLLM) CompleteStructured(ctx context.Context, req llm.CompletionRequest, _ any) (*llm.CompletionResponse, error) {
	return s.Complete(ctx, req)
}

func (stubLLM) Stream(context.Context, llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("not implemented")
}

func newTestServer(t *testing.T, provider *stubProvider, gen stubLLM) *Server {
	t.Helper()

	runs := flow.NewRunManager(testLogger())
	deps := search.Deps{
		Runs:     runs,
		Embedder: stubEmbedder{},
		Vector:   provider,
		LLM:      gen,
		Log:      testLogger(),
	}
	settings := search.Settings{VectorEnabled: true}

	sp, err := search.NewSearchPipeline(deps, settings)
	if err != nil {
		t.Fatalf("NewSearchPipeline: %v", err)
	}
	rag, err := search.NewRAGPipeline(deps, settings, search.GenerationConfig{})
	if err != nil {
		t.Fatalf("NewRAGPipeline: %v", err)
	}

	return New(Config{Mode: "test"}, Deps{
		Log:      testLogger(),
		Runs:     runs,
		Search:   sp,
		RAG:      rag,
		Defaults: settings,
		Service:  "ragflow",
		Version:  "test",
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSearchEndpoint(t *testing.T) {
	provider := &stubProvider{docs: []search.Document{{ID: "d1", Content: "doc one", Score: 0.9}}}
	srv := newTestServer(t, provider, stubLLM{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/retrieval/search", SearchRequest{
		Queries: []string{"what is rag"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RunID == "" {
		t.Error("response missing run id")
	}
	if len(resp.Results.VectorResults) != 1 {
		t.Errorf("vector results = %v, want 1 doc", resp.Results.VectorResults)
	}
	if resp.Results.GraphResults != nil {
		t.Errorf("graph results = %v, want omitted", resp.Results.GraphResults)
	}
}

func TestSearchEndpointRejectsEmptyQueries(t *testing.T) {
	srv := newTestServer(t, &stubProvider{}, stubLLM{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/retrieval/search", map[string]any{
		"queries": []string{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INVALID_INPUT") {
		t.Errorf("body %s missing error code", rec.Body.String())
	}
}

func TestSearchEndpointProviderError(t *testing.T) {
	srv := newTestServer(t, &stubProvider{err: errors.New("index offline")}, stubLLM{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/retrieval/search", SearchRequest{
		Queries: []string{"q"},
	})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestRAGEndpoint(t *testing.T) {
	provider := &stubProvider{docs: []search.Document{{ID: "d1", Content: "context doc"}}}
	srv := newTestServer(t, provider, stubLLM{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/retrieval/rag", RAGRequest{
		Queries: []string{"q1", "q2"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp RAGResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Answers) != 2 {
		t.Fatalf("answers = %v, want 2", resp.Answers)
	}
	first, ok := resp.Answers[0].(map[string]any)
	if !ok {
		t.Fatalf("answer type = %T", resp.Answers[0])
	}
	if first["query"] != "q1" || first["text"] != "answer text" {
		t.Errorf("first answer = %v", first)
	}
}

func TestRAGEndpointStream(t *testing.T) {
	provider := &stubProvider{docs: []search.Document{{ID: "d1", Content: "context doc"}}}
	srv := newTestServer(t, provider, stubLLM{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/retrieval/rag", RAGRequest{
		Queries: []string{"q1", "q2"},
		Stream:  true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}

	body := rec.Body.String()
	if got := strings.Count(body, "event: answer\n"); got != 2 {
		t.Errorf("answer events = %d, want 2\nbody: %s", got, body)
	}
	if !strings.Contains(body, "event: done\n") {
		t.Errorf("body missing done event: %s", body)
	}
	// Answers stream in input order.
	if strings.Index(body, `"query":"q1"`) > strings.Index(body, `"query":"q2"`) {
		t.Errorf("answers out of order: %s", body)
	}
}

func TestRAGEndpointStreamError(t *testing.T) {
	srv := newTestServer(t, &stubProvider{err: errors.New("index offline")}, stubLLM{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/retrieval/rag", RAGRequest{
		Queries: []string{"q1"},
		Stream:  true,
	})
	// The failure happens mid-stream, after headers are committed.
	if !strings.Contains(rec.Body.String(), "event: error\n") {
		t.Errorf("body missing error event: %s", rec.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubProvider{}, stubLLM{})
	srv.deps.Health = []observability.HealthChecker{
		PingChecker{Name: "postgres", Ping: func(context.Context) error { return nil }},
		AvailabilityChecker{Name: "ollama", Check: func(context.Context) bool { return true }},
	}

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var health observability.ServiceHealth
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != observability.HealthStatusUp {
		t.Errorf("status = %q, want up", health.Status)
	}
	if len(health.Components) != 2 {
		t.Errorf("components = %v, want 2", health.Components)
	}
}

func TestHealthEndpointDown(t *testing.T) {
	srv := newTestServer(t, &stubProvider{}, stubLLM{})
	srv.deps.Health = []observability.HealthChecker{
		PingChecker{Name: "postgres", Ping: func(context.Context) error { return errors.New("no route") }},
	}

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHealthEndpointDegraded(t *testing.T) {
	srv := newTestServer(t, &stubProvider{}, stubLLM{})
	srv.deps.Health = []observability.HealthChecker{
		AvailabilityChecker{Name: "ollama", Check: func(context.Context) bool { return false }},
	}

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	// Degraded still serves traffic.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var health observability.ServiceHealth
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != observability.HealthStatusDegraded {
		t.Errorf("status = %q, want degraded", health.Status)
	}
}
