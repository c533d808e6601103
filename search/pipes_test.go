package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kbukum/ragflow/flow"
	"github.com/kbukum/ragflow/llm"
	"github.com/kbukum/ragflow/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "json"}, "test")
}

// fakeEmbedder returns a fixed-length vector derived from text length.
type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := f.EmbedText(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// fakeSearchProvider records which operation ran.
type fakeSearchProvider struct {
	lastOp string
	docs   []Document
	err    error
}

func (f *fakeSearchProvider) SemanticSearch(_ context.Context, vector []float32, _ Options) ([]Document, error) {
	f.lastOp = "semantic"
	if vector == nil {
		return nil, errors.New("nil vector")
	}
	return f.docs, f.err
}

func (f *fakeSearchProvider) FullTextSearch(_ context.Context, _ string, _ Options) ([]Document, error) {
	f.lastOp = "fulltext"
	return f.docs, f.err
}

func (f *fakeSearchProvider) HybridSearch(_ context.Context, _ string, _ []float32, _ Options) ([]Document, error) {
	f.lastOp = "hybrid"
	return f.docs, f.err
}

type fakeGraphProvider struct {
	docs []Document
	err  error
}

func (f *fakeGraphProvider) GraphSearch(_ context.Context, _ string, _ Options) ([]Document, error) {
	return f.docs, f.err
}

// fakeLLM echoes the prompt back so tests can inspect what was sent.
type fakeLLM struct {
	lastReq llm.CompletionRequest
	err     error
}

func (f *fakeLLM) Name() string                     { return "fake" }
func (f *fakeLLM) IsAvailable(context.Context) bool { return true }

func (f *fakeLLM) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: "generated answer", Model: "fake"}, nil
}

func (f *fakeLLM) CompleteStructured(ctx context.Context, req llm.CompletionRequest, _ any) (*llm.CompletionResponse, error) {
	return f.Complete(ctx, req)
}

func (f *fakeLLM) Stream(context.Context, llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("not implemented")
}

func testDeps(vector *fakeSearchProvider, graph *fakeGraphProvider, gen *fakeLLM) Deps {
	d := Deps{
		Runs:     flow.NewRunManager(testLogger()),
		Embedder: &fakeEmbedder{},
		Log:      testLogger(),
	}
	if vector != nil {
		d.Vector = vector
	}
	if graph != nil {
		d.Graph = graph
	}
	if gen != nil {
		d.LLM = gen
	}
	return d
}

func TestSettingsApplyDefaults(t *testing.T) {
	var s Settings
	s.ApplyDefaults()

	if s.Mode != ModeSemantic {
		t.Errorf("mode = %q, want semantic", s.Mode)
	}
	if s.Limit != 10 {
		t.Errorf("limit = %d, want 10", s.Limit)
	}
	if !s.VectorEnabled {
		t.Error("no branch enabled after defaults")
	}
}

func TestSearchPipelineSemantic(t *testing.T) {
	provider := &fakeSearchProvider{docs: []Document{
		{ID: "d1", Content: "first", Score: 0.9},
		{ID: "d2", Content: "second", Score: 0.7},
	}}
	sp, err := NewSearchPipeline(testDeps(provider, nil, nil), Settings{VectorEnabled: true})
	if err != nil {
		t.Fatalf("NewSearchPipeline: %v", err)
	}

	agg, err := sp.Run(context.Background(), []any{"what is rag"}, flow.SearchSettings{VectorEnabled: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if provider.lastOp != "semantic" {
		t.Errorf("provider op = %q, want semantic", provider.lastOp)
	}
	if len(agg.VectorResults) != 2 {
		t.Fatalf("vector results = %v, want 2 docs", agg.VectorResults)
	}
	if d := agg.VectorResults[0].(Document); d.ID != "d1" {
		t.Errorf("first doc = %+v, want d1", d)
	}
	if agg.GraphResults != nil {
		t.Errorf("graph results = %v, want nil", agg.GraphResults)
	}
}

func TestSearchPipelineFullTextSkipsEmbedding(t *testing.T) {
	provider := &fakeSearchProvider{docs: []Document{{ID: "d1"}}}
	deps := testDeps(provider, nil, nil)
	emb := deps.Embedder.(*fakeEmbedder)

	sp, err := NewSearchPipeline(deps, Settings{Mode: ModeFullText, VectorEnabled: true})
	if err != nil {
		t.Fatalf("NewSearchPipeline: %v", err)
	}
	if _, err := sp.Run(context.Background(), []any{"q"}, flow.SearchSettings{VectorEnabled: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if provider.lastOp != "fulltext" {
		t.Errorf("provider op = %q, want fulltext", provider.lastOp)
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times in full-text mode, want 0", emb.calls)
	}
}

func TestSearchPipelineHybrid(t *testing.T) {
	provider := &fakeSearchProvider{docs: []Document{{ID: "d1"}}}
	sp, err := NewSearchPipeline(testDeps(provider, nil, nil), Settings{Mode: ModeHybrid, VectorEnabled: true})
	if err != nil {
		t.Fatalf("NewSearchPipeline: %v", err)
	}
	if _, err := sp.Run(context.Background(), []any{"q"}, flow.SearchSettings{VectorEnabled: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if provider.lastOp != "hybrid" {
		t.Errorf("provider op = %q, want hybrid", provider.lastOp)
	}
}

func TestSearchPipelineBothBranches(t *testing.T) {
	vector := &fakeSearchProvider{docs: []Document{{ID: "v1"}}}
	graph := &fakeGraphProvider{docs: []Document{{ID: "g1"}, {ID: "g2"}}}

	sp, err := NewSearchPipeline(testDeps(vector, graph, nil), Settings{VectorEnabled: true, GraphEnabled: true})
	if err != nil {
		t.Fatalf("NewSearchPipeline: %v", err)
	}
	agg, err := sp.Run(context.Background(), []any{"q"}, flow.SearchSettings{VectorEnabled: true, GraphEnabled: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(agg.VectorResults) != 1 || len(agg.GraphResults) != 2 {
		t.Errorf("results = %d vector, %d graph; want 1 and 2", len(agg.VectorResults), len(agg.GraphResults))
	}
}

func TestSearchPipelineMissingProvider(t *testing.T) {
	if _, err := NewSearchPipeline(testDeps(nil, nil, nil), Settings{VectorEnabled: true}); err == nil {
		t.Error("vector branch without provider succeeded")
	}
	if _, err := NewSearchPipeline(testDeps(&fakeSearchProvider{}, nil, nil), Settings{VectorEnabled: true, GraphEnabled: true}); err == nil {
		t.Error("graph branch without provider succeeded")
	}
}

func TestSearchProviderErrorPropagates(t *testing.T) {
	boom := errors.New("index offline")
	sp, err := NewSearchPipeline(testDeps(&fakeSearchProvider{err: boom}, nil, nil), Settings{VectorEnabled: true})
	if err != nil {
		t.Fatalf("NewSearchPipeline: %v", err)
	}
	if _, err := sp.Run(context.Background(), []any{"q"}, flow.SearchSettings{VectorEnabled: true}); !errors.Is(err, boom) {
		t.Errorf("got %v, want provider error", err)
	}
}

func TestRAGPipelineGeneratesAnswers(t *testing.T) {
	vector := &fakeSearchProvider{docs: []Document{
		{ID: "d1", Content: "retrieval augments generation", Score: 0.9},
	}}
	gen := &fakeLLM{}

	rag, err := NewRAGPipeline(testDeps(vector, nil, gen), Settings{VectorEnabled: true}, GenerationConfig{})
	if err != nil {
		t.Fatalf("NewRAGPipeline: %v", err)
	}

	results, err := rag.Run(context.Background(), []any{"what is rag"}, flow.SearchSettings{VectorEnabled: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	ans, ok := results[0].(Answer)
	if !ok {
		t.Fatalf("result type = %T, want Answer", results[0])
	}
	if ans.Query != "what is rag" || ans.Text != "generated answer" {
		t.Errorf("answer = %+v", ans)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].ID != "d1" {
		t.Errorf("sources = %+v, want the retrieved doc", ans.Sources)
	}

	// The retrieved content made it into the prompt.
	prompt := gen.lastReq.Messages[0].Content
	if !strings.Contains(prompt, "retrieval augments generation") {
		t.Errorf("prompt %q missing source content", prompt)
	}
	if !strings.Contains(prompt, "what is rag") {
		t.Errorf("prompt %q missing query", prompt)
	}
}

func TestRAGPipelineRequiresLLM(t *testing.T) {
	if _, err := NewRAGPipeline(testDeps(&fakeSearchProvider{}, nil, nil), Settings{VectorEnabled: true}, GenerationConfig{}); err == nil {
		t.Error("RAG pipeline without LLM succeeded")
	}
}

func TestGenerateLogicRejectsBadInput(t *testing.T) {
	runs := flow.NewRunManager(testLogger())
	pl := flow.NewPipeline(runs, flow.WithRunType(flow.RunTypeRAG), flow.WithPipelineLogger(testLogger()))
	pl.MustAddPipe(flow.NewPipe(flow.Config{Name: "generate"}, GenerateLogic(&fakeLLM{}, GenerationConfig{}), flow.WithPipeLogger(testLogger())))

	if _, err := pl.Run(context.Background(), []any{"not a query result"}); err == nil {
		t.Error("generation accepted a non-QueryResult item")
	}
}

func TestCollectSourcesBounds(t *testing.T) {
	agg := flow.AggregateResult{
		VectorResults: []any{Document{ID: "v1"}, Document{ID: "v2"}},
		GraphResults:  []any{Document{ID: "g1"}, Document{ID: "g2"}},
	}
	got := collectSources(agg, 3)
	if len(got) != 3 {
		t.Fatalf("got %d sources, want 3", len(got))
	}
	if got[0].ID != "v1" || got[2].ID != "g1" {
		t.Errorf("order = %+v, want vector results first", got)
	}
}

func TestBuildPromptNoSources(t *testing.T) {
	p := BuildPrompt("q", nil)
	if !strings.Contains(p, "No sources") {
		t.Errorf("prompt %q missing empty-sources note", p)
	}
}

func TestBuildPromptNumbersSources(t *testing.T) {
	p := BuildPrompt("q", []Document{{Content: "alpha"}, {Content: "beta"}})
	if !strings.Contains(p, "[1] alpha") || !strings.Contains(p, "[2] beta") {
		t.Errorf("prompt %q missing numbered sources", p)
	}
}

func TestQueryOf(t *testing.T) {
	if q, err := queryOf("text"); err != nil || q.Text != "text" {
		t.Errorf("string: got (%+v, %v)", q, err)
	}
	if q, err := queryOf(Query{Text: "t", Vector: []float32{1}}); err != nil || len(q.Vector) != 1 {
		t.Errorf("query: got (%+v, %v)", q, err)
	}
	if _, err := queryOf(42); err == nil {
		t.Error("int accepted as query")
	}
}
