package search

import (
	"fmt"

	"github.com/kbukum/ragflow/flow"
	"github.com/kbukum/ragflow/llm"
	"github.com/kbukum/ragflow/logger"
	"github.com/kbukum/ragflow/observability"
)

// Deps collects the collaborators the assembled pipelines run against.
type Deps struct {
	Runs     *flow.RunManager
	Embedder llm.Embedder
	Vector   Provider
	Graph    GraphProvider
	LLM      llm.Provider
	Log      *logger.Logger
	Metrics  *observability.Metrics
	Sink     flow.LogSink
}

func (d Deps) pipeOpts() []flow.PipeOption {
	var opts []flow.PipeOption
	if d.Log != nil {
		opts = append(opts, flow.WithPipeLogger(d.Log))
	}
	if d.Metrics != nil {
		opts = append(opts, flow.WithMetrics(d.Metrics))
	}
	if d.Sink != nil {
		opts = append(opts, flow.WithSink(d.Sink))
	}
	return opts
}

// Flow converts retrieval settings to the runtime's branch selection.
func (s Settings) Flow() flow.SearchSettings {
	return flow.SearchSettings{
		VectorEnabled: s.VectorEnabled,
		GraphEnabled:  s.GraphEnabled,
	}
}

// NewSearchPipeline assembles the fan-out retrieval pipeline from the
// configured providers. The vector branch gets an embedding stage unless
// the mode is pure full-text; the graph branch is a single stage.
func NewSearchPipeline(d Deps, settings Settings) (*flow.SearchPipeline, error) {
	settings.ApplyDefaults()

	var spOpts []flow.SearchPipelineOption
	if d.Log != nil {
		spOpts = append(spOpts, flow.WithSearchLogger(d.Log))
	}
	sp := flow.NewSearchPipeline(d.Runs, spOpts...)

	if settings.VectorEnabled {
		if d.Vector == nil {
			return nil, fmt.Errorf("search: vector branch enabled but no provider configured")
		}
		if settings.Mode != ModeFullText {
			if d.Embedder == nil {
				return nil, fmt.Errorf("search: mode %q requires an embedder", settings.Mode)
			}
			if err := sp.AddVectorPipe(flow.NewPipe(flow.Config{Name: "embed_query"}, EmbedQueryLogic(d.Embedder), d.pipeOpts()...)); err != nil {
				return nil, err
			}
		}
		if err := sp.AddVectorPipe(flow.NewPipe(flow.Config{Name: "vector_search"}, VectorSearchLogic("vector_search", d.Vector, settings), d.pipeOpts()...)); err != nil {
			return nil, err
		}
	}

	if settings.GraphEnabled {
		if d.Graph == nil {
			return nil, fmt.Errorf("search: graph branch enabled but no provider configured")
		}
		if err := sp.AddGraphPipe(flow.NewPipe(flow.Config{Name: "graph_search"}, GraphSearchLogic("graph_search", d.Graph, settings), d.pipeOpts()...)); err != nil {
			return nil, err
		}
	}

	return sp, nil
}

// NewRAGPipeline assembles the full retrieve-then-generate pipeline: the
// search pipeline above feeding a single-stage generation pipeline.
func NewRAGPipeline(d Deps, settings Settings, gen GenerationConfig) (*flow.RAGPipeline, error) {
	if d.LLM == nil {
		return nil, fmt.Errorf("search: RAG pipeline requires an LLM provider")
	}
	sp, err := NewSearchPipeline(d, settings)
	if err != nil {
		return nil, err
	}

	var plOpts []flow.PipelineOption
	plOpts = append(plOpts, flow.WithRunType(flow.RunTypeRAG))
	if d.Log != nil {
		plOpts = append(plOpts, flow.WithPipelineLogger(d.Log))
	}
	generation := flow.NewPipeline(d.Runs, plOpts...)
	if err := generation.AddPipe(flow.NewPipe(flow.Config{Name: "generate"}, GenerateLogic(d.LLM, gen), d.pipeOpts()...)); err != nil {
		return nil, err
	}

	var ragOpts []flow.RAGPipelineOption
	if d.Log != nil {
		ragOpts = append(ragOpts, flow.WithRAGLogger(d.Log))
	}
	return flow.NewRAGPipeline(d.Runs, sp, generation, ragOpts...), nil
}
