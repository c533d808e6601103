package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/kbukum/ragflow/flow"
	"github.com/kbukum/ragflow/llm"
	"github.com/kbukum/ragflow/stream"
	"github.com/kbukum/ragflow/util"
)

// Query is a user query after the embedding stage: the raw text plus its
// vector when one was computed.
type Query struct {
	Text   string    `json:"text"`
	Vector []float32 `json:"-"`
}

// Answer is the generation stage's output for one query.
type Answer struct {
	Query   string     `json:"query"`
	Text    string     `json:"text"`
	Model   string     `json:"model"`
	Sources []Document `json:"sources,omitempty"`
}

// queryOf normalizes pipeline items: raw strings are promoted, embedded
// queries pass through.
func queryOf(v any) (Query, error) {
	switch t := v.(type) {
	case Query:
		return t, nil
	case string:
		return Query{Text: t}, nil
	default:
		return Query{}, fmt.Errorf("search: unexpected query type %T", v)
	}
}

// EmbedQueryLogic embeds each incoming query text. The resulting Query
// carries both text and vector downstream.
func EmbedQueryLogic(embedder llm.Embedder) flow.Logic {
	return func(_ context.Context, in flow.Input, _ *flow.StateStore, _ flow.RunContext, rl *flow.RunLogger) (*stream.Stream[any], error) {
		return stream.Map(in.MessageStream(), func(ctx context.Context, v any) (any, error) {
			q, err := queryOf(v)
			if err != nil {
				return nil, err
			}
			vec, err := embedder.EmbedText(ctx, q.Text)
			if err != nil {
				return nil, fmt.Errorf("embed query: %w", err)
			}
			q.Vector = vec
			rl.Log("embedded_query", util.CleanLogValue(q.Text))
			return q, nil
		}), nil
	}
}

// VectorSearchLogic runs the configured Provider operation for each query
// and yields the matching documents one by one. The stage publishes its
// hit count so downstream stages can reference it.
func VectorSearchLogic(stage string, p Provider, settings Settings) flow.Logic {
	return func(_ context.Context, in flow.Input, state *flow.StateStore, _ flow.RunContext, rl *flow.RunLogger) (*stream.Stream[any], error) {
		return stream.FlatMap(in.MessageStream(), func(ctx context.Context, v any) (*stream.Stream[any], error) {
			q, err := queryOf(v)
			if err != nil {
				return nil, err
			}

			var docs []Document
			switch settings.Mode {
			case ModeFullText:
				docs, err = p.FullTextSearch(ctx, q.Text, settings.Option())
			case ModeHybrid:
				docs, err = p.HybridSearch(ctx, q.Text, q.Vector, settings.Option())
			default:
				docs, err = p.SemanticSearch(ctx, q.Vector, settings.Option())
			}
			if err != nil {
				return nil, fmt.Errorf("vector search %q: %w", q.Text, err)
			}

			state.Publish(stage, map[string]any{"hits": len(docs)})
			rl.Log("vector_hits", len(docs))
			return docStream(docs), nil
		}), nil
	}
}

// GraphSearchLogic runs the graph branch for each query.
func GraphSearchLogic(stage string, g GraphProvider, settings Settings) flow.Logic {
	return func(_ context.Context, in flow.Input, state *flow.StateStore, _ flow.RunContext, rl *flow.RunLogger) (*stream.Stream[any], error) {
		return stream.FlatMap(in.MessageStream(), func(ctx context.Context, v any) (*stream.Stream[any], error) {
			q, err := queryOf(v)
			if err != nil {
				return nil, err
			}
			docs, err := g.GraphSearch(ctx, q.Text, settings.Option())
			if err != nil {
				return nil, fmt.Errorf("graph search %q: %w", q.Text, err)
			}
			state.Publish(stage, map[string]any{"hits": len(docs)})
			rl.Log("graph_hits", len(docs))
			return docStream(docs), nil
		}), nil
	}
}

func docStream(docs []Document) *stream.Stream[any] {
	items := make([]any, len(docs))
	for i, d := range docs {
		items[i] = d
	}
	return stream.FromSlice(items)
}

// GenerationConfig tunes the generation pipe.
type GenerationConfig struct {
	SystemPrompt string  `yaml:"system_prompt" mapstructure:"system_prompt"`
	Model        string  `yaml:"model" mapstructure:"model"`
	Temperature  float64 `yaml:"temperature" mapstructure:"temperature"`
	// MaxSources caps how many retrieved documents enter the prompt.
	MaxSources int `yaml:"max_sources" mapstructure:"max_sources"`
}

// ApplyDefaults fills zero values.
func (c *GenerationConfig) ApplyDefaults() {
	if c.SystemPrompt == "" {
		c.SystemPrompt = "You are a helpful assistant. Answer using only the provided sources. " +
			"If the sources do not contain the answer, say so."
	}
	if c.MaxSources <= 0 {
		c.MaxSources = 8
	}
}

// GenerateLogic turns each (query, retrieval result) pair into an answer
// by prompting the LLM with the retrieved sources.
func GenerateLogic(p llm.Provider, cfg GenerationConfig) flow.Logic {
	cfg.ApplyDefaults()
	return func(_ context.Context, in flow.Input, _ *flow.StateStore, _ flow.RunContext, rl *flow.RunLogger) (*stream.Stream[any], error) {
		return stream.Map(in.MessageStream(), func(ctx context.Context, v any) (any, error) {
			qr, ok := v.(flow.QueryResult)
			if !ok {
				return nil, fmt.Errorf("search: generation expects flow.QueryResult, got %T", v)
			}
			q, err := queryOf(qr.Query)
			if err != nil {
				return nil, err
			}

			sources := collectSources(qr.Result, cfg.MaxSources)
			resp, err := p.Complete(ctx, llm.CompletionRequest{
				Model:        cfg.Model,
				Temperature:  cfg.Temperature,
				SystemPrompt: cfg.SystemPrompt,
				Messages: []llm.Message{
					{Role: "user", Content: BuildPrompt(q.Text, sources)},
				},
			})
			if err != nil {
				return nil, fmt.Errorf("generate %q: %w", q.Text, err)
			}
			rl.Log("completion_tokens", resp.Usage.CompletionTokens)

			return Answer{
				Query:   q.Text,
				Text:    resp.Content,
				Model:   resp.Model,
				Sources: sources,
			}, nil
		}), nil
	}
}

// collectSources flattens an aggregate into a bounded source list,
// vector results first.
func collectSources(agg flow.AggregateResult, max int) []Document {
	var out []Document
	for _, branch := range [][]any{agg.VectorResults, agg.GraphResults} {
		for _, v := range branch {
			if d, ok := v.(Document); ok {
				out = append(out, d)
			}
			if len(out) == max {
				return out
			}
		}
	}
	return out
}

// BuildPrompt renders the user prompt: the question followed by numbered
// source snippets.
func BuildPrompt(query string, sources []Document) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(query)
	if len(sources) == 0 {
		b.WriteString("\n\nNo sources were retrieved.")
		return b.String()
	}
	b.WriteString("\n\nSources:\n")
	for i, d := range sources {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, d.Content)
	}
	return b.String()
}
