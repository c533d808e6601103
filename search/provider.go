package search

import "context"

// Document is one retrieved item with its relevance score.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// Options narrows a single provider call.
type Options struct {
	// Limit caps the number of returned documents. Zero means the
	// provider's default.
	Limit int
	// Threshold drops documents scoring below it. Zero keeps everything.
	Threshold float64
}

// Provider answers retrieval queries against a document store.
type Provider interface {
	// SemanticSearch ranks documents by vector similarity to the query
	// embedding.
	SemanticSearch(ctx context.Context, vector []float32, opts Options) ([]Document, error)

	// FullTextSearch ranks documents by lexical relevance to the query
	// text.
	FullTextSearch(ctx context.Context, query string, opts Options) ([]Document, error)

	// HybridSearch merges semantic and lexical rankings for one query.
	HybridSearch(ctx context.Context, query string, vector []float32, opts Options) ([]Document, error)
}

// GraphProvider answers entity-relation queries, the second retrieval
// branch next to vector search.
type GraphProvider interface {
	// GraphSearch returns documents reachable from entities mentioned in
	// the query.
	GraphSearch(ctx context.Context, query string, opts Options) ([]Document, error)
}

// Mode selects which Provider operation the vector branch uses.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeFullText Mode = "fulltext"
	ModeHybrid   Mode = "hybrid"
)

// Settings selects branches and tuning for one retrieval call.
type Settings struct {
	Mode          Mode    `json:"mode" yaml:"mode" mapstructure:"mode"`
	Limit         int     `json:"limit" yaml:"limit" mapstructure:"limit"`
	Threshold     float64 `json:"threshold" yaml:"threshold" mapstructure:"threshold"`
	VectorEnabled bool    `json:"vector_enabled" yaml:"vector_enabled" mapstructure:"vector_enabled"`
	GraphEnabled  bool    `json:"graph_enabled" yaml:"graph_enabled" mapstructure:"graph_enabled"`
}

// ApplyDefaults fills zero values.
func (s *Settings) ApplyDefaults() {
	if s.Mode == "" {
		s.Mode = ModeSemantic
	}
	if s.Limit <= 0 {
		s.Limit = 10
	}
	if !s.VectorEnabled && !s.GraphEnabled {
		s.VectorEnabled = true
	}
}

// Option converts the tuning fields for provider calls.
func (s Settings) Option() Options {
	return Options{Limit: s.Limit, Threshold: s.Threshold}
}
