// Package postgres implements search.Provider over a pgvector-enabled
// PostgreSQL document table.
//
// Semantic search orders by cosine distance on the embedding column,
// full-text search ranks with websearch_to_tsquery, and hybrid search
// merges both rankings with reciprocal rank fusion.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kbukum/ragflow/logger"
	"github.com/kbukum/ragflow/resilience"
	"github.com/kbukum/ragflow/search"
)

const (
	defaultTable    = "documents"
	defaultLimit    = 10
	defaultLanguage = "english"

	// rrfK dampens the contribution of lower ranks in hybrid fusion.
	rrfK = 60
)

// Config holds connection and table settings.
type Config struct {
	// DSN is a pgx connection string or URL.
	DSN string `yaml:"dsn" mapstructure:"dsn" validate:"required"`
	// Table is the document table name.
	Table string `yaml:"table" mapstructure:"table"`
	// Language is the text search configuration for full-text queries.
	Language string `yaml:"language" mapstructure:"language"`
	// MaxConns caps the pool size. Zero keeps pgx's default.
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	// ConnectTimeout bounds the initial connectivity check.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.Language == "" {
		c.Language = defaultLanguage
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// Store is a pgvector-backed document store.
type Store struct {
	pool  *pgxpool.Pool
	stbl  sq.StatementBuilderType
	table string
	lang  string
	log   *logger.Logger
}

// New connects to PostgreSQL and verifies connectivity.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	cfg.ApplyDefaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	// The database may still be coming up when the service starts;
	// retry the first ping within the connect timeout.
	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	retry := resilience.DefaultPolicy()
	retry.BaseDelay = 500 * time.Millisecond
	if _, err := resilience.Do(pingCtx, retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, pool.Ping(ctx)
	}); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if log == nil {
		log = logger.NewDefault("ragflow")
	}
	return &Store{
		pool:  pool,
		stbl:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		table: cfg.Table,
		lang:  cfg.Language,
		log:   log.WithComponent("postgres"),
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports backend connectivity, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SemanticSearch ranks documents by cosine similarity to the query
// embedding.
func (s *Store) SemanticSearch(ctx context.Context, vector []float32, opts search.Options) ([]search.Document, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("postgres: semantic search requires a query vector")
	}
	query, args, err := s.semanticQuery(vector, opts)
	if err != nil {
		return nil, fmt.Errorf("postgres: build semantic query: %w", err)
	}
	return s.runQuery(ctx, query, args, opts)
}

// FullTextSearch ranks documents with websearch_to_tsquery.
func (s *Store) FullTextSearch(ctx context.Context, text string, opts search.Options) ([]search.Document, error) {
	query, args, err := s.fullTextQuery(text, opts)
	if err != nil {
		return nil, fmt.Errorf("postgres: build full-text query: %w", err)
	}
	return s.runQuery(ctx, query, args, opts)
}

// HybridSearch fuses the semantic and full-text rankings with
// reciprocal rank fusion. Both legs run with the caller's limit so the
// fused list has enough candidates, then the merged ranking is cut.
func (s *Store) HybridSearch(ctx context.Context, text string, vector []float32, opts search.Options) ([]search.Document, error) {
	semantic, err := s.SemanticSearch(ctx, vector, search.Options{Limit: opts.Limit})
	if err != nil {
		return nil, err
	}
	lexical, err := s.FullTextSearch(ctx, text, search.Options{Limit: opts.Limit})
	if err != nil {
		return nil, err
	}

	fused := rrfMerge(semantic, lexical)
	if th := opts.Threshold; th > 0 {
		fused = filterByScore(fused, th)
	}
	if limit := limitOrDefault(opts.Limit); len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, nil
}

// --- query building ---

func (s *Store) semanticQuery(vector []float32, opts search.Options) (string, []any, error) {
	vec := vectorLiteral(vector)
	q := s.stbl.
		Select("id", "content", "metadata").
		Column(sq.Expr("1 - (embedding <=> ?::vector) AS score", vec)).
		From(s.table).
		OrderByClause("embedding <=> ?::vector", vec).
		Limit(uint64(limitOrDefault(opts.Limit)))
	if opts.Threshold > 0 {
		q = q.Where(sq.Expr("1 - (embedding <=> ?::vector) >= ?", vec, opts.Threshold))
	}
	return q.ToSql()
}

func (s *Store) fullTextQuery(text string, opts search.Options) (string, []any, error) {
	rank := fmt.Sprintf("ts_rank(to_tsvector('%s', content), websearch_to_tsquery('%s', ?)) AS score", s.lang, s.lang)
	match := fmt.Sprintf("to_tsvector('%s', content) @@ websearch_to_tsquery('%s', ?)", s.lang, s.lang)

	q := s.stbl.
		Select("id", "content", "metadata").
		Column(sq.Expr(rank, text)).
		From(s.table).
		Where(sq.Expr(match, text)).
		OrderBy("score DESC").
		Limit(uint64(limitOrDefault(opts.Limit)))
	return q.ToSql()
}

// vectorLiteral renders a float slice as a pgvector input literal.
func vectorLiteral(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}

// --- execution ---

func (s *Store) runQuery(ctx context.Context, query string, args []any, opts search.Options) ([]search.Document, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	var docs []search.Document
	for rows.Next() {
		var (
			doc  search.Document
			meta []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &meta, &doc.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
				s.log.Warn("document has malformed metadata", map[string]interface{}{
					"doc_id": doc.ID,
				})
			}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read rows: %w", err)
	}

	if th := opts.Threshold; th > 0 {
		docs = filterByScore(docs, th)
	}
	return docs, nil
}

// --- ranking helpers ---

// rrfMerge fuses two ranked lists with reciprocal rank fusion: each
// document scores sum(1 / (k + rank)) over the lists it appears in.
func rrfMerge(lists ...[]search.Document) []search.Document {
	scores := make(map[string]float64)
	byID := make(map[string]search.Document)

	for _, list := range lists {
		for rank, doc := range list {
			scores[doc.ID] += 1.0 / float64(rrfK+rank+1)
			if _, seen := byID[doc.ID]; !seen {
				byID[doc.ID] = doc
			}
		}
	}

	fused := make([]search.Document, 0, len(byID))
	for id, doc := range byID {
		doc.Score = scores[id]
		fused = append(fused, doc)
	}
	sort.Slice(fused, func(a, b int) bool {
		if fused[a].Score != fused[b].Score {
			return fused[a].Score > fused[b].Score
		}
		return fused[a].ID < fused[b].ID
	})
	return fused
}

func filterByScore(docs []search.Document, threshold float64) []search.Document {
	out := docs[:0]
	for _, d := range docs {
		if d.Score >= threshold {
			out = append(out, d)
		}
	}
	return out
}
