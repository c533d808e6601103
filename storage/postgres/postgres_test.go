package postgres

import (
	"strings"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/kbukum/ragflow/search"
)

func testStore() *Store {
	return &Store{
		stbl:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		table: "documents",
		lang:  "english",
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{DSN: "postgres://localhost/rag"}
	cfg.ApplyDefaults()

	if cfg.Table != "documents" {
		t.Errorf("table = %q, want documents", cfg.Table)
	}
	if cfg.Language != "english" {
		t.Errorf("language = %q, want english", cfg.Language)
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Errorf("connect timeout = %v, want 10s", cfg.ConnectTimeout)
	}
}

func TestSemanticQuery(t *testing.T) {
	s := testStore()
	query, args, err := s.semanticQuery([]float32{0.1, 0.2}, search.Options{Limit: 5})
	if err != nil {
		t.Fatalf("semanticQuery: %v", err)
	}

	for _, want := range []string{
		"SELECT id, content, metadata",
		"1 - (embedding <=> $1::vector) AS score",
		"FROM documents",
		"ORDER BY embedding <=> $2::vector",
		"LIMIT 5",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query %q missing %q", query, want)
		}
	}
	if len(args) != 2 {
		t.Fatalf("args = %v, want vector twice", args)
	}
	if args[0] != "[0.1,0.2]" {
		t.Errorf("vector literal = %v, want [0.1,0.2]", args[0])
	}
}

func TestSemanticQueryWithThreshold(t *testing.T) {
	s := testStore()
	query, args, err := s.semanticQuery([]float32{1}, search.Options{Threshold: 0.7})
	if err != nil {
		t.Fatalf("semanticQuery: %v", err)
	}
	if !strings.Contains(query, "WHERE 1 - (embedding <=> $2::vector) >= $3") {
		t.Errorf("query %q missing threshold clause", query)
	}
	if len(args) != 4 {
		t.Errorf("args = %v, want 4", args)
	}
	if !strings.Contains(query, "LIMIT 10") {
		t.Errorf("query %q missing default limit", query)
	}
}

func TestFullTextQuery(t *testing.T) {
	s := testStore()
	query, args, err := s.fullTextQuery("go pipelines", search.Options{Limit: 3})
	if err != nil {
		t.Fatalf("fullTextQuery: %v", err)
	}

	for _, want := range []string{
		"ts_rank(to_tsvector('english', content), websearch_to_tsquery('english', $1)) AS score",
		"WHERE to_tsvector('english', content) @@ websearch_to_tsquery('english', $2)",
		"ORDER BY score DESC",
		"LIMIT 3",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query %q missing %q", query, want)
		}
	}
	if len(args) != 2 || args[0] != "go pipelines" {
		t.Errorf("args = %v, want query text twice", args)
	}
}

func TestVectorLiteral(t *testing.T) {
	if got := vectorLiteral([]float32{1, -0.5, 0.25}); got != "[1,-0.5,0.25]" {
		t.Errorf("got %q", got)
	}
	if got := vectorLiteral(nil); got != "[]" {
		t.Errorf("empty vector = %q, want []", got)
	}
}

func TestRRFMergePrefersDocsInBothLists(t *testing.T) {
	semantic := []search.Document{
		{ID: "a", Content: "A"},
		{ID: "b", Content: "B"},
	}
	lexical := []search.Document{
		{ID: "b", Content: "B"},
		{ID: "c", Content: "C"},
	}

	fused := rrfMerge(semantic, lexical)
	if len(fused) != 3 {
		t.Fatalf("fused %d docs, want 3", len(fused))
	}
	if fused[0].ID != "b" {
		t.Errorf("top doc = %q, want b (appears in both lists)", fused[0].ID)
	}
	// Fused scores replace the originals.
	if fused[0].Score <= fused[1].Score {
		t.Errorf("scores not descending: %v", fused)
	}
}

func TestRRFMergeTieBreaksByID(t *testing.T) {
	left := []search.Document{{ID: "z"}}
	right := []search.Document{{ID: "a"}}

	fused := rrfMerge(left, right)
	if fused[0].ID != "a" || fused[1].ID != "z" {
		t.Errorf("tie order = %v, want deterministic by id", fused)
	}
}

func TestFilterByScore(t *testing.T) {
	docs := []search.Document{
		{ID: "a", Score: 0.9},
		{ID: "b", Score: 0.4},
		{ID: "c", Score: 0.7},
	}
	got := filterByScore(docs, 0.5)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("got %v, want a and c", got)
	}
}
