package flow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/kbukum/ragflow/stream"
)

// prefixPipe maps every item to prefix+item.
func prefixPipe(name, prefix string) *Pipe {
	return NewPipe(Config{Name: name}, func(_ context.Context, in Input, _ *StateStore, _ RunContext, _ *RunLogger) (*stream.Stream[any], error) {
		return stream.Map(in.MessageStream(), func(_ context.Context, v any) (any, error) {
			return fmt.Sprintf("%s%v", prefix, v), nil
		}), nil
	}, WithPipeLogger(testLogger()))
}

func newTestSearch(t *testing.T) *SearchPipeline {
	t.Helper()
	sp := NewSearchPipeline(NewRunManager(testLogger()), WithSearchLogger(testLogger()))
	if err := sp.AddVectorPipe(prefixPipe("vector_search", "v:")); err != nil {
		t.Fatalf("AddVectorPipe: %v", err)
	}
	if err := sp.AddGraphPipe(prefixPipe("graph_search", "g:")); err != nil {
		t.Fatalf("AddGraphPipe: %v", err)
	}
	return sp
}

func TestSearchVectorOnly(t *testing.T) {
	sp := newTestSearch(t)

	agg, err := sp.Run(context.Background(), []any{"a", "b"}, SearchSettings{VectorEnabled: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(agg.VectorResults) != 2 || agg.VectorResults[0] != "v:a" || agg.VectorResults[1] != "v:b" {
		t.Errorf("vector results = %v, want [v:a v:b]", agg.VectorResults)
	}
	// A disabled branch leaves its slot nil, distinct from "ran and
	// found nothing".
	if agg.GraphResults != nil {
		t.Errorf("graph results = %v, want nil for disabled branch", agg.GraphResults)
	}
}

func TestSearchBothBranches(t *testing.T) {
	sp := newTestSearch(t)

	agg, err := sp.Run(context.Background(), []any{"q"}, SearchSettings{VectorEnabled: true, GraphEnabled: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(agg.VectorResults) != 1 || agg.VectorResults[0] != "v:q" {
		t.Errorf("vector results = %v, want [v:q]", agg.VectorResults)
	}
	if len(agg.GraphResults) != 1 || agg.GraphResults[0] != "g:q" {
		t.Errorf("graph results = %v, want [g:q]", agg.GraphResults)
	}
}

func TestSearchEnabledBranchEmptyIsNotNil(t *testing.T) {
	sp := NewSearchPipeline(NewRunManager(testLogger()), WithSearchLogger(testLogger()))
	err := sp.AddVectorPipe(NewPipe(Config{Name: "vector_search"}, func(_ context.Context, in Input, _ *StateStore, _ RunContext, _ *RunLogger) (*stream.Stream[any], error) {
		return stream.Filter(in.MessageStream(), func(any) bool { return false }), nil
	}, WithPipeLogger(testLogger())))
	if err != nil {
		t.Fatalf("AddVectorPipe: %v", err)
	}

	agg, runErr := sp.Run(context.Background(), []any{"a", "b"}, SearchSettings{VectorEnabled: true})
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if agg.VectorResults == nil {
		t.Fatal("enabled branch produced nil, want empty non-nil slice")
	}
	if len(agg.VectorResults) != 0 {
		t.Errorf("vector results = %v, want empty", agg.VectorResults)
	}
}

func TestSearchUnconfiguredBranch(t *testing.T) {
	sp := NewSearchPipeline(NewRunManager(testLogger()), WithSearchLogger(testLogger()))
	if err := sp.AddVectorPipe(prefixPipe("vector_search", "v:")); err != nil {
		t.Fatalf("AddVectorPipe: %v", err)
	}

	if _, err := sp.Run(context.Background(), []any{"a"}, SearchSettings{GraphEnabled: true}); err == nil {
		t.Error("enabling an unconfigured branch succeeded, want error")
	}
}

func TestSearchBranchFailureAwaitsSurvivor(t *testing.T) {
	boom := errors.New("boom")
	var graphSaw atomic.Int64

	sp := NewSearchPipeline(NewRunManager(testLogger()), WithSearchLogger(testLogger()))
	err := sp.AddVectorPipe(NewPipe(Config{Name: "vector_search"}, func(context.Context, Input, *StateStore, RunContext, *RunLogger) (*stream.Stream[any], error) {
		return nil, boom
	}, WithPipeLogger(testLogger())))
	if err != nil {
		t.Fatalf("AddVectorPipe: %v", err)
	}
	err = sp.AddGraphPipe(NewPipe(Config{Name: "graph_search"}, func(_ context.Context, in Input, _ *StateStore, _ RunContext, _ *RunLogger) (*stream.Stream[any], error) {
		return stream.Tap(in.MessageStream(), func(context.Context, any) error {
			graphSaw.Add(1)
			return nil
		}), nil
	}, WithPipeLogger(testLogger())))
	if err != nil {
		t.Fatalf("AddGraphPipe: %v", err)
	}

	_, runErr := sp.Run(context.Background(), []any{"a", "b"}, SearchSettings{VectorEnabled: true, GraphEnabled: true})
	if !errors.Is(runErr, boom) {
		t.Fatalf("got %v, want boom", runErr)
	}
	// The surviving branch was awaited, not abandoned: it processed all
	// items that were queued before the join returned.
	if got := graphSaw.Load(); got != 2 {
		t.Errorf("graph branch saw %d items, want 2", got)
	}
}

func TestSearchSharedState(t *testing.T) {
	sp := NewSearchPipeline(NewRunManager(testLogger()), WithSearchLogger(testLogger()))
	err := sp.AddVectorPipe(publisher("vector_search", map[string]any{"hits": 3}))
	if err != nil {
		t.Fatalf("AddVectorPipe: %v", err)
	}

	state := NewStateStore()
	if _, err := sp.Run(context.Background(), []any{"a"}, SearchSettings{VectorEnabled: true}, WithState(state)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !state.Has("vector_search") {
		t.Error("caller-supplied state missing the branch stage's publish")
	}
}

func TestSearchReleasesRunScope(t *testing.T) {
	runs := NewRunManager(testLogger())
	sp := NewSearchPipeline(runs, WithSearchLogger(testLogger()))
	if err := sp.AddVectorPipe(prefixPipe("vector_search", "v:")); err != nil {
		t.Fatalf("AddVectorPipe: %v", err)
	}

	if _, err := sp.Run(context.Background(), []any{"a"}, SearchSettings{VectorEnabled: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runs.Active() != 0 {
		t.Errorf("active runs after Run = %d, want 0", runs.Active())
	}
}
