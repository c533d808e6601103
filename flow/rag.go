package flow

import (
	"context"

	"github.com/kbukum/ragflow/logger"
	"github.com/kbukum/ragflow/stream"
)

// QueryResult pairs one input query with its fully materialized search
// aggregate. The generation pipeline consumes these.
type QueryResult struct {
	Query  any
	Result AggregateResult
}

// RAGPipeline wraps a search pipeline and a generation pipeline. Each
// input query gets its own concurrent search invocation, scheduled the
// moment the query arrives; results are then paired back to their
// queries in the original input order and streamed into generation.
type RAGPipeline struct {
	search     *SearchPipeline
	generation *Pipeline
	runs       *RunManager
	log        *logger.Logger
}

// NewRAGPipeline creates a RAG pipeline from its two halves. The
// generation pipeline performs the completion step; its pipes receive a
// stream of QueryResult values as input.
func NewRAGPipeline(runs *RunManager, search *SearchPipeline, generation *Pipeline, opts ...RAGPipelineOption) *RAGPipeline {
	r := &RAGPipeline{
		search:     search,
		generation: generation,
		runs:       runs,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.NewDefault("flow")
	}
	r.log = r.log.WithComponent("rag_pipeline")
	if r.runs == nil {
		r.runs = NewRunManager(r.log)
	}
	return r
}

// RAGPipelineOption configures a RAGPipeline.
type RAGPipelineOption func(*RAGPipeline)

// WithRAGLogger sets the operational logger.
func WithRAGLogger(log *logger.Logger) RAGPipelineOption {
	return func(r *RAGPipeline) { r.log = log }
}

// Run executes the RAG pipeline and materializes the generation output.
// A failure in any query's search surfaces when that query's turn in the
// original order is reached, aborting the whole run.
func (r *RAGPipeline) Run(ctx context.Context, queries any, settings SearchSettings, opts ...RunOption) ([]any, error) {
	rc, release, paired := r.pair(ctx, queries, settings, opts...)
	defer release()

	results, err := r.generation.Run(ctx, paired, WithRunContext(rc))
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Stream executes the RAG pipeline and returns the generation pipeline's
// raw output stream for incremental consumption. The run scope stays
// open until the stream finishes.
func (r *RAGPipeline) Stream(ctx context.Context, queries any, settings SearchSettings, opts ...RunOption) (*stream.Stream[any], error) {
	rc, release, paired := r.pair(ctx, queries, settings, opts...)

	out, err := r.generation.Stream(ctx, paired, WithRunContext(rc))
	if err != nil {
		release()
		return nil, err
	}
	return stream.New(func(sctx context.Context) stream.Iterator[any] {
		return &releaseIter{source: out.Iter(sctx), release: release}
	}), nil
}

// pending is a scheduled per-query search whose result is awaited later,
// in input order.
type pending struct {
	query  any
	done   chan struct{}
	result AggregateResult
	err    error
}

// pair opens the run scope and returns the ordered (query, result)
// stream. Searches are scheduled eagerly as queries arrive; pairing
// awaits each task only when its turn in the original sequence is
// reached, so output order is deterministic even when searches complete
// out of order.
func (r *RAGPipeline) pair(ctx context.Context, queries any, settings SearchSettings, opts ...RunOption) (RunContext, func(), *stream.Stream[any]) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	rc := o.rc
	release := func() {}
	if !rc.Valid() {
		rc, release = r.runs.Acquire(RunTypeRAG, "")
	}

	paired := stream.New(func(sctx context.Context) stream.Iterator[any] {
		handles := make(chan *pending, DefaultBranchQueueSize)

		go func() {
			defer close(handles)
			err := stream.ForEach(sctx, AsStream(queries), func(fctx context.Context, q any) error {
				p := &pending{query: q, done: make(chan struct{})}
				go func() {
					defer close(p.done)
					// Each query's search gets its own state store: the
					// branch stages publish under the same names for every
					// query, and concurrent searches must not collide.
					p.result, p.err = r.search.Run(fctx, q, settings, WithRunContext(rc))
				}()
				select {
				case handles <- p:
					return nil
				case <-fctx.Done():
					return fctx.Err()
				}
			})
			if err != nil {
				p := &pending{err: err, done: make(chan struct{})}
				close(p.done)
				select {
				case handles <- p:
				case <-sctx.Done():
				}
			}
		}()

		return &pairIter{ctx: sctx, handles: handles}
	})

	return rc, release, paired
}

// pairIter yields (query, result) pairs in input order.
type pairIter struct {
	ctx     context.Context
	handles <-chan *pending
	failed  bool
}

func (it *pairIter) Next(ctx context.Context) (any, bool, error) {
	if it.failed {
		return nil, false, nil
	}
	select {
	case p, open := <-it.handles:
		if !open {
			return nil, false, nil
		}
		select {
		case <-p.done:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		if p.err != nil {
			it.failed = true
			return nil, false, p.err
		}
		return QueryResult{Query: p.query, Result: p.result}, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (it *pairIter) Close() error { return nil }
