package flow

import (
	"context"
	"fmt"

	"github.com/kbukum/ragflow/logger"
	"github.com/kbukum/ragflow/stream"
)

// DefaultBranchQueueSize bounds a search branch's input queue. A full
// queue blocks the producer, so the bound doubles as backpressure when a
// branch is slow.
const DefaultBranchQueueSize = 64

// AggregateResult joins the outputs of the search branches. A branch not
// enabled for a call leaves its slot nil; an enabled branch that found
// nothing yields an empty, non-nil slice. The two cases are distinct on
// purpose.
type AggregateResult struct {
	VectorResults []any `json:"vector_results,omitempty"`
	GraphResults  []any `json:"graph_results,omitempty"`
}

// SearchPipeline fans each input item out to up to two independently
// scheduled branch pipelines (vector search and graph search) over
// bounded queues, then joins both branches into one aggregate result.
//
// Branches run genuinely concurrently with each other and with the
// producer loop; queue closure is the termination sentinel and is
// guaranteed to be delivered even when the producer fails mid-stream.
type SearchPipeline struct {
	vector    *Pipeline
	graph     *Pipeline
	runs      *RunManager
	log       *logger.Logger
	queueSize int
}

// SearchPipelineOption configures a SearchPipeline.
type SearchPipelineOption func(*SearchPipeline)

// WithBranchQueueSize overrides the bounded branch queue capacity.
func WithBranchQueueSize(n int) SearchPipelineOption {
	return func(sp *SearchPipeline) {
		if n > 0 {
			sp.queueSize = n
		}
	}
}

// WithSearchLogger sets the operational logger.
func WithSearchLogger(log *logger.Logger) SearchPipelineOption {
	return func(sp *SearchPipeline) { sp.log = log }
}

// NewSearchPipeline creates a search pipeline with no branches. Branches
// are added independently with AddVectorPipe and AddGraphPipe.
func NewSearchPipeline(runs *RunManager, opts ...SearchPipelineOption) *SearchPipeline {
	sp := &SearchPipeline{
		runs:      runs,
		queueSize: DefaultBranchQueueSize,
	}
	for _, opt := range opts {
		opt(sp)
	}
	if sp.log == nil {
		sp.log = logger.NewDefault("flow")
	}
	sp.log = sp.log.WithComponent("search_pipeline")
	if sp.runs == nil {
		sp.runs = NewRunManager(sp.log)
	}
	return sp
}

// AddVectorPipe appends a pipe to the vector-search branch.
func (sp *SearchPipeline) AddVectorPipe(p *Pipe, refs ...UpstreamRef) error {
	if sp.vector == nil {
		sp.vector = NewPipeline(sp.runs, WithRunType(RunTypeSearch), WithPipelineLogger(sp.log))
	}
	return sp.vector.AddPipe(p, refs...)
}

// AddGraphPipe appends a pipe to the graph-search branch.
func (sp *SearchPipeline) AddGraphPipe(p *Pipe, refs ...UpstreamRef) error {
	if sp.graph == nil {
		sp.graph = NewPipeline(sp.runs, WithRunType(RunTypeSearch), WithPipelineLogger(sp.log))
	}
	return sp.graph.AddPipe(p, refs...)
}

// SearchSettings selects which branches a Run executes.
type SearchSettings struct {
	VectorEnabled bool
	GraphEnabled  bool
}

type branchOutcome struct {
	results []any
	err     error
}

// Run broadcasts every input item to each enabled branch and joins the
// branch results. A failing branch's error surfaces here, but the other
// branch is still awaited rather than cancelled: correctness and
// simplicity are worth the modest cost of letting the surviving branch
// finish its in-flight work.
func (sp *SearchPipeline) Run(ctx context.Context, input any, settings SearchSettings, opts ...RunOption) (AggregateResult, error) {
	var agg AggregateResult

	if settings.VectorEnabled && sp.vector == nil {
		return agg, fmt.Errorf("flow: vector branch enabled but not configured")
	}
	if settings.GraphEnabled && sp.graph == nil {
		return agg, fmt.Errorf("flow: graph branch enabled but not configured")
	}

	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	rc := o.rc
	release := func() {}
	if !rc.Valid() {
		rc, release = sp.runs.Acquire(RunTypeSearch, "")
	}
	defer release()

	type branch struct {
		pipeline *Pipeline
		queue    chan any
		outcome  chan branchOutcome
	}
	var branches []*branch
	if settings.VectorEnabled {
		branches = append(branches, &branch{pipeline: sp.vector, queue: make(chan any, sp.queueSize)})
	}
	if settings.GraphEnabled {
		branches = append(branches, &branch{pipeline: sp.graph, queue: make(chan any, sp.queueSize)})
	}

	state := o.state
	if state == nil {
		state = NewStateStore()
	}

	// Start each enabled branch: its consumer pulls from the branch queue
	// until the close sentinel, its pipeline materializes the results.
	for _, b := range branches {
		b.outcome = make(chan branchOutcome, 1)
		go func(b *branch) {
			results, err := b.pipeline.Run(ctx, stream.FromChan(b.queue), WithState(state), WithRunContext(rc))
			b.outcome <- branchOutcome{results: results, err: err}
		}(b)
	}

	// Producer: forward every input item to every enabled queue. The
	// sentinel (queue close) is sent exactly once per branch, on every
	// exit path, so consumers never block forever after a producer error.
	producerErr := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			for _, b := range branches {
				close(b.queue)
			}
			producerErr <- err
		}()
		err = stream.ForEach(ctx, AsStream(input), func(fctx context.Context, item any) error {
			for _, b := range branches {
				select {
				case b.queue <- item:
				case <-fctx.Done():
					return fctx.Err()
				}
			}
			return nil
		})
	}()

	// Fan-in: await the producer, then every branch, keeping the first
	// error but never skipping an await.
	firstErr := <-producerErr
	outcomes := make([]branchOutcome, len(branches))
	for i, b := range branches {
		outcomes[i] = <-b.outcome
		if outcomes[i].err != nil && firstErr == nil {
			firstErr = outcomes[i].err
		}
	}
	if firstErr != nil {
		sp.log.WithError(firstErr).Error("search fan-out failed", map[string]interface{}{
			"run_id": rc.RunID,
		})
		return agg, firstErr
	}

	idx := 0
	if settings.VectorEnabled {
		agg.VectorResults = nonNil(outcomes[idx].results)
		idx++
	}
	if settings.GraphEnabled {
		agg.GraphResults = nonNil(outcomes[idx].results)
	}
	return agg, nil
}

// nonNil keeps "ran and found nothing" distinguishable from "did not
// run": enabled branches always produce a non-nil slice.
func nonNil(results []any) []any {
	if results == nil {
		return []any{}
	}
	return results
}
