package flow

import (
	"context"
	"fmt"
	"sort"

	"github.com/kbukum/ragflow/logger"
	"github.com/kbukum/ragflow/stream"
)

// UpstreamRef declares a side-channel dependency: before the declaring
// pipe runs, OutputField is fetched from FromStage's published output and
// bound under InputField in the pipe's input envelope. FromStage must be
// an earlier pipe of the same pipeline.
type UpstreamRef struct {
	FromStage   string
	InputField  string
	OutputField string
}

type pipelineEntry struct {
	pipe *Pipe
	refs []UpstreamRef
}

// Pipeline composes pipes linearly. Each pipe's output stream becomes
// the next pipe's input message, and upstream references let a pipe read
// named fields published by any earlier stage, not just its predecessor.
//
// Composition is lazy sequential pull: invoking the pipeline wires the
// stages together without scheduling anything. Each stage's production
// is driven by the next stage pulling from it, and ultimately by the
// final consumer.
type Pipeline struct {
	runType RunType
	entries []pipelineEntry
	byName  map[string]int
	runs    *RunManager
	log     *logger.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRunType sets the run type recorded for runs this pipeline opens
// itself. Defaults to RunTypeSearch.
func WithRunType(rt RunType) PipelineOption {
	return func(pl *Pipeline) { pl.runType = rt }
}

// WithPipelineLogger sets the operational logger.
func WithPipelineLogger(log *logger.Logger) PipelineOption {
	return func(pl *Pipeline) { pl.log = log }
}

// NewPipeline creates an empty pipeline bound to a run manager.
func NewPipeline(runs *RunManager, opts ...PipelineOption) *Pipeline {
	pl := &Pipeline{
		runType: RunTypeSearch,
		byName:  make(map[string]int),
		runs:    runs,
	}
	for _, opt := range opts {
		opt(pl)
	}
	if pl.log == nil {
		pl.log = logger.NewDefault("flow")
	}
	pl.log = pl.log.WithComponent("pipeline")
	if pl.runs == nil {
		pl.runs = NewRunManager(pl.log)
	}
	return pl
}

// AddPipe appends a pipe and its upstream references. Duplicate pipe
// names and references to stages not already in the pipeline are
// configuration errors and fail immediately.
func (pl *Pipeline) AddPipe(p *Pipe, refs ...UpstreamRef) error {
	if _, exists := pl.byName[p.Name()]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicatePipe, p.Name())
	}
	for _, ref := range refs {
		if _, ok := pl.byName[ref.FromStage]; !ok {
			return fmt.Errorf("%w: %q references %q", ErrUnknownStage, p.Name(), ref.FromStage)
		}
	}
	pl.byName[p.Name()] = len(pl.entries)
	pl.entries = append(pl.entries, pipelineEntry{pipe: p, refs: refs})
	return nil
}

// MustAddPipe is AddPipe that panics on configuration errors. Intended
// for static pipeline construction at startup.
func (pl *Pipeline) MustAddPipe(p *Pipe, refs ...UpstreamRef) *Pipeline {
	if err := pl.AddPipe(p, refs...); err != nil {
		panic(err)
	}
	return pl
}

// runOptions carries the optional pieces of a pipeline invocation.
type runOptions struct {
	state *StateStore
	rc    RunContext
}

// RunOption configures a single pipeline invocation.
type RunOption func(*runOptions)

// WithState supplies a shared state store instead of a fresh one.
func WithState(state *StateStore) RunOption {
	return func(o *runOptions) { o.state = state }
}

// WithRunContext reuses a caller-supplied run context instead of opening
// a new run scope.
func WithRunContext(rc RunContext) RunOption {
	return func(o *runOptions) { o.rc = rc }
}

// Run executes the pipeline and fully materializes the final stage's
// output, recursively flattening any nested sub-streams into one flat
// ordered list. Any stage failure aborts the whole run: it is logged
// with full context and returned; there are no partial results.
func (pl *Pipeline) Run(ctx context.Context, input any, opts ...RunOption) ([]any, error) {
	out, rc, release, err := pl.execute(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	defer release()

	results, err := collectFlattened(ctx, out)
	if err != nil {
		pl.logFailure(rc, err)
		return nil, err
	}
	return results, nil
}

// Stream executes the pipeline and returns the final stage's raw output
// stream. The run scope stays open until the stream is exhausted or
// closed.
func (pl *Pipeline) Stream(ctx context.Context, input any, opts ...RunOption) (*stream.Stream[any], error) {
	out, _, release, err := pl.execute(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return stream.New(func(sctx context.Context) stream.Iterator[any] {
		return &releaseIter{source: out.Iter(sctx), release: release}
	}), nil
}

// execute wires all stages together. On success the returned release
// function closes the run scope (a no-op when the caller supplied the
// run context); on failure the scope is already closed.
func (pl *Pipeline) execute(ctx context.Context, input any, opts ...RunOption) (*stream.Stream[any], RunContext, func(), error) {
	if len(pl.entries) == 0 {
		return nil, RunContext{}, nil, ErrEmptyPipeline
	}

	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.state == nil {
		o.state = NewStateStore()
	}

	rc := o.rc
	release := func() {}
	if !rc.Valid() {
		rc, release = pl.runs.Acquire(pl.runType, "")
	}

	// Registry of each stage's produced stream, read by later stages'
	// upstream references.
	produced := make(map[string]*stream.Stream[any], len(pl.entries))

	current := AsStream(input)
	for i, entry := range pl.entries {
		in := Input{Message: current, Bindings: make(map[string]any)}
		if err := pl.resolveRefs(ctx, i, entry, current, produced, o.state, &in); err != nil {
			pl.logFailure(rc, err)
			release()
			return nil, rc, nil, err
		}

		out, err := entry.pipe.Run(ctx, in, o.state, rc)
		if err != nil {
			pl.logFailure(rc, err)
			release()
			return nil, rc, nil, err
		}
		produced[entry.pipe.Name()] = out
		current = out
	}

	return current, rc, release, nil
}

// resolveRefs binds the entry's upstream references into its input
// envelope. References are grouped by source stage and resolved in
// descending pipeline position, so when two stages publish the same
// field the later-produced value wins.
func (pl *Pipeline) resolveRefs(
	ctx context.Context,
	position int,
	entry pipelineEntry,
	current *stream.Stream[any],
	produced map[string]*stream.Stream[any],
	state *StateStore,
	in *Input,
) error {
	if len(entry.refs) == 0 {
		return nil
	}

	grouped := make(map[string][]UpstreamRef)
	var stages []string
	for _, ref := range entry.refs {
		if _, seen := grouped[ref.FromStage]; !seen {
			stages = append(stages, ref.FromStage)
		}
		grouped[ref.FromStage] = append(grouped[ref.FromStage], ref)
	}
	sort.Slice(stages, func(a, b int) bool {
		return pl.byName[stages[a]] > pl.byName[stages[b]]
	})

	for _, stage := range stages {
		refs := grouped[stage]
		src := produced[stage]

		// Hot path: the referenced stage is the immediate predecessor and
		// its live output stream is this pipe's message. Splice the stream
		// itself into the binding instead of replaying it from the store;
		// materializing it here would consume the input twice.
		if position > 0 && stage == pl.entries[position-1].pipe.Name() && src == current {
			for _, ref := range refs {
				if _, exists := in.Bindings[ref.InputField]; !exists {
					in.Bindings[ref.InputField] = src
				}
			}
			continue
		}

		// Older stage: force its recorded stream to completion so its
		// publishes have happened, then read the declared fields.
		if src != nil {
			if err := stream.Drain(ctx, src); err != nil {
				return fmt.Errorf("materializing stage %q: %w", stage, err)
			}
		}
		for _, ref := range refs {
			val, err := state.ReadField(stage, ref.OutputField)
			if err != nil {
				return err
			}
			if _, exists := in.Bindings[ref.InputField]; !exists {
				in.Bindings[ref.InputField] = val
			}
		}
	}
	return nil
}

func (pl *Pipeline) logFailure(rc RunContext, err error) {
	pl.log.WithError(err).Error("pipeline run failed", map[string]interface{}{
		"run_id":   rc.RunID,
		"run_type": string(rc.RunType),
	})
}

// collectFlattened materializes a stream, recursively flattening nested
// streams and slices a pipe may have yielded.
func collectFlattened(ctx context.Context, s *stream.Stream[any]) ([]any, error) {
	items, err := stream.Collect(ctx, s)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		flat, err := flattenValue(ctx, item)
		if err != nil {
			return nil, err
		}
		out = append(out, flat...)
	}
	return out, nil
}

func flattenValue(ctx context.Context, v any) ([]any, error) {
	switch t := v.(type) {
	case *stream.Stream[any]:
		return collectFlattened(ctx, t)
	case stream.Iterator[any]:
		return collectFlattened(ctx, stream.From(t))
	default:
		return []any{v}, nil
	}
}

// releaseIter closes a pipeline run scope when the outer stream finishes.
type releaseIter struct {
	source  stream.Iterator[any]
	release func()
}

func (it *releaseIter) Next(ctx context.Context) (any, bool, error) {
	val, ok, err := it.source.Next(ctx)
	if err != nil || !ok {
		it.release()
	}
	return val, ok, err
}

func (it *releaseIter) Close() error {
	it.release()
	return it.source.Close()
}
