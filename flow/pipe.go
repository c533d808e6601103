package flow

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kbukum/ragflow/logger"
	"github.com/kbukum/ragflow/observability"
	"github.com/kbukum/ragflow/stream"
)

// DefaultLogQueueSize bounds a pipe's per-run log queue when the config
// does not say otherwise.
const DefaultLogQueueSize = 100

// Config identifies a pipe and bounds its telemetry queue. The name is
// the key for state entries, upstream references, and log attribution,
// and must be unique within one pipeline.
type Config struct {
	Name            string
	MaxLogQueueSize int
}

// Input is the envelope handed to a pipe on each invocation. Message is
// the preceding stage's output stream (or the external input for the
// first pipe); Bindings holds values resolved from upstream references.
// The envelope is immutable per invocation.
type Input struct {
	Message  any
	Bindings map[string]any
}

// Binding returns a value bound from an upstream reference.
func (in Input) Binding(name string) (any, bool) {
	v, ok := in.Bindings[name]
	return v, ok
}

// MessageStream narrows the envelope's message to a stream. A bare value
// or slice is promoted to a single-use stream over it, so pipe logic can
// always consume its input uniformly.
func (in Input) MessageStream() *stream.Stream[any] {
	return AsStream(in.Message)
}

// AsStream promotes a value to a stream: streams pass through, slices
// become element streams, anything else becomes a one-element stream.
func AsStream(v any) *stream.Stream[any] {
	switch t := v.(type) {
	case *stream.Stream[any]:
		return t
	case stream.Iterator[any]:
		return stream.From(t)
	case []any:
		return stream.FromSlice(t)
	case nil:
		return stream.Empty[any]()
	default:
		return stream.Of(v)
	}
}

// Logic is the one function a pipe author writes. It receives the input
// envelope, the run's shared state, the run context, and a run-scoped
// telemetry logger, and returns a lazy output stream. Logic must not
// eagerly compute its entire result before the first value is pulled,
// where its semantics allow laziness. Errors propagate to the caller
// unwrapped; the runtime never retries.
type Logic func(ctx context.Context, in Input, state *StateStore, rc RunContext, rl *RunLogger) (*stream.Stream[any], error)

// LogSink receives a pipe's run telemetry, one record at a time.
// Delivery is fire-and-forget: sink errors are swallowed by the owning
// pipe and never reach pipeline control flow.
type LogSink interface {
	Log(runID, key string, value any) error
}

// LogSinkFunc adapts a function to the LogSink interface.
type LogSinkFunc func(runID, key string, value any) error

func (f LogSinkFunc) Log(runID, key string, value any) error { return f(runID, key, value) }

// Pipe is a single named processing stage. It owns the per-run log queue
// lifecycle and delegates actual work to its Logic.
type Pipe struct {
	cfg     Config
	logic   Logic
	sink    LogSink
	log     *logger.Logger
	metrics *observability.Metrics
	dropped atomic.Int64
}

// PipeOption configures a Pipe.
type PipeOption func(*Pipe)

// WithSink sets the telemetry sink run records are forwarded to.
func WithSink(sink LogSink) PipeOption {
	return func(p *Pipe) { p.sink = sink }
}

// WithPipeLogger sets the operational logger.
func WithPipeLogger(log *logger.Logger) PipeOption {
	return func(p *Pipe) { p.log = log }
}

// WithMetrics attaches a metrics recorder for queue-drop accounting.
func WithMetrics(m *observability.Metrics) PipeOption {
	return func(p *Pipe) { p.metrics = m }
}

// NewPipe creates a pipe from a config and its logic.
func NewPipe(cfg Config, logic Logic, opts ...PipeOption) *Pipe {
	if cfg.MaxLogQueueSize <= 0 {
		cfg.MaxLogQueueSize = DefaultLogQueueSize
	}
	p := &Pipe{cfg: cfg, logic: logic}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.NewDefault("flow")
	}
	p.log = p.log.WithComponent(cfg.Name)
	return p
}

// Name returns the pipe's unique name.
func (p *Pipe) Name() string { return p.cfg.Name }

// Dropped returns how many telemetry records this pipe has discarded
// because its log queue was full.
func (p *Pipe) Dropped() int64 { return p.dropped.Load() }

// Run invokes the pipe's logic. It establishes the run-scoped log
// channel before the logic executes and guarantees its teardown on every
// exit path: immediate logic error, normal exhaustion of the returned
// stream, a mid-stream error, or the consumer abandoning the stream via
// Close. Teardown discards anything still queued and stops the drain
// goroutine before control returns to the caller.
func (p *Pipe) Run(ctx context.Context, in Input, state *StateStore, rc RunContext) (*stream.Stream[any], error) {
	rl := newRunLogger(rc.RunID, p)
	out, err := p.logic(ctx, in, state, rc, rl)
	if err != nil {
		rl.shutdown()
		return nil, fmt.Errorf("pipe %q: %w", p.cfg.Name, err)
	}
	return stream.New(func(sctx context.Context) stream.Iterator[any] {
		return &teardownIter{source: out.Iter(sctx), rl: rl}
	}), nil
}

// teardownIter ties the run logger's lifetime to the output stream: the
// logger shuts down when the stream is exhausted, errors, or is closed.
type teardownIter struct {
	source stream.Iterator[any]
	rl     *RunLogger
}

func (it *teardownIter) Next(ctx context.Context) (any, bool, error) {
	val, ok, err := it.source.Next(ctx)
	if err != nil || !ok {
		it.rl.shutdown()
	}
	return val, ok, err
}

func (it *teardownIter) Close() error {
	it.rl.shutdown()
	return it.source.Close()
}

// LogEntry is one queued telemetry record.
type LogEntry struct {
	RunID string
	Key   string
	Value any
}

// RunLogger is the per-invocation telemetry channel: a bounded queue
// drained by a background goroutine that forwards records to the pipe's
// sink one at a time. Enqueue never blocks the computation; once the
// queue is full new records are dropped and counted. Availability over
// completeness, for telemetry only.
type RunLogger struct {
	runID   string
	pipe    *Pipe
	entries chan LogEntry
	quit    chan struct{}
	done    chan struct{}
	stopped atomic.Bool
}

func newRunLogger(runID string, p *Pipe) *RunLogger {
	rl := &RunLogger{
		runID:   runID,
		pipe:    p,
		entries: make(chan LogEntry, p.cfg.MaxLogQueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go rl.drain()
	return rl
}

// Log enqueues a telemetry record without blocking. Records offered
// after the queue is full, or after the owning invocation finished, are
// dropped.
func (rl *RunLogger) Log(key string, value any) {
	if rl.stopped.Load() {
		return
	}
	select {
	case rl.entries <- LogEntry{RunID: rl.runID, Key: key, Value: value}:
	default:
		rl.pipe.dropped.Add(1)
		if rl.pipe.metrics != nil {
			rl.pipe.metrics.RecordLogDrop(context.Background(), rl.pipe.cfg.Name)
		}
	}
}

func (rl *RunLogger) drain() {
	defer close(rl.done)
	for {
		select {
		case e := <-rl.entries:
			rl.deliver(e)
		case <-rl.quit:
			// Discard whatever is still queued, then stop.
			for {
				select {
				case <-rl.entries:
				default:
					return
				}
			}
		}
	}
}

func (rl *RunLogger) deliver(e LogEntry) {
	if rl.pipe.sink == nil {
		return
	}
	if err := rl.pipe.sink.Log(e.RunID, e.Key, e.Value); err != nil {
		rl.pipe.log.Debug("log sink rejected record", map[string]interface{}{
			"run_id": e.RunID,
			"key":    e.Key,
			"error":  err.Error(),
		})
	}
}

// shutdown stops the drain goroutine and waits for it. Idempotent.
func (rl *RunLogger) shutdown() {
	if !rl.stopped.CompareAndSwap(false, true) {
		return
	}
	close(rl.quit)
	<-rl.done
}
