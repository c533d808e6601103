package stream

import "context"

// Iterator provides pull-based sequential access to a stream of values.
// The consumer calls Next to retrieve values one at a time and must call
// Close when done to release producer-side resources.
type Iterator[T any] interface {
	// Next returns the next value. Returns (zero, false, nil) when exhausted.
	Next(ctx context.Context) (T, bool, error)
	// Close releases any resources held by the iterator.
	Close() error
}

// Stream is a lazy, pull-based sequence of values. No work happens until
// values are pulled via Collect, Drain, or ForEach.
type Stream[T any] struct {
	open func(ctx context.Context) Iterator[T]
}

// item carries a value or error through a channel hand-off.
type item[T any] struct {
	val T
	ok  bool
	err error
}

// --- Constructors ---

// New creates a stream from an iterator factory. The factory is invoked
// once per consumption.
func New[T any](open func(ctx context.Context) Iterator[T]) *Stream[T] {
	return &Stream[T]{open: open}
}

// From wraps an existing iterator as a single-use stream.
func From[T any](iter Iterator[T]) *Stream[T] {
	return &Stream[T]{
		open: func(_ context.Context) Iterator[T] { return iter },
	}
}

// FromSlice creates a stream over a slice of values.
func FromSlice[T any](items []T) *Stream[T] {
	return &Stream[T]{
		open: func(_ context.Context) Iterator[T] {
			return &sliceIter[T]{items: items}
		},
	}
}

// Of creates a stream over the given values.
func Of[T any](items ...T) *Stream[T] {
	return FromSlice(items)
}

// Empty creates a stream that yields no values.
func Empty[T any]() *Stream[T] {
	return FromSlice[T](nil)
}

// FromChan creates a stream that drains a channel until it is closed.
func FromChan[T any](ch <-chan T) *Stream[T] {
	return &Stream[T]{
		open: func(_ context.Context) Iterator[T] {
			return &chanValIter[T]{ch: ch}
		},
	}
}

// --- Terminals ---

// Collect pulls every value into a slice.
func Collect[T any](ctx context.Context, s *Stream[T]) ([]T, error) {
	iter := s.open(ctx)
	defer iter.Close()
	var out []T
	for {
		val, ok, err := iter.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, val)
	}
}

// Drain pulls every value and discards it.
func Drain[T any](ctx context.Context, s *Stream[T]) error {
	return ForEach(ctx, s, func(context.Context, T) error { return nil })
}

// ForEach pulls every value and calls fn for each.
func ForEach[T any](ctx context.Context, s *Stream[T], fn func(context.Context, T) error) error {
	iter := s.open(ctx)
	defer iter.Close()
	for {
		val, ok, err := iter.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(ctx, val); err != nil {
			return err
		}
	}
}

// Iter opens the stream and returns its raw iterator. The caller owns Close.
func (s *Stream[T]) Iter(ctx context.Context) Iterator[T] {
	return s.open(ctx)
}

// --- Internal iterators ---

type sliceIter[T any] struct {
	items []T
	index int
}

func (it *sliceIter[T]) Next(_ context.Context) (T, bool, error) {
	if it.index >= len(it.items) {
		var zero T
		return zero, false, nil
	}
	val := it.items[it.index]
	it.index++
	return val, true, nil
}

func (it *sliceIter[T]) Close() error { return nil }

type chanValIter[T any] struct {
	ch <-chan T
}

func (it *chanValIter[T]) Next(ctx context.Context) (T, bool, error) {
	select {
	case val, open := <-it.ch:
		if !open {
			var zero T
			return zero, false, nil
		}
		return val, true, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

func (it *chanValIter[T]) Close() error { return nil }

// chanIter reads (value, error) items from a channel. Used by Buffer.
type chanIter[T any] struct {
	ch     <-chan item[T]
	closer func() error
}

func (it *chanIter[T]) Next(ctx context.Context) (T, bool, error) {
	select {
	case r, open := <-it.ch:
		if !open {
			var zero T
			return zero, false, nil
		}
		return r.val, r.ok, r.err
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

func (it *chanIter[T]) Close() error {
	if it.closer != nil {
		return it.closer()
	}
	return nil
}
