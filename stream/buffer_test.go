package stream

import (
	"context"
	"errors"
	"testing"
)

func TestBufferPreservesOrder(t *testing.T) {
	s := Buffer(Of(1, 2, 3, 4, 5), 2)
	got, err := Collect(context.Background(), s)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for i, v := range []int{1, 2, 3, 4, 5} {
		if got[i] != v {
			t.Errorf("got[%d] = %d, want %d", i, got[i], v)
		}
	}
}

func TestBufferPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	src := Map(Of(1, 2, 3), func(_ context.Context, v int) (int, error) {
		if v == 3 {
			return 0, boom
		}
		return v, nil
	})
	got, err := Collect(context.Background(), Buffer(src, 1))
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d values before error, want 2", len(got))
	}
}

func TestBufferCloseStopsProducer(t *testing.T) {
	// An unbounded source; closing the iterator must cancel the producer
	// goroutine rather than leave it blocked on the hand-off channel.
	n := 0
	src := New(func(_ context.Context) Iterator[int] {
		return &funcIter{fn: func() (int, bool, error) {
			n++
			return n, true, nil
		}}
	})

	iter := Buffer(src, 1).Iter(context.Background())
	if _, ok, err := iter.Next(context.Background()); !ok || err != nil {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if err := iter.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

type funcIter struct {
	fn func() (int, bool, error)
}

func (it *funcIter) Next(_ context.Context) (int, bool, error) { return it.fn() }
func (it *funcIter) Close() error                              { return nil }
