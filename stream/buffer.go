package stream

import "context"

// Buffer introduces a bounded channel hand-off between stages. A producer
// goroutine pulls from the source and the consumer pulls from the buffer,
// decoupling production rate from consumption rate. When the buffer is
// full the producer blocks, so the bound also acts as backpressure.
func Buffer[T any](s *Stream[T], size int) *Stream[T] {
	if size <= 0 {
		size = 1
	}
	return &Stream[T]{
		open: func(ctx context.Context) Iterator[T] {
			source := s.open(ctx)
			bufCtx, cancel := context.WithCancel(ctx)
			ch := make(chan item[T], size)

			go func() {
				defer close(ch)
				for {
					val, ok, err := source.Next(bufCtx)
					if err != nil {
						select {
						case ch <- item[T]{err: err}:
						case <-bufCtx.Done():
						}
						return
					}
					if !ok {
						return
					}
					select {
					case ch <- item[T]{val: val, ok: true}:
					case <-bufCtx.Done():
						return
					}
				}
			}()

			return &chanIter[T]{
				ch: ch,
				closer: func() error {
					cancel()
					return source.Close()
				},
			}
		},
	}
}
