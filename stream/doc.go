// Package stream provides lazy, pull-based value streams.
//
// A Stream is a recipe: no work happens until values are pulled via
// Collect, Drain, or ForEach. Each stage pulls from its upstream on
// demand, which gives natural backpressure without explicit flow
// control. Streams carry a context.Context on every pull so a consumer
// can abandon a stream mid-flight and have cancellation propagate to
// whatever the producer is blocked on.
//
// Synchronous operators (Map, FlatMap, Filter, Tap) run in the caller's
// goroutine. Buffer introduces a bounded channel hand-off so production
// and consumption proceed concurrently.
package stream
