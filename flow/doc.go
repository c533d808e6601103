// Package flow is the dataflow runtime behind ragflow's retrieval and
// generation surfaces. It composes independent processing stages (pipes)
// into linear pipelines with side-channel data sharing, and into two
// concurrent orchestration patterns: the fan-out/fan-in search pipeline
// and the per-query fan-out RAG pipeline.
//
// The execution model is lazy pull-based composition: a linear pipeline
// wires each pipe's output stream into the next pipe's input without
// scheduling anything; production is driven entirely by the final
// consumer pulling values. Only the search fan-out and the RAG per-query
// fan-out start goroutines of their own.
//
// Every run is identified by a RunContext threaded explicitly through
// each call. There is no ambient run state, so concurrent runs are
// isolated by construction.
package flow
