// Package search defines the retrieval provider contracts and the
// concrete pipes that assemble them into flow pipelines.
//
// Providers answer one query at a time (semantic, full-text, hybrid, or
// graph); the pipes here lift them into flow.Logic so the runtime can
// fan queries out, join branch results, and feed generation.
package search
