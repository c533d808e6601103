package sse

// Event type constants used on the retrieval streaming endpoints.
const (
	// EventTypeAnswer carries one generated answer.
	EventTypeAnswer = "answer"

	// EventTypeError is sent when the run fails mid-stream.
	EventTypeError = "error"

	// EventTypeDone closes a successful stream.
	EventTypeDone = "done"
)
