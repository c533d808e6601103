package flow

import "errors"

var (
	// ErrStageNotFound is returned by StateStore reads and deletes when the
	// named stage has never published in this run.
	ErrStageNotFound = errors.New("flow: stage not found in state")

	// ErrFieldNotFound is returned when a named field is absent from a
	// stage's published output and the caller did not supply a default.
	ErrFieldNotFound = errors.New("flow: field not found in stage output")

	// ErrDuplicatePipe is returned when a pipe with the same name is added
	// to a pipeline twice.
	ErrDuplicatePipe = errors.New("flow: duplicate pipe name")

	// ErrUnknownStage is returned when an upstream reference names a stage
	// that does not precede the pipe being added.
	ErrUnknownStage = errors.New("flow: upstream reference to unknown stage")

	// ErrNoActiveRun is returned when run-scoped logging is attempted
	// outside an active run scope. This indicates a call-ordering bug, not
	// a recoverable condition.
	ErrNoActiveRun = errors.New("flow: no run id set")

	// ErrEmptyPipeline is returned when a pipeline with no pipes is run.
	ErrEmptyPipeline = errors.New("flow: pipeline has no pipes")
)
