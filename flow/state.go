package flow

import (
	"fmt"
	"sync"
)

// StateStore is the shared mutable state of a single pipeline run: a
// mapping from stage name to that stage's published output fields.
//
// The store is a synchronization point, not a performance path, so a
// single coarse mutex guards every operation. A stage name exists in the
// store iff that stage has published at least once during the run.
type StateStore struct {
	mu     sync.Mutex
	stages map[string]map[string]any
}

// NewStateStore creates an empty state store.
func NewStateStore() *StateStore {
	return &StateStore{stages: make(map[string]map[string]any)}
}

// Publish merge-writes fields into the named stage's output. Repeated
// publishes by the same stage are last-writer-wins per field.
func (s *StateStore) Publish(stage string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.stages[stage]
	if !ok {
		out = make(map[string]any, len(fields))
		s.stages[stage] = out
	}
	for k, v := range fields {
		out[k] = v
	}
}

// Read returns the named field from a stage's published output. Reading
// from a stage that never published fails with ErrStageNotFound; a
// missing field returns the caller-supplied default.
func (s *StateStore) Read(stage, field string, def any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.stages[stage]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStageNotFound, stage)
	}
	val, ok := out[field]
	if !ok {
		return def, nil
	}
	return val, nil
}

// ReadField is Read without a default: a missing field is an error.
// Pipeline upstream-reference resolution uses this so that a dangling
// reference fails loudly instead of silently binding nil.
func (s *StateStore) ReadField(stage, field string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.stages[stage]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStageNotFound, stage)
	}
	val, ok := out[field]
	if !ok {
		return nil, fmt.Errorf("%w: %q.%q", ErrFieldNotFound, stage, field)
	}
	return val, nil
}

// Delete removes a single field from a stage's output, or the whole
// stage entry when field is empty. Deleting an absent stage or field is
// an error.
func (s *StateStore) Delete(stage, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.stages[stage]
	if !ok {
		return fmt.Errorf("%w: %q", ErrStageNotFound, stage)
	}
	if field == "" {
		delete(s.stages, stage)
		return nil
	}
	if _, ok := out[field]; !ok {
		return fmt.Errorf("%w: %q.%q", ErrFieldNotFound, stage, field)
	}
	delete(out, field)
	return nil
}

// Has reports whether the named stage has published in this run.
func (s *StateStore) Has(stage string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stages[stage]
	return ok
}
