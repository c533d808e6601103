package flow

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/ragflow/logger"
)

// RunType classifies a top-level pipeline invocation.
type RunType string

const (
	RunTypeSearch    RunType = "search"
	RunTypeRAG       RunType = "rag"
	RunTypeIngestion RunType = "ingestion"
)

// RunContext identifies one top-level pipeline invocation. It is created
// at the top of a run and threaded explicitly through every pipe and log
// call; it is never ambient state.
type RunContext struct {
	RunID   string
	RunType RunType
}

// Valid reports whether the context belongs to an acquired run scope.
func (rc RunContext) Valid() bool { return rc.RunID != "" }

// RunInfo records what the manager knows about an active run.
type RunInfo struct {
	RunType   RunType
	StartedAt time.Time
}

// RunManager tracks active runs and mints run IDs. Registrations live
// only for the duration of the enclosing run scope.
type RunManager struct {
	mu   sync.Mutex
	runs map[string]RunInfo
	log  *logger.Logger
}

// NewRunManager creates a run manager.
func NewRunManager(log *logger.Logger) *RunManager {
	if log == nil {
		log = logger.NewDefault("flow")
	}
	return &RunManager{
		runs: make(map[string]RunInfo),
		log:  log.WithComponent("run_manager"),
	}
}

// Acquire opens a run scope. If runID is empty a new one is minted. The
// returned release function removes the registration and must be called
// when the enclosing invocation returns, on every exit path.
func (m *RunManager) Acquire(runType RunType, runID string) (RunContext, func()) {
	if runID == "" {
		runID = uuid.NewString()
	}
	m.mu.Lock()
	m.runs[runID] = RunInfo{RunType: runType, StartedAt: time.Now()}
	m.mu.Unlock()

	rc := RunContext{RunID: runID, RunType: runType}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		m.mu.Lock()
		delete(m.runs, runID)
		m.mu.Unlock()
	}
	return rc, release
}

// Info returns the registration for an active run.
func (m *RunManager) Info(runID string) (RunInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.runs[runID]
	return info, ok
}

// Active returns the number of currently registered runs.
func (m *RunManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// LogRunInfo records who initiated a run. Calling it outside an active
// run scope fails with ErrNoActiveRun: that is an assertion on call
// ordering, not a condition callers should recover from.
func (m *RunManager) LogRunInfo(rc RunContext, actor string) error {
	if !rc.Valid() {
		return ErrNoActiveRun
	}
	m.mu.Lock()
	_, ok := m.runs[rc.RunID]
	m.mu.Unlock()
	if !ok {
		return ErrNoActiveRun
	}
	m.log.Info("run started", map[string]interface{}{
		"run_id":   rc.RunID,
		"run_type": string(rc.RunType),
		"actor":    actor,
	})
	return nil
}
