package server

import (
	"context"

	"github.com/kbukum/ragflow/observability"
)

// collectHealth polls every registered checker and folds the results
// into the service-level status.
func (s *Server) collectHealth(ctx context.Context) *observability.ServiceHealth {
	health := observability.NewServiceHealth(s.deps.Service, s.deps.Version)
	for _, checker := range s.deps.Health {
		health.AddComponent(checker.CheckHealth(ctx))
	}
	return health
}

// PingChecker adapts a connectivity probe (e.g. a database pool's Ping)
// to the health interface.
type PingChecker struct {
	Name string
	Ping func(ctx context.Context) error
}

// CheckHealth reports down with the probe's error message on failure.
func (p PingChecker) CheckHealth(ctx context.Context) observability.Health {
	if err := p.Ping(ctx); err != nil {
		return observability.Health{
			Name:    p.Name,
			Status:  observability.HealthStatusDown,
			Message: err.Error(),
		}
	}
	return observability.Health{Name: p.Name, Status: observability.HealthStatusUp}
}

// AvailabilityChecker adapts a boolean availability probe (e.g. the LLM
// backend's reachability check). An unavailable backend degrades the
// service rather than taking it down: retrieval still works without
// generation.
type AvailabilityChecker struct {
	Name  string
	Check func(ctx context.Context) bool
}

// CheckHealth reports degraded when the probe fails.
func (a AvailabilityChecker) CheckHealth(ctx context.Context) observability.Health {
	if !a.Check(ctx) {
		return observability.Health{
			Name:    a.Name,
			Status:  observability.HealthStatusDegraded,
			Message: "backend unreachable",
		}
	}
	return observability.Health{Name: a.Name, Status: observability.HealthStatusUp}
}
