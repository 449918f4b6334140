package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure: at least one retrieval signal or
	// optional stage is down while the core store still answers.
	Degraded Status = "degraded"
	// Unhealthy indicates the index store itself is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	store     DBPinger
	embedding EmbeddingChecker
	events    EventChecker
}

// New creates a Service. embedding and events can be nil when those
// components are not configured.
func New(store DBPinger, embedding EmbeddingChecker, events EventChecker) *Service {
	return &Service{store: store, embedding: embedding, events: events}
}

// Check runs health checks against all components. The store is the hard
// dependency: without it, no signal can answer and the status is error.
// Everything else only degrades.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	storeOK := s.store.Ping(ctx) == nil
	if storeOK {
		checks["store"] = CheckOK
	} else {
		checks["store"] = CheckError
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
		} else {
			checks["embedding"] = CheckOK
		}
	}

	if s.events != nil {
		if s.events.Healthy() {
			checks["events"] = CheckOK
		} else {
			checks["events"] = CheckError
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if !storeOK {
		status = Unhealthy
	}

	return Report{Status: status, Checks: checks}
}
