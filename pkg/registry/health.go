package registry

import (
	"context"
	"sync"
	"time"

	"github.com/agenthub/hub/pkg/agent"
	"github.com/agenthub/hub/pkg/bus"
	"github.com/agenthub/hub/pkg/telemetry"
)

// ProbeResult is what one health probe collects for one agent (§4.1).
type ProbeResult struct {
	AverageLatencyMS float64
	SuccessRate      float64
	ActiveRuns       int
	QueuedRuns       int
	ComponentChecks  map[string]bool
	// Critical marks component checks whose failure forces unhealthy
	// regardless of streak, vs. a non-critical degrade.
	CriticalFailure bool
}

// Prober collects a ProbeResult for one agent. Implementations call out
// to the agent's actual health endpoint; this package only defines the
// contract and the composite-status aggregation, separate from the
// transport that actually pings an agent.
type Prober interface {
	Probe(ctx context.Context, id agent.Ident) (ProbeResult, error)
}

// HealthConfig tunes probe cadence and thresholds (§4.1).
type HealthConfig struct {
	Interval         time.Duration
	SuccessRateFloor float64
	UnhealthyStreak  int
	// ProbeRatePerSecond caps how fast probeAll fans out across a large
	// agent population, so one probe sweep cannot burst the prober's
	// backing transport. Zero means DefaultHealthConfig's rate.
	ProbeRatePerSecond float64
}

// DefaultHealthConfig matches the defaults named in §4.1.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Interval:           30 * time.Second,
		SuccessRateFloor:   0.9,
		UnhealthyStreak:    3,
		ProbeRatePerSecond: 50,
	}
}

type healthTracker struct {
	mu       sync.Mutex
	cfg      HealthConfig
	prober   Prober
	bus      *bus.Bus
	logger   telemetry.Logger
	streaks  map[agent.Key]int
	stopOnce sync.Once
	stopCh   chan struct{}
}

func newHealthTracker(cfg HealthConfig, prober Prober, b *bus.Bus, logger telemetry.Logger) *healthTracker {
	return &healthTracker{
		cfg:     cfg,
		prober:  prober,
		bus:     b,
		logger:  logger,
		streaks: make(map[agent.Key]int),
		stopCh:  make(chan struct{}),
	}
}

// classify aggregates one ProbeResult into a composite HealthStatus,
// per §4.1: "healthy if all component checks pass and success rate >=
// floor; degraded if any non-critical component degrades; unhealthy if
// any critical component fails or the unhealthy streak reaches the
// threshold."
func (h *healthTracker) classify(key agent.Key, result ProbeResult) agent.HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	allPass := true
	for _, ok := range result.ComponentChecks {
		if !ok {
			allPass = false
			break
		}
	}

	state := agent.HealthHealthy
	switch {
	case result.CriticalFailure:
		state = agent.HealthUnhealthy
	case !allPass:
		state = agent.HealthDegraded
	case result.SuccessRate < h.cfg.SuccessRateFloor:
		state = agent.HealthDegraded
	}

	if state != agent.HealthUnhealthy {
		h.streaks[key] = 0
	} else {
		h.streaks[key]++
	}
	if h.streaks[key] >= h.cfg.UnhealthyStreak {
		state = agent.HealthUnhealthy
	}

	return agent.HealthStatus{
		State:            state,
		AverageLatencyMS: result.AverageLatencyMS,
		SuccessRate:      result.SuccessRate,
		ActiveRuns:       result.ActiveRuns,
		QueuedRuns:       result.QueuedRuns,
		UnhealthyStreak:  h.streaks[key],
		CheckedAt:        time.Now(),
		ComponentChecks:  result.ComponentChecks,
	}
}

func (h *healthTracker) stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}
