// Package registry implements the Agent Registry: the authoritative
// catalog of agents, their capabilities, lifecycle state, and health
// (§2, §4.1).
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agenthub/hub/pkg/agent"
	"github.com/agenthub/hub/pkg/bus"
	"github.com/agenthub/hub/pkg/huberrors"
	"github.com/agenthub/hub/pkg/registry/store"
	"github.com/agenthub/hub/pkg/telemetry"
)

// ActiveRunCounter lets the registry gate dispatch on the executor's
// live active-run count for an agent (§4.1 gating: "active-run count <
// max_concurrent_runs"), without the registry depending on the
// executor package.
type ActiveRunCounter interface {
	ActiveRuns(agentID agent.Ident) int
}

// Config configures a Registry.
type Config struct {
	Store        store.Store
	Bus          *bus.Bus
	Logger       telemetry.Logger
	Metrics      telemetry.Metrics
	Health       HealthConfig
	Prober       Prober
	RunCounter   ActiveRunCounter
}

// Registry is the Agent Registry component.
type Registry struct {
	store      store.Store
	bus        *bus.Bus
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	runCounter  ActiveRunCounter
	health      *healthTracker
	healthCfg   HealthConfig
	probeLimiter *rate.Limiter

	mu     sync.Mutex
	stopCh chan struct{}
}

// New constructs a Registry from cfg. If cfg.Logger/Metrics/Bus are
// nil, noop/zero-value defaults are used.
func New(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewNoopMetrics()
	}
	if cfg.Health.Interval == 0 {
		cfg.Health = DefaultHealthConfig()
	}
	probeRate := cfg.Health.ProbeRatePerSecond
	if probeRate == 0 {
		probeRate = DefaultHealthConfig().ProbeRatePerSecond
	}
	r := &Registry{
		store:        cfg.Store,
		bus:          cfg.Bus,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		runCounter:   cfg.RunCounter,
		healthCfg:    cfg.Health,
		probeLimiter: rate.NewLimiter(rate.Limit(probeRate), int(probeRate)+1),
		stopCh:       make(chan struct{}),
	}
	if cfg.Prober != nil {
		r.health = newHealthTracker(cfg.Health, cfg.Prober, cfg.Bus, cfg.Logger)
	}
	return r
}

// SetRunCounter wires the executor's live active-run counts into
// dispatch gating after both components are constructed, breaking the
// constructor cycle between Registry and Executor.
func (r *Registry) SetRunCounter(rc ActiveRunCounter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runCounter = rc
}

// Register creates a new agent record (§4.1 `register`).
func (r *Registry) Register(ctx context.Context, spec agent.Agent) (agent.Agent, error) {
	if spec.AgentID == "" {
		return agent.Agent{}, huberrors.New(huberrors.CodeValidationFailed, "agent_id is required")
	}
	now := time.Now()
	spec.CreatedAt = now
	spec.UpdatedAt = now
	if spec.LifecycleState == "" {
		spec.LifecycleState = agent.LifecycleRegistered
	}
	if spec.Status == "" {
		spec.Status = agent.StatusActive
	}
	if err := r.store.Create(ctx, spec); err != nil {
		if err == store.ErrConflict {
			return agent.Agent{}, huberrors.NewWithCause(huberrors.CodeAgentConflict, "agent already registered", err)
		}
		return agent.Agent{}, huberrors.NewWithCause(huberrors.CodeRunExecutionFailed, "register failed", err)
	}
	r.logger.Info(ctx, "agent registered", telemetry.KV{K: "agent_id", V: string(spec.AgentID)})
	r.publishHealthChanged(ctx, spec)
	return spec, nil
}

// Update applies patch to the agent identified by key (§4.1 `update`).
// patch is applied by the caller; Update persists whatever Agent value
// is passed, preserving identity and CreatedAt.
func (r *Registry) Update(ctx context.Context, key agent.Key, patch agent.Agent) (agent.Agent, error) {
	existing, err := r.store.Get(ctx, key)
	if err != nil {
		return agent.Agent{}, huberrors.NewWithCause(huberrors.CodeAgentNotFound, "agent not found", err)
	}
	patch.AgentID = existing.AgentID
	patch.Version = existing.Version
	patch.CreatedAt = existing.CreatedAt
	patch.UpdatedAt = time.Now()
	if err := r.store.Update(ctx, patch); err != nil {
		return agent.Agent{}, huberrors.NewWithCause(huberrors.CodeRunExecutionFailed, "update failed", err)
	}
	r.publishHealthChanged(ctx, patch)
	return patch, nil
}

// Delete removes the agent record at key (§4.1 `delete`).
func (r *Registry) Delete(ctx context.Context, key agent.Key) error {
	if err := r.store.Delete(ctx, key); err != nil {
		return huberrors.NewWithCause(huberrors.CodeRunExecutionFailed, "delete failed", err)
	}
	return nil
}

// Get returns the agent record at key (§4.1 `get`).
func (r *Registry) Get(ctx context.Context, key agent.Key) (agent.Agent, error) {
	a, err := r.store.Get(ctx, key)
	if err != nil {
		return agent.Agent{}, huberrors.NewWithCause(huberrors.CodeAgentNotFound, "agent not found", err)
	}
	return a, nil
}

// DiscoverCriteria narrows Discover's results (§4.1 `discover`).
type DiscoverCriteria struct {
	System             string
	Type               string
	Status             agent.Status
	Domain             string
	Tool               string
	RequireThreads     bool
	RequireInterrupts  bool
	RequireStreaming   bool
}

func (c DiscoverCriteria) matches(a agent.Agent) bool {
	if c.System != "" && a.System != c.System {
		return false
	}
	if c.Type != "" && a.Type != c.Type {
		return false
	}
	if c.Status != "" && a.Status != c.Status {
		return false
	}
	if c.Domain != "" && !contains(a.Capabilities.Domains, c.Domain) {
		return false
	}
	if c.Tool != "" && !a.Capabilities.HasTool(c.Tool) {
		return false
	}
	if c.RequireThreads && !a.Extensions.SupportsThreads {
		return false
	}
	if c.RequireInterrupts && !a.Extensions.SupportsInterrupts {
		return false
	}
	if c.RequireStreaming && !a.Extensions.SupportsStreaming {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Discover returns agents matching criteria, sorted healthy-first,
// then by routing weight descending, then lexicographically by
// agent_id (§4.1 contract).
func (r *Registry) Discover(ctx context.Context, criteria DiscoverCriteria) ([]agent.Agent, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, huberrors.NewWithCause(huberrors.CodeRunExecutionFailed, "discover failed", err)
	}
	var matched []agent.Agent
	for _, a := range all {
		if criteria.matches(a) {
			matched = append(matched, a)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		hi, hj := matched[i].Health.State == agent.HealthHealthy, matched[j].Health.State == agent.HealthHealthy
		if hi != hj {
			return hi
		}
		if matched[i].RoutingWeight != matched[j].RoutingWeight {
			return matched[i].RoutingWeight > matched[j].RoutingWeight
		}
		return matched[i].AgentID < matched[j].AgentID
	})
	return matched, nil
}

// Health returns the agent's current HealthStatus (§4.1 `health`).
func (r *Registry) Health(ctx context.Context, id agent.Ident, version agent.Version) (agent.HealthStatus, error) {
	a, err := r.store.Get(ctx, agent.Key{AgentID: id, Version: version})
	if err != nil {
		return agent.HealthStatus{}, huberrors.NewWithCause(huberrors.CodeAgentNotFound, "agent not found", err)
	}
	return a.Health, nil
}

// SetRoutingWeight updates an agent's routing weight (§4.1
// `set_routing_weight`).
func (r *Registry) SetRoutingWeight(ctx context.Context, key agent.Key, weight int) error {
	a, err := r.store.Get(ctx, key)
	if err != nil {
		return huberrors.NewWithCause(huberrors.CodeAgentNotFound, "agent not found", err)
	}
	a.RoutingWeight = weight
	a.UpdatedAt = time.Now()
	return r.store.Update(ctx, a)
}

// Deprecate marks an agent deprecated (§4.1 `deprecate`).
func (r *Registry) Deprecate(ctx context.Context, key agent.Key) error {
	a, err := r.store.Get(ctx, key)
	if err != nil {
		return huberrors.NewWithCause(huberrors.CodeAgentNotFound, "agent not found", err)
	}
	a.Status = agent.StatusDeprecated
	a.UpdatedAt = time.Now()
	return r.store.Update(ctx, a)
}

// CheckDispatchable gates dispatch per §4.1: "Dispatch to an agent
// succeeds only if status = active and lifecycle_state in {ready,
// idle, running} and active-run count < max_concurrent_runs."
func (r *Registry) CheckDispatchable(ctx context.Context, id agent.Ident, version agent.Version) (agent.Agent, error) {
	a, err := r.store.Get(ctx, agent.Key{AgentID: id, Version: version})
	if err != nil {
		return agent.Agent{}, huberrors.NewWithCause(huberrors.CodeAgentNotFound, "agent not found", err)
	}
	if a.Health.State == agent.HealthUnhealthy {
		return agent.Agent{}, huberrors.New(huberrors.CodeAgentUnhealthy, "agent is unhealthy")
	}
	if !a.Dispatchable() {
		return agent.Agent{}, huberrors.New(huberrors.CodeAgentNotReady, "agent is not ready")
	}
	if r.runCounter != nil && a.Extensions.MaxConcurrentRuns > 0 {
		if r.runCounter.ActiveRuns(a.AgentID) >= a.Extensions.MaxConcurrentRuns {
			return agent.Agent{}, huberrors.New(huberrors.CodeAgentNotReady, "agent at max concurrent runs")
		}
	}
	return a, nil
}

// StartHealthProbes launches the periodic health-probe loop. It
// returns immediately; call Stop to end it.
func (r *Registry) StartHealthProbes(ctx context.Context) {
	if r.health == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(r.healthCfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.probeAll(ctx)
			}
		}
	}()
}

// Stop ends the health-probe loop.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	if r.health != nil {
		r.health.stop()
	}
}

func (r *Registry) probeAll(ctx context.Context) {
	all, err := r.store.List(ctx)
	if err != nil {
		r.logger.Warn(ctx, "health probe: list failed", telemetry.KV{K: "error", V: err.Error()})
		return
	}
	for _, a := range all {
		if err := r.probeLimiter.Wait(ctx); err != nil {
			return
		}
		result, err := r.health.prober.Probe(ctx, a.AgentID)
		if err != nil {
			result = ProbeResult{CriticalFailure: true}
		}
		status := r.health.classify(a.Key(), result)
		if status.State == a.Health.State {
			continue
		}
		a.Health = status
		a.UpdatedAt = time.Now()
		if err := r.store.Update(ctx, a); err != nil {
			r.logger.Warn(ctx, "health probe: update failed", telemetry.KV{K: "agent_id", V: string(a.AgentID)})
			continue
		}
		r.publishHealthChanged(ctx, a)
	}
}

func (r *Registry) publishHealthChanged(ctx context.Context, a agent.Agent) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(ctx, bus.Event{
		Type:      "agent:health_changed",
		AgentID:   string(a.AgentID),
		Timestamp: time.Now().UnixNano(),
		Payload:   a.Health,
	})
}
