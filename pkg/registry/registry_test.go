package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub/hub/pkg/agent"
	"github.com/agenthub/hub/pkg/huberrors"
	"github.com/agenthub/hub/pkg/registry/store/memory"
)

func newTestRegistry() *Registry {
	return New(Config{Store: memory.New()})
}

func readyAgent(id string, weight int) agent.Agent {
	return agent.Agent{
		AgentID:        agent.Ident(id),
		Status:         agent.StatusActive,
		LifecycleState: agent.LifecycleIdle,
		RoutingWeight:  weight,
	}
}

func TestRegister_RejectsMissingAgentID(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Register(context.Background(), agent.Agent{})
	assert.True(t, huberrors.Is(err, huberrors.CodeValidationFailed))
}

func TestRegister_DefaultsLifecycleAndStatus(t *testing.T) {
	r := newTestRegistry()
	got, err := r.Register(context.Background(), agent.Agent{AgentID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, agent.LifecycleRegistered, got.LifecycleState)
	assert.Equal(t, agent.StatusActive, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestRegister_ConflictOnDuplicateNonTerminalAgent(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	_, err := r.Register(ctx, agent.Agent{AgentID: "a1"})
	require.NoError(t, err)
	_, err = r.Register(ctx, agent.Agent{AgentID: "a1"})
	assert.True(t, huberrors.Is(err, huberrors.CodeAgentConflict))
}

func TestUpdate_PreservesIdentityAndCreatedAt(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	created, err := r.Register(ctx, agent.Agent{AgentID: "a1"})
	require.NoError(t, err)

	updated, err := r.Update(ctx, created.Key(), agent.Agent{RoutingWeight: 7})
	require.NoError(t, err)
	assert.Equal(t, created.AgentID, updated.AgentID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Equal(t, 7, updated.RoutingWeight)
}

func TestUpdate_UnknownAgentReturnsNotFound(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Update(context.Background(), agent.Key{AgentID: "missing"}, agent.Agent{})
	assert.True(t, huberrors.Is(err, huberrors.CodeAgentNotFound))
}

func TestDiscover_SortsHealthyFirstThenWeightThenID(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	low := readyAgent("b-low-weight", 1)
	high := readyAgent("a-high-weight", 10)
	unhealthy := readyAgent("c-unhealthy", 100)
	unhealthy.Health.State = agent.HealthUnhealthy

	for _, a := range []agent.Agent{low, high, unhealthy} {
		_, err := r.Register(ctx, a)
		require.NoError(t, err)
	}
	// register sets Health zero-value ("") by default; mark the
	// healthy ones explicitly so sorting has something to compare.
	for _, id := range []agent.Ident{"b-low-weight", "a-high-weight"} {
		a, err := r.Get(ctx, agent.Key{AgentID: id})
		require.NoError(t, err)
		a.Health.State = agent.HealthHealthy
		require.NoError(t, r.store.Update(ctx, a))
	}

	result, err := r.Discover(ctx, DiscoverCriteria{})
	require.NoError(t, err)
	require.Len(t, result, 3)
	assert.Equal(t, agent.Ident("a-high-weight"), result[0].AgentID)
	assert.Equal(t, agent.Ident("b-low-weight"), result[1].AgentID)
	assert.Equal(t, agent.Ident("c-unhealthy"), result[2].AgentID)
}

func TestDiscover_FiltersByDomainToolAndExtensions(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	a := readyAgent("a1", 1)
	a.Capabilities.Domains = []string{"finance"}
	a.Capabilities.Tools = []string{"search"}
	a.Extensions.SupportsInterrupts = true
	_, err := r.Register(ctx, a)
	require.NoError(t, err)

	b := readyAgent("b1", 1)
	_, err = r.Register(ctx, b)
	require.NoError(t, err)

	matched, err := r.Discover(ctx, DiscoverCriteria{Domain: "finance"})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, agent.Ident("a1"), matched[0].AgentID)

	matched, err = r.Discover(ctx, DiscoverCriteria{Tool: "search"})
	require.NoError(t, err)
	require.Len(t, matched, 1)

	matched, err = r.Discover(ctx, DiscoverCriteria{RequireInterrupts: true})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, agent.Ident("a1"), matched[0].AgentID)
}

func TestCheckDispatchable_RejectsUnhealthyAndNotReady(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	a := readyAgent("a1", 1)
	a.Health.State = agent.HealthUnhealthy
	_, err := r.Register(ctx, a)
	require.NoError(t, err)
	_, err = r.CheckDispatchable(ctx, "a1", agent.Version{})
	assert.True(t, huberrors.Is(err, huberrors.CodeAgentUnhealthy))

	b := readyAgent("b1", 1)
	b.LifecycleState = agent.LifecycleDraining
	_, err = r.Register(ctx, b)
	require.NoError(t, err)
	_, err = r.CheckDispatchable(ctx, "b1", agent.Version{})
	assert.True(t, huberrors.Is(err, huberrors.CodeAgentNotReady))
}

type stubRunCounter struct{ active int }

func (s stubRunCounter) ActiveRuns(agent.Ident) int { return s.active }

func TestCheckDispatchable_GatesOnActiveRunCount(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	a := readyAgent("a1", 1)
	a.Extensions.MaxConcurrentRuns = 2
	_, err := r.Register(ctx, a)
	require.NoError(t, err)

	r.SetRunCounter(stubRunCounter{active: 2})
	_, err = r.CheckDispatchable(ctx, "a1", agent.Version{})
	assert.True(t, huberrors.Is(err, huberrors.CodeAgentNotReady))

	r.SetRunCounter(stubRunCounter{active: 1})
	got, err := r.CheckDispatchable(ctx, "a1", agent.Version{})
	require.NoError(t, err)
	assert.Equal(t, agent.Ident("a1"), got.AgentID)
}

func TestSetRoutingWeightAndDeprecate(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	_, err := r.Register(ctx, readyAgent("a1", 1))
	require.NoError(t, err)

	require.NoError(t, r.SetRoutingWeight(ctx, agent.Key{AgentID: "a1"}, 42))
	got, err := r.Get(ctx, agent.Key{AgentID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, 42, got.RoutingWeight)

	require.NoError(t, r.Deprecate(ctx, agent.Key{AgentID: "a1"}))
	got, err = r.Get(ctx, agent.Key{AgentID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, agent.StatusDeprecated, got.Status)
}
