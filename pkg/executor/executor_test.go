package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub/hub/pkg/agent"
	checkpointinmem "github.com/agenthub/hub/pkg/checkpoint/inmem"
	"github.com/agenthub/hub/pkg/engine"
	engineinmem "github.com/agenthub/hub/pkg/engine/inmem"
	"github.com/agenthub/hub/pkg/handlers"
	"github.com/agenthub/hub/pkg/huberrors"
	"github.com/agenthub/hub/pkg/interrupt"
	"github.com/agenthub/hub/pkg/registry"
	regmemory "github.com/agenthub/hub/pkg/registry/store/memory"
	"github.com/agenthub/hub/pkg/run"
	threadinmem "github.com/agenthub/hub/pkg/thread/inmem"
)

type echoHandler struct{}

func (echoHandler) Execute(_ context.Context, input run.Input, _ agent.Agent) (run.Output, *run.StepError) {
	return run.Output{Response: "echo"}, nil
}

type failHandler struct{ code string }

func (h failHandler) Execute(_ context.Context, input run.Input, _ agent.Agent) (run.Output, *run.StepError) {
	return run.Output{}, &run.StepError{Code: h.code, Message: "boom"}
}

func newTestExecutor(t *testing.T, handler handlers.Handler) (*Executor, *registry.Registry) {
	t.Helper()
	reg := registry.New(registry.Config{Store: regmemory.New()})
	_, err := reg.Register(context.Background(), agent.Agent{
		AgentID:        "a1",
		Status:         agent.StatusActive,
		LifecycleState: agent.LifecycleIdle,
	})
	require.NoError(t, err)

	hreg := handlers.New()
	require.NoError(t, hreg.Register(handlers.Metadata{Name: "generic-v1", OperationType: handlers.OperationGeneric}, handler))
	router := handlers.NewRouter(hreg, handlers.DefaultRouterConfig())

	ex, err := New(Deps{
		Registry:    reg,
		Threads:     threadinmem.New(),
		Router:      router,
		Checkpoints: checkpointinmem.New(),
		Interrupts:  interrupt.New(nil, nil),
		Engine:      engineinmem.New(),
	}, Config{
		PoolSize: 1, CheckpointInterval: time.Second, DefaultTimeout: time.Second, MaxTimeout: 5 * time.Second, GraceWindow: time.Second,
	})
	require.NoError(t, err)
	return ex, reg
}

func waitForTerminal(t *testing.T, ex *Executor, runID string) run.Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r, err := ex.GetRun(runID)
		require.NoError(t, err)
		if r.Status.Terminal() {
			return r
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run never reached a terminal status")
	return run.Run{}
}

func waitForStatus(t *testing.T, ex *Executor, runID string, status run.Status) run.Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r, err := ex.GetRun(runID)
		require.NoError(t, err)
		if r.Status == status {
			return r
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run never reached status %s", status)
	return run.Run{}
}

func TestSubmit_HappyPathCompletes(t *testing.T) {
	ex, _ := newTestExecutor(t, echoHandler{})
	r, err := ex.Submit(context.Background(), SubmitRequest{
		AgentID: "a1",
		Input:   run.Input{Operation: "generic"},
	})
	require.NoError(t, err)
	assert.Equal(t, run.StatusRunning, r.Status)

	final := waitForTerminal(t, ex, r.RunID)
	assert.Equal(t, run.StatusCompleted, final.Status)
	require.NotNil(t, final.Output)
	assert.Equal(t, "echo", final.Output.Response)
}

func TestSubmit_RejectsUndispatchableAgent(t *testing.T) {
	ex, reg := newTestExecutor(t, echoHandler{})
	require.NoError(t, reg.Deprecate(context.Background(), agent.Key{AgentID: "a1"}))

	_, err := ex.Submit(context.Background(), SubmitRequest{AgentID: "a1", Input: run.Input{Operation: "generic"}})
	assert.Error(t, err)
}

func TestSubmit_RejectsWhenNoHandlerMatches(t *testing.T) {
	ex, _ := newTestExecutor(t, echoHandler{})
	_, err := ex.Submit(context.Background(), SubmitRequest{AgentID: "a1", Input: run.Input{Operation: "rag"}})
	assert.Error(t, err)
}

func TestSubmit_HandlerFailureTransitionsToFailed(t *testing.T) {
	ex, _ := newTestExecutor(t, failHandler{code: "BOOM"})
	r, err := ex.Submit(context.Background(), SubmitRequest{AgentID: "a1", Input: run.Input{Operation: "generic"}})
	require.NoError(t, err)

	final := waitForTerminal(t, ex, r.RunID)
	assert.Equal(t, run.StatusFailed, final.Status)
}

func TestCancel_TransitionsRunningRunToCancelled(t *testing.T) {
	block := make(chan struct{})
	blockingHandler := handlerFunc(func(ctx context.Context, input run.Input, a agent.Agent) (run.Output, *run.StepError) {
		<-block // never closed: the run stays "running" for the lifetime of this test
		return run.Output{}, nil
	})
	ex, _ := newTestExecutor(t, blockingHandler)

	r, err := ex.Submit(context.Background(), SubmitRequest{AgentID: "a1", Input: run.Input{Operation: "generic"}})
	require.NoError(t, err)

	cancelled, err := ex.Cancel(context.Background(), r.RunID, "user requested")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCancelled, cancelled.Status)
}

func TestCancel_PropagatesToTheEngineLevelRunContext(t *testing.T) {
	ctxCancelled := make(chan struct{})
	observingHandler := handlerFunc(func(ctx context.Context, input run.Input, a agent.Agent) (run.Output, *run.StepError) {
		<-ctx.Done()
		close(ctxCancelled)
		return run.Output{}, &run.StepError{Code: "CANCELLED", Message: "observed cancellation"}
	})
	ex, _ := newTestExecutor(t, observingHandler)

	r, err := ex.Submit(context.Background(), SubmitRequest{AgentID: "a1", Input: run.Input{Operation: "generic"}})
	require.NoError(t, err)

	_, err = ex.Cancel(context.Background(), r.RunID, "user requested")
	require.NoError(t, err)

	select {
	case <-ctxCancelled:
	case <-time.After(time.Second):
		t.Fatal("handler never observed the engine-level context cancellation")
	}
}

func TestCancel_UnknownRunReturnsNotFound(t *testing.T) {
	ex, _ := newTestExecutor(t, echoHandler{})
	_, err := ex.Cancel(context.Background(), "missing", "")
	assert.ErrorIs(t, err, run.ErrNotFound)
}

func TestCancel_IsIdempotentOnTerminalRun(t *testing.T) {
	ex, _ := newTestExecutor(t, echoHandler{})
	r, err := ex.Submit(context.Background(), SubmitRequest{AgentID: "a1", Input: run.Input{Operation: "generic"}})
	require.NoError(t, err)
	waitForTerminal(t, ex, r.RunID)

	result, err := ex.Cancel(context.Background(), r.RunID, "too late")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, result.Status)
}

func TestActiveRuns_IncrementsAndReleasesOnTerminal(t *testing.T) {
	ex, _ := newTestExecutor(t, echoHandler{})
	r, err := ex.Submit(context.Background(), SubmitRequest{AgentID: "a1", Input: run.Input{Operation: "generic"}})
	require.NoError(t, err)
	waitForTerminal(t, ex, r.RunID)
	assert.Equal(t, 0, ex.ActiveRuns("a1"))
}

func TestExecuteParallel_StrictFailsOnFirstChildError(t *testing.T) {
	ex, _ := newTestExecutor(t, echoHandler{})
	r, err := ex.Submit(context.Background(), SubmitRequest{AgentID: "a1", Input: run.Input{Operation: "generic"}})
	require.NoError(t, err)
	waitForTerminal(t, ex, r.RunID)

	ex.mu.Lock()
	rec := ex.runs[r.RunID]
	ex.mu.Unlock()
	sc := &StepContext{ctx: context.Background(), ex: ex, r: rec}

	parentID, results, stepErr := sc.ExecuteParallel("fan-out", run.ParallelStrict, []ParallelChild{
		{Name: "ok", Run: func() ([]byte, *run.StepError) { return []byte("a"), nil }},
		{Name: "bad", Run: func() ([]byte, *run.StepError) { return nil, &run.StepError{Code: "X", Message: "boom"} }},
	})
	require.NotEmpty(t, parentID)
	require.NotNil(t, stepErr)
	assert.Len(t, results, 2)
}

func TestExecuteParallel_LenientSucceedsDespiteChildError(t *testing.T) {
	ex, _ := newTestExecutor(t, echoHandler{})
	r, err := ex.Submit(context.Background(), SubmitRequest{AgentID: "a1", Input: run.Input{Operation: "generic"}})
	require.NoError(t, err)
	waitForTerminal(t, ex, r.RunID)

	ex.mu.Lock()
	rec := ex.runs[r.RunID]
	ex.mu.Unlock()
	sc := &StepContext{ctx: context.Background(), ex: ex, r: rec}

	_, results, stepErr := sc.ExecuteParallel("fan-out", run.ParallelLenient, []ParallelChild{
		{Name: "ok", Run: func() ([]byte, *run.StepError) { return []byte("a"), nil }},
		{Name: "bad", Run: func() ([]byte, *run.StepError) { return nil, &run.StepError{Code: "X", Message: "boom"} }},
	})
	assert.Nil(t, stepErr)
	assert.Len(t, results, 2)
}

type callingHandler struct{ target agent.Ident }

func (h callingHandler) Execute(ctx context.Context, input run.Input, _ agent.Agent) (run.Output, *run.StepError) {
	sc, ok := FromContext(ctx)
	if !ok {
		return run.Output{}, &run.StepError{Code: "NO_STEP_CONTEXT", Message: "handler invoked without a StepContext"}
	}
	out, err := sc.CallAgent(h.target, agent.Version{}, run.Input{Operation: "generic"})
	if err != nil {
		return run.Output{}, &run.StepError{Code: "AGENT_CALL_FAILED", Message: err.Error()}
	}
	return run.Output{Response: "parent saw: " + out.Response}, nil
}

func TestCallAgent_ParentInheritsRemainingDeadlineForChild(t *testing.T) {
	reg := registry.New(registry.Config{Store: regmemory.New()})
	_, err := reg.Register(context.Background(), agent.Agent{
		AgentID:        "a1",
		Status:         agent.StatusActive,
		LifecycleState: agent.LifecycleIdle,
		Capabilities:   agent.Capabilities{Tools: []string{"caller"}},
	})
	require.NoError(t, err)
	_, err = reg.Register(context.Background(), agent.Agent{
		AgentID:        "a2",
		Status:         agent.StatusActive,
		LifecycleState: agent.LifecycleIdle,
	})
	require.NoError(t, err)

	hreg := handlers.New()
	require.NoError(t, hreg.Register(handlers.Metadata{Name: "caller-v1", OperationType: handlers.OperationGeneric, RequiredCapabilities: []string{"caller"}, Priority: 100}, callingHandler{target: "a2"}))
	require.NoError(t, hreg.Register(handlers.Metadata{Name: "echo-v1", OperationType: handlers.OperationGeneric}, echoHandler{}))
	router := handlers.NewRouter(hreg, handlers.DefaultRouterConfig())

	ex, err := New(Deps{
		Registry:    reg,
		Threads:     threadinmem.New(),
		Router:      router,
		Checkpoints: checkpointinmem.New(),
		Interrupts:  interrupt.New(nil, nil),
		Engine:      engineinmem.New(),
	}, Config{PoolSize: 1, CheckpointInterval: time.Second, DefaultTimeout: 5 * time.Second, MaxTimeout: 10 * time.Second, GraceWindow: time.Second})
	require.NoError(t, err)

	r, err := ex.Submit(context.Background(), SubmitRequest{AgentID: "a1", Input: run.Input{Operation: "generic"}})
	require.NoError(t, err)

	final := waitForTerminal(t, ex, r.RunID)
	require.Equal(t, run.StatusCompleted, final.Status)
	require.NotNil(t, final.Output)
	assert.Equal(t, "parent saw: echo", final.Output.Response)

	var callStep *run.Step
	for i := range final.Steps {
		if final.Steps[i].Type == run.StepAgentCall {
			callStep = &final.Steps[i]
		}
	}
	require.NotNil(t, callStep)
	assert.Equal(t, run.StepStatusCompleted, callStep.Status)
	assert.Equal(t, agent.Ident("a2"), callStep.CalledAgent)
}

type suspendingHandler struct{}

func (suspendingHandler) Execute(ctx context.Context, input run.Input, _ agent.Agent) (run.Output, *run.StepError) {
	sc, ok := FromContext(ctx)
	if !ok {
		return run.Output{}, &run.StepError{Code: "NO_STEP_CONTEXT", Message: "handler invoked without a StepContext"}
	}
	resp, err := sc.Suspend(interrupt.Spec{Type: interrupt.TypeApprovalRequired, TimeoutMS: 50, ExpiryPolicy: interrupt.ExpiryFail})
	if err != nil {
		return run.Output{}, &run.StepError{Code: string(huberrors.CodeOf(err)), Message: err.Error()}
	}
	return run.Output{Response: resp.Selected}, nil
}

func TestSuspend_FailPolicyExpiryFailsTheRun(t *testing.T) {
	ex, _ := newTestExecutor(t, suspendingHandler{})

	r, err := ex.Submit(context.Background(), SubmitRequest{AgentID: "a1", Input: run.Input{Operation: "generic"}})
	require.NoError(t, err)

	waitForStatus(t, ex, r.RunID, run.StatusInterrupted)

	its, err := ex.deps.Interrupts.List(context.Background(), interrupt.Filter{RunID: r.RunID})
	require.NoError(t, err)
	require.Len(t, its, 1)
	require.NoError(t, ex.deps.Interrupts.Expire(context.Background(), its[0].InterruptID))

	final := waitForTerminal(t, ex, r.RunID)
	assert.Equal(t, run.StatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Equal(t, string(huberrors.CodeInterruptExpired), final.Error.Code)
}

func TestSuspend_ResolvedResponseResumesTheRun(t *testing.T) {
	ex, _ := newTestExecutor(t, suspendingHandler{})

	r, err := ex.Submit(context.Background(), SubmitRequest{AgentID: "a1", Input: run.Input{Operation: "generic"}})
	require.NoError(t, err)

	waitForStatus(t, ex, r.RunID, run.StatusInterrupted)

	its, err := ex.deps.Interrupts.List(context.Background(), interrupt.Filter{RunID: r.RunID})
	require.NoError(t, err)
	require.Len(t, its, 1)
	_, err = ex.deps.Interrupts.Resolve(context.Background(), its[0].InterruptID, interrupt.Response{Selected: "approved"})
	require.NoError(t, err)

	final := waitForTerminal(t, ex, r.RunID)
	assert.Equal(t, run.StatusCompleted, final.Status)
	require.NotNil(t, final.Output)
	assert.Equal(t, "approved", final.Output.Response)
}

func TestSubmit_UncooperativeHandlerForcedToTimeoutAfterGraceWindow(t *testing.T) {
	release := make(chan struct{})
	defer close(release) // let the leaked handler goroutine exit once the test is done
	uncooperativeHandler := handlerFunc(func(ctx context.Context, input run.Input, a agent.Agent) (run.Output, *run.StepError) {
		<-release // ignores ctx.Done() entirely: never returns on its own
		return run.Output{Response: "too late"}, nil
	})

	reg := registry.New(registry.Config{Store: regmemory.New()})
	_, err := reg.Register(context.Background(), agent.Agent{AgentID: "a1", Status: agent.StatusActive, LifecycleState: agent.LifecycleIdle})
	require.NoError(t, err)
	hreg := handlers.New()
	require.NoError(t, hreg.Register(handlers.Metadata{Name: "generic-v1", OperationType: handlers.OperationGeneric}, uncooperativeHandler))
	router := handlers.NewRouter(hreg, handlers.DefaultRouterConfig())

	ex, err := New(Deps{
		Registry:    reg,
		Threads:     threadinmem.New(),
		Router:      router,
		Checkpoints: checkpointinmem.New(),
		Interrupts:  interrupt.New(nil, nil),
		Engine:      engineinmem.New(),
	}, Config{
		PoolSize: 1, CheckpointInterval: time.Second,
		DefaultTimeout: 20 * time.Millisecond, MaxTimeout: time.Second,
		GraceWindow: 30 * time.Millisecond,
	})
	require.NoError(t, err)

	r, err := ex.Submit(context.Background(), SubmitRequest{AgentID: "a1", Input: run.Input{Operation: "generic"}})
	require.NoError(t, err)

	final := waitForTerminal(t, ex, r.RunID)
	assert.Equal(t, run.StatusTimeout, final.Status)
	assert.Equal(t, 0, ex.ActiveRuns("a1"))
}

// stubEngine records StartRun calls without ever invoking the
// registered handler, so recovery tests can assert on re-enqueue
// bookkeeping without racing a real driveRun goroutine.
type stubEngine struct{ started []string }

func (e *stubEngine) RegisterRunHandler(engine.RunHandler) error { return nil }
func (e *stubEngine) StartRun(_ context.Context, req engine.StartRequest) (engine.Handle, error) {
	e.started = append(e.started, req.RunID)
	return stubHandle{}, nil
}
func (e *stubEngine) QueryStatus(context.Context, string) (run.Status, error) { return "", nil }

type stubHandle struct{}

func (stubHandle) Wait(context.Context) (run.Output, error) { return run.Output{}, nil }
func (stubHandle) Cancel(context.Context) error              { return nil }

func TestRecover_SkipsTerminalAndRetriesLastRunningStep(t *testing.T) {
	checkpoints := checkpointinmem.New()
	ctx := context.Background()
	require.NoError(t, checkpoints.Save(ctx, run.Snapshot{RunID: "done", AgentID: "a1", Status: run.StatusCompleted}))
	require.NoError(t, checkpoints.Save(ctx, run.Snapshot{
		RunID: "inflight", AgentID: "a1", Status: run.StatusRunning,
		Steps: []run.Step{{StepID: "s1", Status: run.StepStatusRunning}},
	}))

	reg := registry.New(registry.Config{Store: regmemory.New()})
	_, err := reg.Register(ctx, agent.Agent{AgentID: "a1", Status: agent.StatusActive, LifecycleState: agent.LifecycleIdle})
	require.NoError(t, err)
	hreg := handlers.New()
	require.NoError(t, hreg.Register(handlers.Metadata{Name: "g", OperationType: handlers.OperationGeneric}, echoHandler{}))
	router := handlers.NewRouter(hreg, handlers.DefaultRouterConfig())

	ex, err := New(Deps{
		Registry: reg, Threads: threadinmem.New(), Router: router,
		Checkpoints: checkpoints, Interrupts: interrupt.New(nil, nil), Engine: &stubEngine{},
	}, Config{PoolSize: 1, CheckpointInterval: time.Second, DefaultTimeout: time.Second, MaxTimeout: 5 * time.Second, GraceWindow: time.Second})
	require.NoError(t, err)

	require.NoError(t, ex.Recover(ctx))

	_, err = ex.GetRun("done")
	assert.ErrorIs(t, err, run.ErrNotFound, "terminal runs should not be re-enqueued")

	recovered, err := ex.GetRun("inflight")
	require.NoError(t, err)
	require.Len(t, recovered.Steps, 1)
	assert.Equal(t, run.StepStatusPending, recovered.Steps[0].Status, "last running step should be reset for retry")
	assert.Equal(t, 1, ex.ActiveRuns("a1"))
}

// handlerFunc adapts a plain function to the handlers.Handler interface.
type handlerFunc func(ctx context.Context, input run.Input, a agent.Agent) (run.Output, *run.StepError)

func (f handlerFunc) Execute(ctx context.Context, input run.Input, a agent.Agent) (run.Output, *run.StepError) {
	return f(ctx, input, a)
}
