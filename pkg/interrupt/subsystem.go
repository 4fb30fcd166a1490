package interrupt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub/hub/pkg/bus"
	"github.com/agenthub/hub/pkg/huberrors"
	"github.com/agenthub/hub/pkg/telemetry"
)

// ResumeSignal is delivered to whatever is waiting on a run's resume
// channel once its interrupt resolves or expires, one way or another:
// the handler observes a resume signal and continues from the
// post-interrupt position (§9), either with the interrupt's response,
// with a null response (expired under ExpiryContinueWithoutResponse),
// or with ExpiredFailed set (expired under ExpiryFail, §4.5 expiry),
// which the caller must turn into a terminal run failure.
type ResumeSignal struct {
	RunID         string
	InterruptID   string
	Response      *Response
	ExpiredNull   bool
	ExpiredFailed bool
}

// Subsystem is the Interrupt Subsystem component.
type Subsystem struct {
	mu          sync.Mutex
	interrupts  map[string]*Interrupt
	activeByRun map[string]string // run_id -> interrupt_id currently non-terminal
	resumeChans map[string]chan ResumeSignal

	bus    *bus.Bus
	logger telemetry.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New returns an empty Subsystem.
func New(b *bus.Bus, logger telemetry.Logger) *Subsystem {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Subsystem{
		interrupts:  make(map[string]*Interrupt),
		activeByRun: make(map[string]string),
		resumeChans: make(map[string]chan ResumeSignal),
		bus:         b,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

// Create stores a new interrupt and publishes interrupt:created and
// run:interrupted (§4.5 protocol). It does not change the run's own
// status; StepContext.Suspend in pkg/executor does that.
func (s *Subsystem) Create(ctx context.Context, spec Spec) (Interrupt, error) {
	if spec.RunID == "" {
		return Interrupt{}, huberrors.New(huberrors.CodeValidationFailed, "run_id is required")
	}
	s.mu.Lock()
	if existing, ok := s.activeByRun[spec.RunID]; ok {
		s.mu.Unlock()
		return Interrupt{}, huberrors.NewWithCause(huberrors.CodeInterruptConflict, fmt.Sprintf("run %s already has active interrupt %s", spec.RunID, existing), ErrConflict)
	}
	now := time.Now()
	policy := spec.ExpiryPolicy
	if policy == "" {
		policy = ExpiryFail
	}
	it := &Interrupt{
		InterruptID:  uuid.NewString(),
		RunID:        spec.RunID,
		ThreadID:     spec.ThreadID,
		AgentID:      spec.AgentID,
		Type:         spec.Type,
		Priority:     spec.Priority,
		Status:       StatusPending,
		Payload:      spec.Payload,
		TimeoutMS:    spec.TimeoutMS,
		ExpiryPolicy: policy,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(spec.TimeoutMS) * time.Millisecond),
	}
	s.interrupts[it.InterruptID] = it
	s.activeByRun[spec.RunID] = it.InterruptID
	s.mu.Unlock()

	s.publish(ctx, "interrupt:created", it)
	s.publish(ctx, "run:interrupted", it)
	return *it, nil
}

// List returns interrupts matching filter (§4.5 `list`).
func (s *Subsystem) List(_ context.Context, filter Filter) ([]Interrupt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Interrupt
	for _, it := range s.interrupts {
		if filter.RunID != "" && it.RunID != filter.RunID {
			continue
		}
		if filter.Status != "" && it.Status != filter.Status {
			continue
		}
		out = append(out, *it)
	}
	return out, nil
}

// Get returns the interrupt at id (§4.5 `get`).
func (s *Subsystem) Get(_ context.Context, id string) (Interrupt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.interrupts[id]
	if !ok {
		return Interrupt{}, ErrNotFound
	}
	return *it, nil
}

// Acknowledge transitions pending -> notified, an optional step in
// the notification protocol (§4.5).
func (s *Subsystem) Acknowledge(_ context.Context, id string) error {
	return s.transitionNotify(id, StatusNotified)
}

// View transitions an interrupt to viewed (§4.5).
func (s *Subsystem) View(_ context.Context, id string) error {
	return s.transitionNotify(id, StatusViewed)
}

func (s *Subsystem) transitionNotify(id string, next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.interrupts[id]
	if !ok {
		return ErrNotFound
	}
	if it.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	it.Status = next
	return nil
}

// Resolve writes the response, marks the interrupt resolved, and
// signals the owning run to resume (§4.5 `resolve`). Competing
// resolves race safely: only the first to observe a non-terminal
// status wins, the rest see ErrConflict.
func (s *Subsystem) Resolve(ctx context.Context, id string, response Response) (Interrupt, error) {
	s.mu.Lock()
	it, ok := s.interrupts[id]
	if !ok {
		s.mu.Unlock()
		return Interrupt{}, ErrNotFound
	}
	if it.Status.Terminal() {
		s.mu.Unlock()
		return Interrupt{}, huberrors.NewWithCause(huberrors.CodeInterruptConflict, "interrupt already resolved", ErrConflict)
	}
	now := time.Now()
	it.Status = StatusResolved
	it.Response = &response
	it.ResolvedAt = &now
	delete(s.activeByRun, it.RunID)
	runID := it.RunID
	result := *it
	s.mu.Unlock()

	s.signalResume(runID, ResumeSignal{RunID: runID, InterruptID: id, Response: &response})
	s.publish(ctx, "interrupt:resolved", &result)
	return result, nil
}

// Cancel transitions an interrupt to cancelled without resuming the
// run (used by Run Executor cancellation, §4.4: "resolves any owning
// interrupt with status = cancelled").
func (s *Subsystem) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	it, ok := s.interrupts[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if it.Status.Terminal() {
		s.mu.Unlock()
		return nil
	}
	it.Status = StatusCancelled
	delete(s.activeByRun, it.RunID)
	result := *it
	s.mu.Unlock()
	s.publish(ctx, "interrupt:cancelled", &result)
	return nil
}

// CancelByRun cancels whatever non-terminal interrupt belongs to runID,
// if any. It is a no-op if the run has none.
func (s *Subsystem) CancelByRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	id, ok := s.activeByRun[runID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Cancel(ctx, id)
}

// Expire transitions a single interrupt to expired and applies its
// ExpiryPolicy (§4.5 expiry), used both by the sweeper and for direct
///tests.
func (s *Subsystem) Expire(ctx context.Context, id string) error {
	s.mu.Lock()
	it, ok := s.interrupts[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if it.Status.Terminal() {
		s.mu.Unlock()
		return nil
	}
	it.Status = StatusExpired
	delete(s.activeByRun, it.RunID)
	result := *it
	s.mu.Unlock()

	s.publish(ctx, "interrupt:expired", &result)
	if result.ExpiryPolicy == ExpiryContinueWithoutResponse {
		s.signalResume(result.RunID, ResumeSignal{RunID: result.RunID, InterruptID: id, ExpiredNull: true})
	} else {
		s.publish(ctx, "run:interrupt_expired_failed", &result)
		s.signalResume(result.RunID, ResumeSignal{RunID: result.RunID, InterruptID: id, ExpiredFailed: true})
	}
	return nil
}

// WaitResume blocks until runID's owning interrupt resolves or
// expires (under either expiry policy), or ctx is done. A signal sent
// before WaitResume is called stays buffered and is returned by the
// next WaitResume for that run. This is the executor-facing
// half of the "coroutine control flow for interrupts" design note
// (§9): the run's driving goroutine calls WaitResume at the suspension
// point and continues from the post-interrupt position once it
// returns.
func (s *Subsystem) WaitResume(ctx context.Context, runID string) (ResumeSignal, error) {
	ch := s.resumeChan(runID)
	select {
	case sig := <-ch:
		s.mu.Lock()
		if s.resumeChans[runID] == ch {
			delete(s.resumeChans, runID)
		}
		s.mu.Unlock()
		return sig, nil
	case <-ctx.Done():
		return ResumeSignal{}, ctx.Err()
	}
}

func (s *Subsystem) resumeChan(runID string) chan ResumeSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.resumeChans[runID]
	if !ok {
		ch = make(chan ResumeSignal, 1)
		s.resumeChans[runID] = ch
	}
	return ch
}

func (s *Subsystem) signalResume(runID string, sig ResumeSignal) {
	ch := s.resumeChan(runID)
	select {
	case ch <- sig:
	default:
		// The buffered slot of 1 already holds a signal that no
		// WaitResume has received yet; the newer signal is dropped.
	}
}

// StartExpirySweeper launches the background scan that expires
// interrupts past their ExpiresAt (§4.5 "A dedicated sweeper scans
// pending interrupts at a fixed cadence").
func (s *Subsystem) StartExpirySweeper(ctx context.Context, cadence time.Duration) {
	go func() {
		ticker := time.NewTicker(cadence)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweepExpired(ctx)
			}
		}
	}()
}

func (s *Subsystem) sweepExpired(ctx context.Context) {
	now := time.Now()
	s.mu.Lock()
	var due []string
	for id, it := range s.interrupts {
		if it.Status.NonTerminalActive() && now.After(it.ExpiresAt) {
			due = append(due, id)
		}
	}
	s.mu.Unlock()
	for _, id := range due {
		if err := s.Expire(ctx, id); err != nil {
			s.logger.Warn(ctx, "interrupt sweeper: expire failed", telemetry.KV{K: "interrupt_id", V: id})
		}
	}
}

// Stop ends the expiry sweeper.
func (s *Subsystem) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Subsystem) publish(ctx context.Context, eventType string, it *Interrupt) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, bus.Event{
		Type:      bus.EventType(eventType),
		RunID:     it.RunID,
		AgentID:   it.AgentID,
		ThreadID:  it.ThreadID,
		Timestamp: time.Now().UnixNano(),
		Payload:   *it,
	})
}
