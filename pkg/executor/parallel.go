package executor

import (
	"sync"

	"github.com/agenthub/hub/pkg/run"
)

// ParallelChild is one child unit of a parallel_execution step.
type ParallelChild struct {
	Name string
	Run  func() (json []byte, err *run.StepError)
}

// ParallelResult is one child's outcome.
type ParallelResult struct {
	Name   string
	Output []byte
	Error  *run.StepError
}

// ExecuteParallel dispatches children concurrently under a single
// parallel_execution parent step; they share the parent's deadline
// (already enforced by sc.Context()). A child failure either fails
// the whole step (strict) or is recorded alongside the surviving
// results (lenient), per the parent step's ParallelPolicy (§4.4, §9
// open question resolution in SPEC_FULL.md).
func (s *StepContext) ExecuteParallel(name string, policy run.ParallelPolicy, children []ParallelChild) (string, []ParallelResult, *run.StepError) {
	parentID := s.AddStep(run.StepParallelExecution, name, nil)
	s.ex.mu.Lock()
	for i := range s.r.Steps {
		if s.r.Steps[i].StepID == parentID {
			s.r.Steps[i].ParallelPolicy = policy
		}
	}
	s.ex.mu.Unlock()
	s.StartStep(parentID)

	results := make([]ParallelResult, len(children))
	var wg sync.WaitGroup
	for i, child := range children {
		wg.Add(1)
		go func(i int, child ParallelChild) {
			defer wg.Done()
			childStepID := s.AddStep(run.StepToolCall, child.Name, nil)
			s.ex.mu.Lock()
			for j := range s.r.Steps {
				if s.r.Steps[j].StepID == childStepID {
					s.r.Steps[j].ParentStepID = parentID
				}
			}
			s.ex.mu.Unlock()
			s.StartStep(childStepID)
			out, err := child.Run()
			s.CompleteStep(childStepID, out, err)
			results[i] = ParallelResult{Name: child.Name, Output: out, Error: err}
		}(i, child)
	}
	wg.Wait()

	var firstErr *run.StepError
	for _, r := range results {
		if r.Error != nil {
			firstErr = r.Error
			break
		}
	}

	if firstErr != nil && policy == run.ParallelStrict {
		s.CompleteStep(parentID, nil, firstErr)
		return parentID, results, firstErr
	}
	s.CompleteStep(parentID, nil, nil)
	return parentID, results, nil
}
