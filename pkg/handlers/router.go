package handlers

import (
	"sort"
	"strings"

	"github.com/agenthub/hub/pkg/agent"
	"github.com/agenthub/hub/pkg/run"
)

// RouterConfig tunes routing thresholds (§4.3).
type RouterConfig struct {
	MinConfidence            float64
	CapabilityFilterEnabled  bool
}

// DefaultRouterConfig matches the default named in §4.3.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{MinConfidence: 0.5, CapabilityFilterEnabled: true}
}

// Router picks a handler for a run's input.
type Router struct {
	registry *Registry
	cfg      RouterConfig
}

// NewRouter builds a Router over registry.
func NewRouter(registry *Registry, cfg RouterConfig) *Router {
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = DefaultRouterConfig().MinConfidence
	}
	return &Router{registry: registry, cfg: cfg}
}

// Phase names which routing phase selected the winning candidate,
// recorded for observability only (§4.3: "not used for control flow").
type Phase string

const (
	PhaseExplicit   Phase = "explicit"
	PhasePattern    Phase = "pattern"
)

// candidate is a handler scored during routing.
type candidate struct {
	entry      entry
	confidence float64
	phase      Phase
}

// RouteTrace records every candidate considered during one Route call,
// resolving §9's recommendation that routing stay debuggable: the
// full candidate list survives past the final pick, alongside the
// primary outcome.
type RouteTrace struct {
	Input      run.Input
	Candidates []CandidateTrace
	Winner     *CandidateTrace
}

// CandidateTrace is one handler's scoring result within a RouteTrace.
type CandidateTrace struct {
	Name       string
	Version    agent.Version
	Operation  Operation
	Confidence float64
	Phase      Phase
	Rejected   string // non-empty if filtered out, naming why
}

// Decision is the router's (handler, confidence, reason) tuple.
type Decision struct {
	Handler    Handler
	Metadata   Metadata
	Confidence float64
	Reason     string
	Trace      RouteTrace
}

// Route implements §4.3's four-phase routing algorithm.
func (rt *Router) Route(input run.Input, a agent.Agent) (Decision, error) {
	trace := RouteTrace{Input: input}

	var candidates []candidate
	if input.Operation != "" {
		// Phase 1: explicit.
		op := Operation(input.Operation)
		for _, e := range rt.registry.candidatesFor(op) {
			candidates = append(candidates, candidate{entry: e, confidence: 1.0, phase: PhaseExplicit})
		}
	} else {
		// Phase 3: pattern detection (phase 2, capability filter, is
		// applied uniformly below regardless of how candidates were
		// seeded).
		op, confidence := detectPattern(input)
		if op != "" {
			for _, e := range rt.registry.candidatesFor(op) {
				candidates = append(candidates, candidate{entry: e, confidence: confidence, phase: PhasePattern})
			}
		}
	}

	// Phase 2: capability filter.
	var filtered []candidate
	for _, c := range candidates {
		ct := CandidateTrace{
			Name: c.entry.meta.Name, Version: c.entry.meta.Version,
			Operation: c.entry.meta.OperationType, Confidence: c.confidence, Phase: c.phase,
		}
		if rt.cfg.CapabilityFilterEnabled && !requiredCapsSubset(c.entry.meta.RequiredCapabilities, a) {
			ct.Rejected = "capability filter"
			trace.Candidates = append(trace.Candidates, ct)
			continue
		}
		if err := validateContextAgainstSchema(input.Context, c.entry.meta.InputSchema); err != nil {
			ct.Rejected = "schema: " + err.Error()
			trace.Candidates = append(trace.Candidates, ct)
			continue
		}
		trace.Candidates = append(trace.Candidates, ct)
		filtered = append(filtered, c)
	}

	if len(filtered) == 0 {
		return Decision{Trace: trace}, ErrNoHandler
	}

	// Phase 4: selection - max priority, ties by higher version then
	// lexicographic name.
	sort.SliceStable(filtered, func(i, j int) bool {
		pi, pj := filtered[i].entry.meta.Priority, filtered[j].entry.meta.Priority
		if pi != pj {
			return pi > pj
		}
		if cmp := filtered[i].entry.meta.Version.Compare(filtered[j].entry.meta.Version); cmp != 0 {
			return cmp > 0
		}
		return filtered[i].entry.meta.Name < filtered[j].entry.meta.Name
	})

	winner := filtered[0]
	if winner.confidence < rt.cfg.MinConfidence {
		return Decision{Trace: trace}, ErrNoHandler
	}

	winnerTrace := CandidateTrace{
		Name: winner.entry.meta.Name, Version: winner.entry.meta.Version,
		Operation: winner.entry.meta.OperationType, Confidence: winner.confidence, Phase: winner.phase,
	}
	trace.Winner = &winnerTrace

	return Decision{
		Handler:    winner.entry.handler,
		Metadata:   winner.entry.meta,
		Confidence: winner.confidence,
		Reason:     string(winner.phase),
		Trace:      trace,
	}, nil
}

func requiredCapsSubset(required []string, a agent.Agent) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(a.Capabilities.Tools)+len(a.Capabilities.Actions))
	for _, t := range a.Capabilities.Tools {
		have[t] = true
	}
	for _, act := range a.Capabilities.Actions {
		have[act] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}

// detectPattern infers an operation and confidence from the input's
// shape, per §4.3 phase 3's fixed scoring table.
func detectPattern(input run.Input) (Operation, float64) {
	ctx := input.Context
	hasSchema := hasKey(ctx, "schema")
	hasCategories := hasKey(ctx, "categories")
	hasContextIDs := hasKey(ctx, "context_ids")
	hasQuery := hasKey(ctx, "query")
	hasQuestion := hasKey(ctx, "question")
	text := hasNonEmptyText(input)

	switch {
	case text && hasCategories:
		return OperationClassification, 0.95
	case text && hasSchema:
		return OperationExtraction, 0.95
	case (hasQuery || hasQuestion) && hasContextIDs:
		return OperationRAG, 0.90
	case hasQuestion:
		return OperationReasoning, 0.70
	case hasQuery:
		return OperationRAG, 0.60
	case hasMessageOrRequest(ctx):
		return OperationGeneric, 0.50
	default:
		return "", 0
	}
}

func hasKey(ctx map[string]any, key string) bool {
	if ctx == nil {
		return false
	}
	_, ok := ctx[key]
	return ok
}

func hasNonEmptyText(input run.Input) bool {
	if hasKey(input.Context, "text") {
		return true
	}
	for _, m := range input.Messages {
		if strings.TrimSpace(m.Content) != "" {
			return true
		}
	}
	return false
}

func hasMessageOrRequest(ctx map[string]any) bool {
	return hasKey(ctx, "message") || hasKey(ctx, "request")
}
