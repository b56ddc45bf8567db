package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"pocket-council/internal/platform/metrics"
)

// OrchestratorConfig controls how the roster is executed.
type OrchestratorConfig struct {
	// Concurrent runs agents in parallel. Results stay in roster order.
	Concurrent bool
	// MaxParallel caps concurrent agents; <=0 means no cap.
	MaxParallel int
	// CannedNote substitutes the fixed demo note for note-category agents.
	CannedNote bool
}

// Orchestrator runs every agent of the roster against one transcript and snapshot.
type Orchestrator struct {
	agents []*Agent
	cfg    OrchestratorConfig
	logger *slog.Logger
}

// NewOrchestrator fails only on a malformed roster.
func NewOrchestrator(roster []Descriptor, provider ModelProvider, cfg OrchestratorConfig, opts ...Option) (*Orchestrator, error) {
	if err := ValidateRoster(roster); err != nil {
		return nil, err
	}
	o := &Orchestrator{cfg: cfg, logger: slog.Default()}
	for _, d := range roster {
		o.agents = append(o.agents, New(d, provider, opts...))
	}
	if len(o.agents) > 0 {
		o.logger = o.agents[0].logger
	}
	return o, nil
}

func (o *Orchestrator) Roster() []Descriptor {
	out := make([]Descriptor, len(o.agents))
	for i, a := range o.agents {
		out[i] = a.desc
	}
	return out
}

// Run returns exactly one result per agent, in roster order.
func (o *Orchestrator) Run(ctx context.Context, transcript string, snap Snapshot) []Result {
	start := time.Now()
	results := make([]Result, len(o.agents))

	if o.cfg.Concurrent {
		var g errgroup.Group
		if o.cfg.MaxParallel > 0 {
			g.SetLimit(o.cfg.MaxParallel)
		}
		for i, a := range o.agents {
			g.Go(func() error {
				results[i] = o.runOne(ctx, a, transcript, snap)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, a := range o.agents {
			results[i] = o.runOne(ctx, a, transcript, snap)
		}
	}

	fallbacks := 0
	for _, r := range results {
		if r.Fallback {
			fallbacks++
		}
	}
	metrics.OrchestrationDuration.Observe(time.Since(start).Seconds())
	o.logger.Info("orchestration finished",
		"agents", len(results),
		"fallbacks", fallbacks,
		"elapsed_ms", time.Since(start).Milliseconds())
	return results
}

// runOne turns a panicking model into a fallback result so one agent cannot
// take the whole consultation down.
func (o *Orchestrator) runOne(ctx context.Context, a *Agent, transcript string, snap Snapshot) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("agent panicked", "agent", a.desc.Name, "panic", r)
			metrics.AgentRuns.WithLabelValues(a.desc.Name, "fallback").Inc()
			res = a.fallback(transcript, snap, fmt.Errorf("agent panicked: %v", r))
		}
	}()
	if o.cfg.CannedNote && a.desc.Category == CategoryNote {
		metrics.AgentRuns.WithLabelValues(a.desc.Name, "canned").Inc()
		return CannedNote(a.desc)
	}
	return a.Run(ctx, transcript, snap)
}
