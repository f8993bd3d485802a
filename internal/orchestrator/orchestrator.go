// Package orchestrator wires the control loop together: telemetry events
// drive the policy engine, triggered optimizations run through the suggestion
// generator, mutation applier, and safety manager, and outcomes land in the
// ledger. Each agent's optimization lifecycle is serialized; distinct agents
// proceed fully in parallel.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"agenttune/internal/bus"
	"agenttune/internal/ledger"
	"agenttune/internal/logging"
	"agenttune/internal/mutation"
	"agenttune/internal/policy"
	"agenttune/internal/safety"
	"agenttune/internal/suggest"
	"agenttune/internal/telemetry"
	"agenttune/internal/types"
)

// Config bounds the optimizer's blocking operations.
type Config struct {
	// GeneratorTimeout caps one suggestion-generation call. A timeout
	// degrades to "no suggestions", not a failed cycle.
	GeneratorTimeout time.Duration

	// VerificationWindow is how long to watch the error stream after a
	// mutation.
	VerificationWindow time.Duration
}

// Optimizer runs the autonomous monitoring and self-optimization loop.
type Optimizer struct {
	router    *bus.Router
	tracker   *telemetry.Tracker
	engine    *policy.Engine
	generator suggest.Generator
	mutator   mutation.Mutator
	safety    *safety.Manager
	ledger    *ledger.Ledger
	audit     *logging.AuditLog
	cfg       Config

	mu         sync.Mutex
	agentLocks map[string]*sync.Mutex
	inFlight   map[string]bool

	wg sync.WaitGroup
}

// New assembles an optimizer. audit may be nil.
func New(router *bus.Router, tracker *telemetry.Tracker, engine *policy.Engine,
	generator suggest.Generator, mutator mutation.Mutator, safetyMgr *safety.Manager,
	ldg *ledger.Ledger, audit *logging.AuditLog, cfg Config) *Optimizer {

	if cfg.GeneratorTimeout <= 0 {
		cfg.GeneratorTimeout = 60 * time.Second
	}
	if cfg.VerificationWindow <= 0 {
		cfg.VerificationWindow = 30 * time.Second
	}

	return &Optimizer{
		router:     router,
		tracker:    tracker,
		engine:     engine,
		generator:  generator,
		mutator:    mutator,
		safety:     safetyMgr,
		ledger:     ldg,
		audit:      audit,
		cfg:        cfg,
		agentLocks: make(map[string]*sync.Mutex),
		inFlight:   make(map[string]bool),
	}
}

// Start subscribes the optimizer to its topics. Telemetry handlers stay on
// the hot path only long enough to merge the update; policy evaluation and
// optimization work dispatch to their own goroutines.
func (o *Optimizer) Start(ctx context.Context) {
	o.router.Subscribe(bus.TopicMetricsUpdated, func(e bus.Event) {
		payload, ok := e.Payload.(bus.MetricsUpdated)
		if !ok {
			logging.Get(logging.CategoryOrchestrator).Warn("bad payload on %s: %T", e.Topic, e.Payload)
			return
		}
		o.tracker.RecordMetrics(ctx, payload.AgentID, telemetry.Update{
			ResponseTimeMS: payload.ResponseTimeMS,
			TokenUsage:     payload.TokenUsage,
			SuccessRate:    payload.SuccessRate,
			ErrorRate:      payload.ErrorRate,
		})

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.evaluate(ctx, payload.AgentID)
		}()
	})

	o.router.Subscribe(bus.TopicFeedbackReceived, func(e bus.Event) {
		payload, ok := e.Payload.(bus.FeedbackReceived)
		if !ok {
			logging.Get(logging.CategoryOrchestrator).Warn("bad payload on %s: %T", e.Topic, e.Payload)
			return
		}
		o.tracker.RecordFeedback(ctx, payload.AgentID, payload.FeedbackScore, payload.Comments)

		// Immediate trigger: bad feedback requests optimization directly,
		// bypassing the periodic evaluation path, cooldown permitting.
		if o.engine.IsImmediateTrigger(payload.FeedbackScore) && o.ledger.CanOptimize(ctx, payload.AgentID) {
			source, err := o.safety.ReadArtifact(payload.AgentID)
			if err != nil {
				logging.Get(logging.CategoryOrchestrator).Warn(
					"immediate trigger for %s skipped: %v", payload.AgentID, err)
				return
			}
			logging.Orchestrator("immediate optimization requested for %s (feedback %.1f)",
				payload.AgentID, payload.FeedbackScore)
			o.router.Publish(bus.TopicImprovementRequested, bus.ImprovementRequested{
				AgentID:    payload.AgentID,
				SourceText: source,
				Goals:      policy.ImmediateGoals(),
			})
		}
	})

	o.router.Subscribe(bus.TopicImprovementRequested, func(e bus.Event) {
		payload, ok := e.Payload.(bus.ImprovementRequested)
		if !ok {
			logging.Get(logging.CategoryOrchestrator).Warn("bad payload on %s: %T", e.Topic, e.Payload)
			return
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runCycle(ctx, payload)
		}()
	})

	o.router.Subscribe(bus.TopicAnalysisRequested, func(e bus.Event) {
		payload, ok := e.Payload.(bus.AnalysisRequested)
		if !ok {
			return
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			report, err := o.Analyze(ctx, payload.AgentID)
			if err != nil {
				logging.Get(logging.CategoryOrchestrator).Error("analysis failed: %v", err)
				return
			}
			o.router.Publish(bus.TopicAnalysisCompleted, bus.AnalysisCompleted{Report: report})
		}()
	})

	logging.Orchestrator("optimizer started")
}

// Wait blocks until all dispatched work has drained. Call after Close-ing
// the router during shutdown.
func (o *Optimizer) Wait() {
	o.wg.Wait()
}

// RunSweep evaluates every known agent once. Used by the periodic loop and
// the CLI.
func (o *Optimizer) RunSweep(ctx context.Context) {
	for _, agentID := range o.tracker.AgentIDs(ctx) {
		o.evaluate(ctx, agentID)
	}
}

// StartPeriodic runs sweeps on the given interval until ctx is canceled.
func (o *Optimizer) StartPeriodic(ctx context.Context, interval time.Duration) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.RunSweep(ctx)
			}
		}
	}()
}

// evaluate checks whether one agent warrants optimization and publishes a
// request if so. Skips agents with a cycle already in flight.
func (o *Optimizer) evaluate(ctx context.Context, agentID string) {
	if o.isInFlight(agentID) {
		return
	}

	should, reasons := o.engine.ShouldOptimize(ctx, agentID)
	if !should {
		return
	}

	source, err := o.safety.ReadArtifact(agentID)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("cannot optimize %s, artifact unreadable: %v", agentID, err)
		return
	}

	logging.Orchestrator("optimization triggered for %s: %v", agentID, reasons)
	o.router.Publish(bus.TopicImprovementRequested, bus.ImprovementRequested{
		AgentID:    agentID,
		SourceText: source,
		Goals:      o.engine.DetermineGoals(ctx, agentID),
	})
}

// runCycle executes one optimization cycle end to end. The suggestion
// generation (LLM I/O) happens before the per-agent lock is taken; the
// mutate-verify-record critical section holds the lock so records land in
// completion order and concurrent cycles for one agent cannot interleave.
func (o *Optimizer) runCycle(ctx context.Context, req bus.ImprovementRequested) {
	if !o.markInFlight(req.AgentID) {
		logging.OrchestratorDebug("cycle for %s already in flight, dropping request", req.AgentID)
		return
	}
	defer o.clearInFlight(req.AgentID)

	before, _ := o.tracker.Get(ctx, req.AgentID)

	genCtx, cancel := context.WithTimeout(ctx, o.cfg.GeneratorTimeout)
	suggestions, err := o.generator.Generate(genCtx, suggest.Request{
		AgentID:    req.AgentID,
		SourceText: req.SourceText,
		Goals:      req.Goals,
		Metrics:    before,
		History:    before.OptimizationHistory,
	})
	cancel()
	if err != nil {
		// Generators are expected to degrade to "no suggestions" for
		// transient failures; a returned error is a hard misconfiguration.
		o.fail(req.AgentID, err)
		return
	}
	if len(suggestions) == 0 {
		logging.Orchestrator("no suggestions for %s, cycle is a no-op", req.AgentID)
		o.complete(req.AgentID, 0)
		return
	}

	lock := o.agentLock(req.AgentID)
	lock.Lock()
	defer lock.Unlock()

	// Snapshot-then-compare: the artifact may have moved since the request
	// was published, so apply against what is live now.
	current, err := o.safety.ReadArtifact(req.AgentID)
	if err != nil {
		o.fail(req.AgentID, err)
		return
	}

	mutated, applied := o.mutator.Apply(current, suggestions)
	if len(applied) == 0 {
		logging.Orchestrator("no suggestions matched for %s, cycle is a no-op", req.AgentID)
		o.complete(req.AgentID, 0)
		return
	}

	mutatedAt, err := o.safety.Mutate(ctx, req.AgentID, mutated)
	if err != nil {
		o.fail(req.AgentID, err)
		return
	}

	regressed, err := o.safety.Verify(ctx, req.AgentID, mutatedAt, o.cfg.VerificationWindow)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("verification error for %s, treating as regression: %v", req.AgentID, err)
		regressed = true
	}

	if regressed {
		if revertErr := o.safety.Revert(ctx, req.AgentID); revertErr != nil {
			logging.Get(logging.CategoryOrchestrator).Error("revert failed for %s: %v", req.AgentID, revertErr)
			o.fail(req.AgentID, errors.Join(errors.New("post-mutation regression"), revertErr))
			return
		}
		o.auditEvent(logging.AuditMutationReverted, req.AgentID, "post-mutation errors observed", false)
		o.fail(req.AgentID, errors.New("post-mutation regression, reverted"))
		return
	}

	o.ledger.Record(ctx, req.AgentID, applied, before)
	o.auditEvent(logging.AuditMutationApplied, req.AgentID, "", true)
	o.complete(req.AgentID, len(applied))
}

// Analyze builds an analysis report for one agent, or the whole population
// when agentID is empty. Agents are analyzed in parallel.
func (o *Optimizer) Analyze(ctx context.Context, agentID string) (types.AnalysisReport, error) {
	ids := []string{agentID}
	if agentID == "" {
		ids = o.tracker.AgentIDs(ctx)
	}

	analyses := make([]types.AgentAnalysis, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			analyses[i] = o.engine.Analyze(gctx, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return types.AnalysisReport{}, err
	}

	return types.AnalysisReport{
		GeneratedAt: time.Now(),
		Agents:      analyses,
	}, nil
}

func (o *Optimizer) complete(agentID string, count int) {
	o.router.Publish(bus.TopicImprovementCompleted, bus.ImprovementCompleted{
		AgentID:            agentID,
		AppliedChangeCount: count,
		Timestamp:          time.Now(),
	})
}

// fail surfaces a cycle failure as a warning event; the process never
// crashes, and a failed verification is never reported as success.
func (o *Optimizer) fail(agentID string, err error) {
	logging.Get(logging.CategoryOrchestrator).Error("optimization failed for %s: %v", agentID, err)
	o.router.Publish(bus.TopicImprovementError, bus.ImprovementError{
		AgentID:   agentID,
		Err:       err.Error(),
		Timestamp: time.Now(),
	})
}

func (o *Optimizer) auditEvent(eventType logging.AuditEventType, agentID, msg string, success bool) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Append(logging.AuditEvent{
		EventType: eventType,
		AgentID:   agentID,
		Message:   msg,
		Success:   success,
	}); err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("audit append failed: %v", err)
	}
}

func (o *Optimizer) agentLock(agentID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.agentLocks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		o.agentLocks[agentID] = lock
	}
	return lock
}

func (o *Optimizer) isInFlight(agentID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight[agentID]
}

func (o *Optimizer) markInFlight(agentID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[agentID] {
		return false
	}
	o.inFlight[agentID] = true
	return true
}

func (o *Optimizer) clearInFlight(agentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, agentID)
}
