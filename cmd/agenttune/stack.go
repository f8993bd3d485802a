package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"agenttune/internal/bus"
	"agenttune/internal/config"
	"agenttune/internal/ledger"
	"agenttune/internal/logging"
	"agenttune/internal/mutation"
	"agenttune/internal/orchestrator"
	"agenttune/internal/policy"
	"agenttune/internal/safety"
	"agenttune/internal/suggest"
	"agenttune/internal/telemetry"
)

// stack bundles the assembled components. Close releases the store and
// flushes the bus.
type stack struct {
	cfg       *config.Config
	router    *bus.Router
	store     telemetry.MetricsStore
	tracker   *telemetry.Tracker
	engine    *policy.Engine
	safety    *safety.Manager
	errlog    *safety.ErrorLog
	ledger    *ledger.Ledger
	optimizer *orchestrator.Optimizer
	audit     *logging.AuditLog
}

// buildStack assembles the full pipeline from the workspace config.
// needLLM controls whether a missing API key is fatal; read-only commands
// (report, metrics) pass false. A non-nil override replaces the configured
// suggestion generator (used by simulate).
func buildStack(ctx context.Context, needLLM bool, override suggest.Generator) (*stack, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load(workspace)
	}
	if err != nil {
		return nil, err
	}
	dataDir := cfg.DataDir(workspace)

	var store telemetry.MetricsStore
	switch cfg.Storage.Backend {
	case "sqlite":
		store, err = telemetry.NewSQLStore(dataDir)
	default:
		store, err = telemetry.NewFileStore(dataDir)
	}
	if err != nil {
		return nil, err
	}

	audit, err := logging.NewAuditLog(workspace)
	if err != nil {
		return nil, err
	}

	tracker, err := telemetry.NewTracker(ctx, store, audit)
	if err != nil {
		return nil, err
	}

	cooldown, err := cfg.CooldownDuration()
	if err != nil {
		return nil, err
	}
	thresholds := policy.Thresholds{
		ErrorRate:         cfg.Policy.ErrorRateThreshold,
		SuccessRate:       cfg.Policy.SuccessRateThreshold,
		Feedback:          cfg.Policy.FeedbackThreshold,
		ImmediateFeedback: cfg.Policy.ImmediateFeedback,
		Cooldown:          cooldown,
	}
	engine := policy.NewEngine(tracker, thresholds)

	errlog, err := safety.NewErrorLog(dataDir)
	if err != nil {
		return nil, err
	}
	mgr, err := safety.NewManager(dataDir, errlog, cfg.Safety.RecentErrorLimit)
	if err != nil {
		return nil, err
	}

	ldg := ledger.New(tracker, audit, cooldown)

	generator := override
	if generator == nil && cfg.LLM.APIKey != "" {
		client, err := suggest.NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			return nil, err
		}
		generator = suggest.NewLLMGenerator(client)
	} else if generator == nil && needLLM {
		return nil, fmt.Errorf("no LLM API key configured (set GEMINI_API_KEY or llm.api_key)")
	}

	llmTimeout, err := cfg.LLMTimeout()
	if err != nil {
		return nil, err
	}
	window, err := cfg.VerificationWindow()
	if err != nil {
		return nil, err
	}

	router := bus.NewRouter()
	optimizer := orchestrator.New(router, tracker, engine, generator,
		mutation.NewPatternMutator(), mgr, ldg, audit, orchestrator.Config{
			GeneratorTimeout:   llmTimeout,
			VerificationWindow: window,
		})

	return &stack{
		cfg:       cfg,
		router:    router,
		store:     store,
		tracker:   tracker,
		engine:    engine,
		safety:    mgr,
		errlog:    errlog,
		ledger:    ldg,
		optimizer: optimizer,
		audit:     audit,
	}, nil
}

func (s *stack) Close() {
	s.router.Close()
	s.optimizer.Wait()
	if err := s.store.Close(); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}
}
