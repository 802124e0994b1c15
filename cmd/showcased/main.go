// Command showcased runs the portfolio showcase engine: the conversation
// API that turns a contractor's retelling of a job into a publishable
// project page.
//
// Usage:
//
//	ANTHROPIC_API_KEY=sk-... API_KEY=secret showcased
//
// Without an Anthropic key the engine still runs, answering every turn
// through the deterministic compositor.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/knearme/showcase/internal/breaker"
	"github.com/knearme/showcase/internal/config"
	"github.com/knearme/showcase/internal/health"
	"github.com/knearme/showcase/internal/httpapi"
	"github.com/knearme/showcase/internal/llm"
	"github.com/knearme/showcase/internal/metrics"
	"github.com/knearme/showcase/internal/orchestrator"
	"github.com/knearme/showcase/internal/publish"
	"github.com/knearme/showcase/internal/retry"
	"github.com/knearme/showcase/internal/state"
	"github.com/knearme/showcase/internal/store"
	"github.com/knearme/showcase/internal/subagent"
)

const (
	// dbSizeWarnBytes degrades readiness once the SQLite file passes 1 GiB.
	dbSizeWarnBytes = 1 << 30

	retentionInterval = 6 * time.Hour
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	zlog.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("auth_mode", cfg.AuthMode).
		Bool("llm_enabled", cfg.LLMEnabled()).
		Msg("starting showcase engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	st, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("failed to open store")
	}

	// LLM provider (optional)
	var provider llm.LLMProvider
	if cfg.LLMEnabled() {
		provider = llm.NewAnthropicProvider(
			cfg.AnthropicAPIKey,
			llm.WithModel(cfg.Model),
			llm.WithMaxTokens(cfg.MaxTokens),
			llm.WithHTTPClient(&http.Client{Timeout: cfg.LLMTimeout}),
			llm.WithLogger(logger),
		)
		logger.Info().Str("model", cfg.Model).Msg("Anthropic provider initialized")
	} else {
		logger.Warn().Msg("ANTHROPIC_API_KEY not set — running compositor-only")
	}

	agents := []subagent.Subagent{subagent.NewCompositorAgent(logger)}
	if provider != nil {
		agents = append(agents,
			subagent.NewNarrativeAgent(provider, cfg.MaxToolIter, logger),
			subagent.NewVisualAgent(provider, logger),
			subagent.NewGenerationAgent(provider, logger),
			subagent.NewReadinessAgent(provider, logger),
		)
	}

	m := metrics.New()

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerThreshold,
		Cooldown:         cfg.BreakerCooldown,
	}, breaker.WithTransitionHook(func(identity string, from, to breaker.Status) {
		m.SetBreakerState(identity, breakerGauge(to))
		logger.Warn().
			Str("agent", identity).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("breaker transition")
	}))

	var rules []orchestrator.Rule
	if cfg.RoutingRulesPath != "" {
		rules, err = orchestrator.LoadRules(cfg.RoutingRulesPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.RoutingRulesPath).Msg("failed to load routing rules")
		}
		logger.Info().Int("rules", len(rules)).Str("path", cfg.RoutingRulesPath).Msg("routing rules loaded")
	}

	engine, err := orchestrator.NewEngine(orchestrator.Config{
		Store:    st,
		Agents:   agents,
		Router:   orchestrator.NewRouter(rules, logger),
		Breakers: breakers,
		Journal:  state.NewJournal(cfg.CheckpointCache),
		Metrics:  m,
		Retry: retry.Config{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		TurnTimeout: cfg.TurnTimeout,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build engine")
	}

	publisher := publish.NewPublisher(st, logger)

	checker := health.NewChecker(logger)
	checker.Register("database", health.DatabaseCheck(st, dbSizeWarnBytes))
	checker.Register("breakers", health.BreakerCheck(breakers))
	checker.Register("provider", health.ProviderCheck(cfg.LLMEnabled()))

	// Retention sweep
	go func() {
		ticker := time.NewTicker(retentionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepCtx, sweepCancel := context.WithTimeout(ctx, time.Minute)
				if err := st.RunRetention(sweepCtx); err != nil {
					logger.Warn().Err(err).Msg("retention sweep failed")
				}
				sweepCancel()
			}
		}
	}()

	server := httpapi.NewServer(httpapi.ServerConfig{
		ListenAddr: cfg.ListenAddr,
		Auth: httpapi.AuthConfig{
			Mode:      cfg.AuthMode,
			APIKey:    cfg.APIKey,
			JWTSecret: cfg.JWTSecret,
		},
		RateLimit: httpapi.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins: cfg.CORSOrigins,
	}, engine, st, publisher, checker, m, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("API server error")
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}
	if err := st.Close(); err != nil {
		logger.Error().Err(err).Msg("store close error")
	}

	logger.Info().Msg("showcase engine stopped")
}

// breakerGauge maps a breaker status onto the metric convention
// (0=closed, 1=half-open, 2=open).
func breakerGauge(s breaker.Status) float64 {
	switch s {
	case breaker.StatusOpen:
		return 2
	case breaker.StatusHalfOpen:
		return 1
	default:
		return 0
	}
}
