package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/stackmesh/browserpool/internal/debugserver"
	"github.com/stackmesh/browserpool/internal/devtools"
	"github.com/stackmesh/browserpool/pkg/config"
	"github.com/stackmesh/browserpool/pkg/health"
	"github.com/stackmesh/browserpool/pkg/logging"
	"github.com/stackmesh/browserpool/pkg/metrics"
	"github.com/stackmesh/browserpool/pkg/pool"
	"github.com/stackmesh/browserpool/pkg/resilience"
	"github.com/stackmesh/browserpool/pkg/tracing"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "browserpool",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	m := metrics.NewMetrics(metrics.DefaultConfig())

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "browserpool",
		Environment:    os.Getenv("ENVIRONMENT"),
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.Error("Failed to initialize tracing", "error", err.Error())
		os.Exit(1)
	}

	breakers := resilience.NewBreakerRegistry(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		ResetTimeout:     cfg.Resilience.ResetTimeout,
		HalfOpenMaxCalls: cfg.Resilience.HalfOpenMaxCalls,
	})

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.Resilience.RetryMaxAttempts
	retryCfg.InitialDelay = cfg.Resilience.InitialDelay
	retryCfg.MaxDelay = cfg.Resilience.MaxDelay
	retryCfg.BackoffFactor = cfg.Resilience.BackoffFactor
	retryCfg.Jitter = cfg.Resilience.Jitter

	facade := resilience.NewFacade(resilience.FacadeConfig{
		Retry:                   retryCfg,
		MaxConcurrentOperations: cfg.Resilience.MaxConcurrentOperations,
		OperationTimeout:        cfg.Resilience.OperationTimeout,
	},
		resilience.WithBreakers(breakers),
		resilience.WithMetrics(m),
		resilience.WithTracing(tracer),
	)

	factory := devtools.NewFactory(cfg.DevTools)

	// connection creation flows through the full resilience chain, so a
	// flapping endpoint trips the devtools breaker instead of hammering it
	guarded := pool.FactoryFunc{
		CreateFunc: func(ctx context.Context) (pool.Connection, error) {
			return facade.Execute(ctx, "devtools", func(ctx context.Context) (interface{}, error) {
				return factory.Create(ctx)
			})
		},
		IsAliveFunc: factory.IsAlive,
		DisposeFunc: factory.Dispose,
	}

	p, err := pool.New(cfg.Pool, guarded, pool.WithMetrics(m))
	if err != nil {
		logger.Error("Failed to create connection pool", "error", err.Error())
		os.Exit(1)
	}

	healthSvc := health.NewService(logger, nil)
	healthSvc.RegisterChecker("pool", health.NewPoolChecker(p, "pool"))
	healthSvc.RegisterChecker("breakers", health.NewBreakerChecker(breakers, "breakers"))
	healthSvc.RegisterChecker("devtools", health.NewHTTPChecker(
		cfg.DevTools.Endpoint+"/json/version", "devtools", 5*time.Second))

	collector := metrics.NewMetricsCollector(m, func() metrics.Sample {
		stats := p.GetStats()
		res := p.GetMetrics()
		states := make(map[string]int, len(breakers.Names()))
		for name, bs := range breakers.Stats() {
			states[name] = int(bs.State)
		}
		return metrics.Sample{
			ActiveConnections: stats.ActiveConnections,
			IdleConnections:   stats.IdleConnections,
			PendingCreates:    stats.PendingCreates,
			Waiters:           stats.WaitingAcquirers,
			BreakerStates:     states,
			ProcessCPU:        res.ProcessCPU,
			HostCPU:           res.HostCPU,
			ProcessRSS:        res.ProcessRSS,
			HostMemUsed:       res.HostMemUsed,
		}
	}, 15*time.Second)
	go collector.Start(context.Background())

	server := debugserver.New(cfg.Server, debugserver.Deps{
		Pool:     p,
		Breakers: breakers,
		Health:   healthSvc,
		Metrics:  m,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Debug server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Debug server shutdown failed", "error", err.Error())
	}

	collector.Stop()
	p.Cleanup()

	if err := tracer.Shutdown(ctx); err != nil {
		logger.Error("Tracing shutdown failed", "error", err.Error())
	}

	logger.Info("Shutdown complete")
}
