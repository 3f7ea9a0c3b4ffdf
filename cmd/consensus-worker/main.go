// Command consensus-worker runs the Temporal worker process for the
// consensus pipeline: it polls the consensus task queue, executes
// ConsensusWorkflow and its activities, and exposes health/metrics
// endpoints on a separate admin port. Grounded on the teacher's combined
// orchestrator main.go, split into its own process the way the pack's
// worker/gateway-separated repos do it.
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/circuitbreaker"
	cfg "github.com/hivetechs/consensus/internal/config"
	"github.com/hivetechs/consensus/internal/costtracker"
	"github.com/hivetechs/consensus/internal/db"
	"github.com/hivetechs/consensus/internal/eventbus"
	_ "github.com/hivetechs/consensus/internal/metrics"
	"github.com/hivetechs/consensus/internal/modelregistry"
	"github.com/hivetechs/consensus/internal/perftracker"
	"github.com/hivetechs/consensus/internal/pipeline"
	"github.com/hivetechs/consensus/internal/policy"
	"github.com/hivetechs/consensus/internal/stageexec"
	"github.com/hivetechs/consensus/internal/temporal"
	"github.com/hivetechs/consensus/internal/tracing"
	"github.com/hivetechs/consensus/internal/upstream"
	"github.com/hivetechs/consensus/internal/usagetracker"

	"github.com/redis/go-redis/v9"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	circuitbreaker.StartMetricsCollection()

	configDir := getEnvOrDefault("CONFIG_PATH", "/app/config")
	consensusCfg := cfg.DefaultConsensusConfig()
	if configMgr, err := cfg.NewConfigManager(configDir, logger); err != nil {
		logger.Warn("config manager init failed, using defaults", zap.Error(err))
	} else {
		ctxInit, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := configMgr.Start(ctxInit); err != nil {
			logger.Warn("config manager start failed, using defaults", zap.Error(err))
		} else if ccm, err := cfg.NewConsensusConfigManager(configMgr, logger); err != nil {
			logger.Warn("consensus config manager init failed, using defaults", zap.Error(err))
		} else if err := ccm.Initialize(); err != nil {
			logger.Warn("consensus config init failed, using defaults", zap.Error(err))
		} else {
			consensusCfg = ccm.GetConfig()
			logger.Info("consensus configuration loaded")
		}
	}

	if err := tracing.Initialize(tracing.Config{
		Enabled:      consensusCfg.Tracing.Enabled,
		ServiceName:  consensusCfg.Tracing.ServiceName,
		OTLPEndpoint: consensusCfg.Tracing.Endpoint,
	}, logger); err != nil {
		logger.Warn("tracing init failed, continuing without spans", zap.Error(err))
	}

	dbConfig := &db.Config{
		Host:     getEnvOrDefault("POSTGRES_HOST", "postgres"),
		Port:     getEnvOrDefaultInt("POSTGRES_PORT", 5432),
		User:     getEnvOrDefault("POSTGRES_USER", "consensus"),
		Password: getEnvOrDefault("POSTGRES_PASSWORD", "consensus"),
		Database: getEnvOrDefault("POSTGRES_DB", "consensus"),
		SSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}
	dbClient, err := db.NewClient(dbConfig, logger)
	if err != nil {
		logger.Fatal("failed to initialize database client", zap.Error(err))
	}
	defer dbClient.Close()
	_ = sqlx.NewDb(dbClient.GetDB(), "postgres")

	budget := costtracker.BudgetConfig{
		DailyLimit:    floatPtr(consensusCfg.Budget.DailyLimitUSD),
		MonthlyLimit:  floatPtr(consensusCfg.Budget.MonthlyLimitUSD),
		EnforceLimits: consensusCfg.Budget.DailyLimitUSD > 0 || consensusCfg.Budget.MonthlyLimitUSD > 0,
	}
	costTracker := costtracker.New(consensusCfg.Budget.PriceTablePath, budget, logger)

	upstreamClient := upstream.New(upstream.Options{
		BaseURL: consensusCfg.Gateway.BaseURL,
		APIKey:  os.Getenv(consensusCfg.Gateway.APIKeyEnv),
		Timeout: consensusCfg.Gateway.RequestTimeout,
	}, logger)

	perfTracker := perftracker.New(getEnvOrDefaultInt("PERF_WINDOW_MINUTES", 10), logger)

	var redisClient *redis.Client
	if consensusCfg.Streaming.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: consensusCfg.Streaming.RedisAddr})
	}
	bus := eventbus.New(redisClient, logger)

	registry := modelregistry.New()
	seedPath := getEnvOrDefault("MODEL_SEED_PATH", "config/models.yaml")
	if seeded, err := modelregistry.LoadSeedFile(seedPath); err != nil {
		logger.Warn("model seed file load failed, starting with empty registry", zap.String("path", seedPath), zap.Error(err))
	} else {
		registry = seeded
	}

	// One-shot augmentation of the seeded catalog from the gateway's own
	// model list (spec.md §4.H); best-effort, since the seed file alone is
	// enough to start serving.
	modelsCtx, cancelModelsCtx := context.WithTimeout(context.Background(), 10*time.Second)
	fetched, listErr := upstreamClient.ListModels(modelsCtx)
	cancelModelsCtx()
	if listErr != nil {
		logger.Warn("gateway model list fetch failed, continuing with seeded catalog only", zap.Error(listErr))
	} else {
		registry.Seed(fetched)
		logger.Info("augmented model registry from gateway", zap.Int("count", len(fetched)))
	}

	usageTracker := usagetracker.New(nil, logger)

	var policyEngine policy.Engine
	if consensusCfg.Policy.Enabled {
		policyCfg := policy.LoadConfig()
		policyCfg.Enabled = true
		policyCfg.Path = consensusCfg.Policy.PolicyDir
		policyCfg.FailClosed = consensusCfg.Policy.DefaultDeny
		if engine, err := policy.NewOPAEngine(policyCfg, logger); err != nil {
			logger.Warn("policy engine init failed, admission checks will fail open", zap.Error(err))
		} else {
			policyEngine = engine
		}
	}

	executor := stageexec.New(upstreamClient, perfTracker, costTracker, bus, logger)
	registrar := pipeline.NewRegistrar(registry, usageTracker, costTracker, executor, bus, policyEngine, logger)

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	adminMux.Handle("/metrics", promhttp.Handler())
	adminPort := getEnvOrDefaultInt("WORKER_ADMIN_PORT", 8082)
	go func() {
		addr := ":" + strconv.Itoa(adminPort)
		logger.Info("worker admin server listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, adminMux); err != nil && err != http.ErrServerClosed {
			logger.Error("worker admin server failed", zap.Error(err))
		}
	}()

	hostPort := getEnvOrDefault("TEMPORAL_HOST", consensusCfg.Temporal.HostPort)
	for i := 1; i <= 60; i++ {
		c, err := net.DialTimeout("tcp", hostPort, 2*time.Second)
		if err == nil {
			_ = c.Close()
			break
		}
		logger.Warn("waiting for temporal", zap.String("host", hostPort), zap.Int("attempt", i))
		time.Sleep(time.Second)
	}

	var temporalClient client.Client
	for attempt := 1; ; attempt++ {
		temporalClient, err = client.Dial(client.Options{
			HostPort:  hostPort,
			Namespace: consensusCfg.Temporal.Namespace,
			Logger:    temporal.NewZapAdapter(logger),
		})
		if err == nil {
			break
		}
		delay := time.Duration(attempt)
		if delay > 15 {
			delay = 15
		}
		logger.Warn("temporal dial failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(delay * time.Second)
	}
	defer temporalClient.Close()

	taskQueue := getEnvOrDefault("TEMPORAL_TASK_QUEUE", consensusCfg.Temporal.TaskQueue)
	w := worker.New(temporalClient, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     getEnvOrDefaultInt("WORKER_ACT_CONCURRENCY", 10),
		MaxConcurrentWorkflowTaskExecutionSize: getEnvOrDefaultInt("WORKER_WF_CONCURRENCY", 10),
	})
	if err := registrar.RegisterWorkflows(w); err != nil {
		logger.Fatal("failed to register workflows", zap.Error(err))
	}
	if err := registrar.RegisterActivities(w); err != nil {
		logger.Fatal("failed to register activities", zap.Error(err))
	}

	go func() {
		logger.Info("temporal worker starting", zap.String("task_queue", taskQueue))
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Error("temporal worker exited with error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down consensus worker")
	w.Stop()
}

func floatPtr(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
