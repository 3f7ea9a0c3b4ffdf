// Command consensus-gateway runs the HTTP/SSE front door for the
// consensus pipeline: it accepts consensus requests, starts
// ConsensusWorkflow on Temporal, streams stage events over SSE, and
// serves usage/admin endpoints. Grounded on the teacher's combined
// orchestrator main.go, split into its own process from the worker the
// way the pack's worker/gateway-separated repos do it.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/authn"
	"github.com/hivetechs/consensus/internal/circuitbreaker"
	cfg "github.com/hivetechs/consensus/internal/config"
	"github.com/hivetechs/consensus/internal/eventbus"
	"github.com/hivetechs/consensus/internal/httpapi"
	_ "github.com/hivetechs/consensus/internal/metrics"
	"github.com/hivetechs/consensus/internal/perftracker"
	"github.com/hivetechs/consensus/internal/temporal"
	"github.com/hivetechs/consensus/internal/tracing"
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

	perfTracker := perftracker.New(getEnvOrDefaultInt("PERF_WINDOW_MINUTES", 10), logger)
	usageTracker := usagetracker.New(nil, logger)

	var redisClient *redis.Client
	if consensusCfg.Streaming.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: consensusCfg.Streaming.RedisAddr})
	}
	bus := eventbus.New(redisClient, logger)

	signingKey := os.Getenv("JWT_SIGNING_KEY")
	if signingKey == "" {
		signingKey = "change-this-to-a-secure-32-char-minimum-secret"
		logger.Warn("JWT_SIGNING_KEY not set, using insecure development default")
	}
	authManager := authn.NewManager(signingKey, consensusCfg.Auth.TokenTTL)
	skipAuth := !consensusCfg.Auth.Enabled
	authMiddleware := authn.NewMiddleware(authManager, skipAuth)

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
	mux := httpapi.NewMux(temporalClient, taskQueue, bus, usageTracker, perfTracker, authMiddleware, logger)

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	adminMux.Handle("/metrics", promhttp.Handler())
	adminPort := getEnvOrDefaultInt("GATEWAY_ADMIN_PORT", 8081)
	go func() {
		addr := ":" + strconv.Itoa(adminPort)
		logger.Info("gateway admin server listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, adminMux); err != nil && err != http.ErrServerClosed {
			logger.Error("gateway admin server failed", zap.Error(err))
		}
	}()

	port := consensusCfg.Service.Port
	if port == 0 {
		port = 8080
	}
	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("consensus gateway listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("gateway server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down consensus gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
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
