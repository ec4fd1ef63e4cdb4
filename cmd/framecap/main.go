package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/framecap/internal/capture"
	"github.com/zsiec/framecap/internal/config"
	"github.com/zsiec/framecap/internal/health"
	"github.com/zsiec/framecap/internal/logger"
	"github.com/zsiec/framecap/internal/server"
	"github.com/zsiec/framecap/pkg/version"
)

const (
	maxHeapBytes  = 1 << 30
	sweepInterval = time.Minute
)

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "configs/default.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithField("version", version.GetInfo().Short()).Info("Starting Framecap server")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthMgr := health.NewManager(log)
	healthMgr.Register(health.NewMemoryChecker(maxHeapBytes))

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = connectRedis(ctx, &cfg.Redis, log)
		healthMgr.Register(health.NewRedisChecker(redisClient))
	}

	store := newStore(ctx, cfg, redisClient, log)
	healthMgr.Register(health.NewStoreChecker(store))

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics, log)
	}

	srv := server.New(&cfg.Server, log, healthMgr)

	appLog := logger.NewLogrusAdapter(logrus.NewEntry(log))
	service := capture.NewService(store, cfg.Capture, appLog)
	handlers := capture.NewHandlers(service, srv.ErrorHandler(), appLog)
	srv.RegisterRoutes(func(r *mux.Router) {
		handlers.RegisterRoutes(r)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		log.WithError(err).Fatal("Server error")
	}

	if err := store.Close(); err != nil {
		log.WithError(err).Error("Failed to close session store")
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.WithError(err).Error("Failed to close Redis connection")
		}
	}

	log.Info("Server shutdown complete")
}

func connectRedis(ctx context.Context, cfg *config.RedisConfig, log *logrus.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addresses[0],
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	log.WithField("addr", cfg.Addresses[0]).Info("Connected to Redis successfully")
	return client
}

func newStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client, log *logrus.Logger) capture.Store {
	if cfg.Capture.Store == config.StoreRedis {
		log.Info("Using Redis session store")
		return capture.NewRedisStore(redisClient, log, cfg.Capture.KeyPrefix, cfg.Capture.SessionTTL)
	}

	store := capture.NewMemoryStore(cfg.Capture.SessionTTL)
	go store.RunSweeper(ctx, sweepInterval)
	log.Info("Using in-memory session store")
	return store
}

// startMetricsServer starts the Prometheus metrics server
func startMetricsServer(cfg config.MetricsConfig, log *logrus.Logger) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.WithField("addr", addr).Info("Starting metrics server")

	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("Metrics server error")
	}
}
