package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/tradewire/accountsync/internal/api"
	"github.com/tradewire/accountsync/internal/config"
	"github.com/tradewire/accountsync/internal/connection"
	"github.com/tradewire/accountsync/internal/database"
	"github.com/tradewire/accountsync/internal/feed"
	"github.com/tradewire/accountsync/internal/journal"
	"github.com/tradewire/accountsync/internal/model"
	"github.com/tradewire/accountsync/internal/poller"
	"github.com/tradewire/accountsync/internal/presence"
	"github.com/tradewire/accountsync/internal/registry"
	"github.com/tradewire/accountsync/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/syncd.local.yaml", "path to config file")
	logLevel := flag.String("log-level", "", "override configured log level")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Load configuration before logging; the log level comes from it.
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting syncd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
		"accounts", len(cfg.Accounts),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Terminal API client
	apiClient := api.NewClient(
		cfg.API.BaseURL,
		cfg.API.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
	)

	// Optional recorders: journal and presence
	var recorders []connection.EventRecorder

	var journalRecorder *journal.Recorder
	var pool *pgxpool.Pool
	if cfg.Journal.Enabled {
		logger.Info("connecting to journal database",
			"host", cfg.Journal.Postgres.Host,
			"port", cfg.Journal.Postgres.Port,
			"database", cfg.Journal.Postgres.Name,
		)

		pool, err = database.Connect(ctx, cfg.Journal.Postgres)
		if err != nil {
			logger.Error("failed to connect to journal database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		journalRecorder = journal.NewRecorder(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger)

		if err := journalRecorder.Start(ctx); err != nil {
			logger.Error("failed to start journal recorder", "error", err)
			os.Exit(1)
		}
		recorders = append(recorders, journalRecorder)
	}

	var announcer *presence.Announcer
	if cfg.Presence.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Presence.Redis.Addr,
			Password: cfg.Presence.Redis.Password,
			DB:       cfg.Presence.Redis.DB,
		})
		defer rdb.Close()

		announcer, err = presence.NewAnnouncer(presence.Config{
			NodeID:          cfg.Presence.NodeID,
			KeyPrefix:       cfg.Presence.KeyPrefix,
			TTL:             cfg.Presence.TTL,
			RefreshInterval: cfg.Presence.RefreshInterval,
		}, rdb, logger)
		if err != nil {
			logger.Error("failed to create presence announcer", "error", err)
			os.Exit(1)
		}

		if err := announcer.Start(ctx); err != nil {
			logger.Error("failed to start presence announcer", "error", err)
			os.Exit(1)
		}
		recorders = append(recorders, announcer)
	}

	// Connection registry
	reg := registry.New(connection.Config{
		WaitTimeout: cfg.Sync.DefaultWaitTimeout,
	}, apiClient, logger, recorders...)

	// Per-account connection and state feed
	feedCfg := feed.Config{
		URL:                cfg.Feed.URL,
		Token:              cfg.Feed.Token,
		PingInterval:       cfg.Feed.PingInterval,
		ReadTimeout:        cfg.Feed.ReadTimeout,
		ReconnectBaseDelay: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Feed.ReconnectMaxDelay,
	}

	conns := make([]*connection.AccountConnection, 0, len(cfg.Accounts))
	streams := make(map[string]*feed.Stream, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		account := model.Account{ID: acct.ID, Regions: acct.Regions}
		conn := reg.EnsureRPC(account)

		// A subscribe failure leaves the handle open; the feed can still
		// bring instances up and the terminal retries server side.
		if err := conn.Connect(ctx, ""); err != nil {
			logger.Error("account setup incomplete", "account", acct.ID, "error", err)
		}
		conns = append(conns, conn)

		stream := feed.NewStream(feedCfg, acct.ID, conn, logger)
		if err := stream.Start(ctx); err != nil {
			logger.Error("failed to start state feed", "account", acct.ID, "error", err)
			os.Exit(1)
		}
		streams[acct.ID] = stream
	}

	// Optional terminal state check
	var statePoller *poller.Poller
	if cfg.Watch.Enabled {
		statePoller = poller.New(poller.Config{
			Interval:    cfg.Watch.Interval,
			Concurrency: cfg.Watch.Concurrency,
			Timeout:     cfg.Watch.Timeout,
		}, apiClient, reg, logger)

		if err := statePoller.Start(ctx); err != nil {
			logger.Error("failed to start state poller", "error", err)
			os.Exit(1)
		}
	}

	// Health endpoint
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(reg, streams, journalRecorder, pool),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// Prometheus metrics endpoint
	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: metricsMux,
	}
	go func() {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("syncd running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Streams first so no more state events arrive, then connections so
	// teardown events reach the recorders, then the recorders themselves.
	if statePoller != nil {
		if err := statePoller.Stop(shutdownCtx); err != nil {
			logger.Warn("state poller stop failed", "error", err)
		}
	}
	for id, stream := range streams {
		if err := stream.Stop(shutdownCtx); err != nil {
			logger.Warn("state feed stop failed", "account", id, "error", err)
		}
	}
	for _, conn := range conns {
		if err := conn.Close(""); err != nil {
			logger.Warn("connection close failed", "error", err)
		}
	}
	if announcer != nil {
		if err := announcer.Stop(shutdownCtx); err != nil {
			logger.Warn("presence announcer stop failed", "error", err)
		}
	}
	if journalRecorder != nil {
		if err := journalRecorder.Stop(shutdownCtx); err != nil {
			logger.Warn("journal recorder stop failed", "error", err)
		}
	}

	healthServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)

	logger.Info("syncd stopped")
}

// buildLogger constructs the process logger from the log section.
func buildLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(reg *registry.Registry, streams map[string]*feed.Stream, journalRecorder *journal.Recorder, pool *pgxpool.Pool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status   string                 `json:"status"`
			Accounts map[string]interface{} `json:"accounts"`
			Journal  interface{}            `json:"journal,omitempty"`
		}{
			Status:   "healthy",
			Accounts: make(map[string]interface{}),
		}

		for _, id := range reg.Accounts() {
			conn, ok := reg.Connection(id)
			if !ok {
				continue
			}
			stats := conn.Stats()

			acct := map[string]interface{}{
				"synchronized": stats.Synchronized,
				"instances":    stats.Instances,
				"open_handles": stats.OpenHandles,
			}
			if stream, ok := streams[id]; ok {
				feedStats := stream.Stats()
				acct["feed_connected"] = feedStats.Connected
				acct["feed_sessions"] = feedStats.Sessions
			}
			health.Accounts[id] = acct

			if !stats.Synchronized {
				health.Status = "degraded"
			}
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Journal = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else if journalRecorder != nil {
				stats := journalRecorder.Stats()
				health.Journal = map[string]int64{
					"inserts": stats.Inserts,
					"errors":  stats.Errors,
					"dropped": stats.Dropped,
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
