// synctest connects one account and reports whether it reaches the
// synchronized state within the timeout.
// Usage: go run ./cmd/synctest --config configs/syncd.local.yaml --account <id>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tradewire/accountsync/internal/api"
	"github.com/tradewire/accountsync/internal/config"
	"github.com/tradewire/accountsync/internal/connection"
	"github.com/tradewire/accountsync/internal/feed"
	"github.com/tradewire/accountsync/internal/model"
	"github.com/tradewire/accountsync/internal/registry"
)

func main() {
	configPath := flag.String("config", "configs/syncd.local.yaml", "path to config file")
	accountID := flag.String("account", "", "account id to test (default: first configured)")
	timeout := flag.Duration("timeout", 0, "wait timeout (default: configured sync.default_wait_timeout)")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	// Setup logger
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	acct, err := pickAccount(cfg, *accountID)
	if err != nil {
		logger.Error("account selection failed", "error", err)
		os.Exit(1)
	}
	account := model.Account{ID: acct.ID, Regions: acct.Regions}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Create API client
	apiClient := api.NewClient(
		cfg.API.BaseURL,
		cfg.API.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
	)

	// Check the account exists before connecting
	state, err := apiClient.GetAccountState(ctx, account.ID)
	if err != nil {
		logger.Error("failed to get account state", "account", account.ID, "error", err)
		os.Exit(1)
	}
	logger.Info("account state",
		"account", state.ID,
		"state", state.State,
		"connection_status", state.ConnectionStatus,
	)

	// Build the connection with a console recorder
	reg := registry.New(connection.Config{
		WaitTimeout: cfg.Sync.DefaultWaitTimeout,
	}, apiClient, logger, &printRecorder{verbose: *verbose})

	conn := reg.EnsureRPC(account)
	if err := conn.Connect(ctx, ""); err != nil {
		logger.Error("connect failed", "account", account.ID, "error", err)
		os.Exit(1)
	}

	// Start the state feed
	stream := feed.NewStream(feed.Config{
		URL:                cfg.Feed.URL,
		Token:              cfg.Feed.Token,
		PingInterval:       cfg.Feed.PingInterval,
		ReadTimeout:        cfg.Feed.ReadTimeout,
		ReconnectBaseDelay: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Feed.ReconnectMaxDelay,
	}, account.ID, conn, logger)

	if err := stream.Start(ctx); err != nil {
		logger.Error("failed to start state feed", "error", err)
		os.Exit(1)
	}

	logger.Info("waiting for synchronization",
		"account", account.ID,
		"timeout", waitTimeout(cfg, *timeout),
	)

	waitErr := conn.WaitSynchronized(ctx, *timeout)

	switch {
	case waitErr == nil:
		stats := conn.Stats()
		fmt.Printf("SYNCHRONIZED account=%s instances=%d\n", account.ID, stats.Instances)
	case errors.Is(waitErr, connection.ErrSyncTimeout):
		fmt.Printf("TIMEOUT account=%s: %v\n", account.ID, waitErr)
	default:
		fmt.Printf("ERROR account=%s: %v\n", account.ID, waitErr)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	stream.Stop(shutdownCtx)
	if err := conn.Close(""); err != nil {
		logger.Warn("close failed", "error", err)
	}

	if waitErr != nil {
		os.Exit(1)
	}
}

// pickAccount finds the requested account in the config, or the first one.
func pickAccount(cfg *config.SyncdConfig, id string) (config.AccountConfig, error) {
	if id == "" {
		return cfg.Accounts[0], nil
	}
	for _, acct := range cfg.Accounts {
		if acct.ID == id {
			return acct, nil
		}
	}
	return config.AccountConfig{}, fmt.Errorf("account %q not in config", id)
}

// waitTimeout reports the effective timeout for logging.
func waitTimeout(cfg *config.SyncdConfig, flagTimeout time.Duration) time.Duration {
	if flagTimeout > 0 {
		return flagTimeout
	}
	return cfg.Sync.DefaultWaitTimeout
}

// printRecorder prints connection events to the console as they happen.
type printRecorder struct {
	verbose bool
}

func (p *printRecorder) RecordEvent(ev connection.Event) {
	if p.verbose {
		data, _ := json.Marshal(struct {
			At           time.Time            `json:"at"`
			Kind         connection.EventKind `json:"kind"`
			AccountID    string               `json:"account_id"`
			InstanceID   string               `json:"instance_id,omitempty"`
			Replicas     int                  `json:"replicas"`
			Synchronized bool                 `json:"synchronized"`
		}{
			At:           ev.At,
			Kind:         ev.Kind,
			AccountID:    ev.AccountID,
			InstanceID:   ev.InstanceID,
			Replicas:     ev.Replicas,
			Synchronized: ev.Synchronized,
		})
		fmt.Printf("[EVENT] %s\n", data)
		return
	}

	switch ev.Kind {
	case connection.EventConnected, connection.EventDisconnected, connection.EventStreamClosed:
		fmt.Printf("[%s] %s instance=%s replicas=%d synchronized=%v\n",
			ev.At.Format(time.RFC3339), ev.Kind, ev.InstanceID, ev.Replicas, ev.Synchronized)
	default:
		fmt.Printf("[%s] %s account=%s\n", ev.At.Format(time.RFC3339), ev.Kind, ev.AccountID)
	}
}
