package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tradewire/accountsync/internal/api"
	"github.com/tradewire/accountsync/internal/connection"
	"github.com/tradewire/accountsync/internal/metrics"
)

// StateClient fetches the terminal's view of an account.
type StateClient interface {
	GetAccountState(ctx context.Context, accountID string) (*api.AccountState, error)
}

// ConnectionSource provides the accounts to check and their connections.
// Satisfied by registry.Registry.
type ConnectionSource interface {
	Accounts() []string
	Connection(accountID string) (*connection.AccountConnection, bool)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Check interval (default: 1m)
	Concurrency int           // Max concurrent requests (default: 10)
	Timeout     time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		Concurrency: 10,
		Timeout:     10 * time.Second,
	}
}

// Poller periodically fetches each account's state from the terminal and
// compares it against the locally derived verdict. It never mutates
// connection state; drift surfaces through logs and metrics so a stuck feed
// is visible.
type Poller struct {
	cfg    Config
	client StateClient
	source ConnectionSource
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, client StateClient, source ConnectionSource, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:    cfg,
		client: client,
		source: source,
		logger: logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("state poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("state poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Check immediately on start.
	p.checkAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.checkAll()
		}
	}
}

// checkAll checks every registered account concurrently.
func (p *Poller) checkAll() {
	start := time.Now()

	accounts := p.source.Accounts()
	if len(accounts) == 0 {
		p.logger.Debug("no accounts to check")
		return
	}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var drifted, failed atomic.Int64

	for _, id := range accounts {
		wg.Add(1)
		go func(accountID string) {
			defer wg.Done()

			// Acquire semaphore slot.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			drift, err := p.checkAccount(accountID)
			if err != nil {
				p.logger.Warn("account state check failed",
					"account", accountID,
					"err", err,
				)
				metrics.StateChecks.WithLabelValues("error").Inc()
				failed.Add(1)
				return
			}

			if drift {
				metrics.StateChecks.WithLabelValues("drift").Inc()
				drifted.Add(1)
			} else {
				metrics.StateChecks.WithLabelValues("ok").Inc()
			}
		}(id)
	}

	wg.Wait()

	p.logger.Debug("state check cycle complete",
		"accounts", len(accounts),
		"drifted", drifted.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

// checkAccount compares one account's terminal state with the local verdict.
func (p *Poller) checkAccount(accountID string) (bool, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	state, err := p.client.GetAccountState(ctx, accountID)
	if err != nil {
		return false, err
	}

	conn, ok := p.source.Connection(accountID)
	if !ok {
		// Torn down while the request was in flight.
		return false, nil
	}

	local := conn.IsSynchronized()
	remote := state.ConnectionStatus == "connected"
	if local == remote {
		return false, nil
	}

	p.logger.Warn("local verdict drifts from terminal",
		"account", accountID,
		"local_synchronized", local,
		"terminal_status", state.ConnectionStatus,
	)
	return true, nil
}
