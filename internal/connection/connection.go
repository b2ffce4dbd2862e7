package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradewire/accountsync/internal/metrics"
	"github.com/tradewire/accountsync/internal/model"
)

// AccountConnection is a shared logical connection to one account. Many
// callers may hold handles on the same object; the underlying subscription
// is set up on the first Connect and torn down when the last handle closes.
//
// The transport layer drives state through OnConnected, OnDisconnected and
// OnStreamClosed; these are the only mutation paths into the instance set.
type AccountConnection struct {
	cfg       Config
	account   model.Account
	client    TerminalClient
	registry  ConnectionRegistry
	logger    *slog.Logger
	recorders []EventRecorder

	instances *instanceSet

	// Handle accounting. Entries exist only while their count is positive,
	// so an empty map means every tracked identifier reached zero.
	mu     sync.Mutex
	refs   map[string]int
	opened bool
}

// NewAccountConnection creates a connection for the account. The registry
// is notified once on full teardown. Recorders receive state events and
// must not block.
func NewAccountConnection(
	cfg Config,
	account model.Account,
	client TerminalClient,
	registry ConnectionRegistry,
	logger *slog.Logger,
	recorders ...EventRecorder,
) *AccountConnection {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultConfig().WaitTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &AccountConnection{
		cfg:       cfg,
		account:   account,
		client:    client,
		registry:  registry,
		logger:    logger,
		recorders: recorders,
		instances: newInstanceSet(),
		refs:      make(map[string]int),
	}
}

// Account returns the account this connection serves.
func (c *AccountConnection) Account() model.Account {
	return c.account
}

// Connect opens a handle on the connection. accountID selects the
// identifier the handle is counted under; empty means the primary account.
//
// The first Connect on the object registers the account with the terminal's
// cache and subscribes every region-mapped identifier at instance indexes
// 0 and 1. A fan-out error is returned to that caller, but the handle stays
// open and counted and must still be released with Close.
func (c *AccountConnection) Connect(ctx context.Context, accountID string) error {
	if accountID == "" {
		accountID = c.account.ID
	}

	c.mu.Lock()
	c.refs[accountID]++
	count := c.refs[accountID]
	first := !c.opened
	if first {
		c.opened = true
	}
	c.mu.Unlock()

	metrics.OpenHandles.WithLabelValues(accountID).Set(float64(count))
	c.logger.Debug("connect", "account", accountID, "handles", count)

	if !first {
		return nil
	}

	c.record(EventOpened, "", 0)
	c.client.AddAccountCache(c.account.ID, c.account.Regions)

	if err := c.subscribeAll(ctx); err != nil {
		c.logger.Error("subscription fan-out failed", "account", c.account.ID, "error", err)
		return err
	}

	c.logger.Info("account subscriptions established",
		"account", c.account.ID,
		"regions", len(c.account.Regions),
	)
	return nil
}

// subscribeAll issues one EnsureSubscribe per (identifier, instanceIndex)
// pair derived from the region map.
func (c *AccountConnection) subscribeAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, id := range c.account.RegionAccountIDs() {
		for idx := 0; idx < instanceIndexCount; idx++ {
			id, idx := id, idx
			g.Go(func() error {
				if err := c.client.EnsureSubscribe(gctx, id, idx); err != nil {
					metrics.SubscribeCalls.WithLabelValues("error").Inc()
					return fmt.Errorf("subscribe %s/%d: %w", id, idx, err)
				}
				metrics.SubscribeCalls.WithLabelValues("ok").Inc()
				return nil
			})
		}
	}

	return g.Wait()
}

// Close releases a handle. accountID must match the identifier passed to
// Connect; empty means the primary account. Closing an identifier that was
// never connected is tolerated and fires no external calls.
//
// When every tracked identifier reaches zero the account is removed from
// the terminal's cache and from the registry, exactly once. The object can
// be reused afterwards; the next Connect re-runs setup.
func (c *AccountConnection) Close(accountID string) error {
	if accountID == "" {
		accountID = c.account.ID
	}

	c.mu.Lock()
	n := c.refs[accountID]
	switch {
	case n > 1:
		c.refs[accountID] = n - 1
	case n == 1:
		delete(c.refs, accountID)
	}
	remaining := c.refs[accountID]
	teardown := c.opened && len(c.refs) == 0
	if teardown {
		c.opened = false
	}
	c.mu.Unlock()

	if n == 0 {
		c.logger.Debug("close of untracked identifier ignored", "account", accountID)
		return nil
	}

	metrics.OpenHandles.WithLabelValues(accountID).Set(float64(remaining))
	c.logger.Debug("close", "account", accountID, "handles", remaining)

	if !teardown {
		return nil
	}

	c.logger.Info("last handle closed, tearing down", "account", c.account.ID)
	c.client.RemoveAccountCache(c.account.ID)
	c.registry.RemoveRPC(c.account.ID)
	c.record(EventClosed, "", 0)
	return nil
}

// OnConnected records that an instance reported connected. replicas is the
// replica count the instance advertised.
func (c *AccountConnection) OnConnected(instanceID string, replicas int) {
	flipped := c.instances.markConnected(instanceID)
	c.observeInstances()
	metrics.InstanceEvents.WithLabelValues(c.account.ID, string(EventConnected)).Inc()

	if flipped {
		c.logger.Info("account synchronized",
			"account", c.account.ID,
			"instance", instanceID,
			"replicas", replicas,
		)
	} else {
		c.logger.Debug("instance connected",
			"account", c.account.ID,
			"instance", instanceID,
			"replicas", replicas,
		)
	}

	c.record(EventConnected, instanceID, replicas)
}

// OnDisconnected records that an instance reported disconnected.
func (c *AccountConnection) OnDisconnected(instanceID string) {
	flipped := c.instances.markDisconnected(instanceID)
	c.observeInstances()
	metrics.InstanceEvents.WithLabelValues(c.account.ID, string(EventDisconnected)).Inc()

	if flipped {
		c.logger.Warn("account desynchronized",
			"account", c.account.ID,
			"instance", instanceID,
		)
	} else {
		c.logger.Debug("instance disconnected",
			"account", c.account.ID,
			"instance", instanceID,
		)
	}

	c.record(EventDisconnected, instanceID, 0)
}

// OnStreamClosed records that an instance's transport stream closed.
func (c *AccountConnection) OnStreamClosed(instanceID string) {
	flipped := c.instances.markStreamClosed(instanceID)
	c.observeInstances()
	metrics.InstanceEvents.WithLabelValues(c.account.ID, string(EventStreamClosed)).Inc()

	if flipped {
		c.logger.Warn("account desynchronized (stream closed)",
			"account", c.account.ID,
			"instance", instanceID,
		)
	} else {
		c.logger.Debug("instance stream closed",
			"account", c.account.ID,
			"instance", instanceID,
		)
	}

	c.record(EventStreamClosed, instanceID, 0)
}

// IsSynchronized reports whether at least one instance is connected.
func (c *AccountConnection) IsSynchronized() bool {
	return c.instances.synchronized()
}

// Trade submits an order. Requires a synchronized connection; terminal
// errors propagate unchanged.
func (c *AccountConnection) Trade(ctx context.Context, req model.TradeRequest) (*model.TradeResult, error) {
	if !c.instances.synchronized() {
		return nil, fmt.Errorf("trade %s: %w", c.account.ID, ErrNotSynchronized)
	}
	return c.client.Trade(ctx, c.account.ID, req)
}

// CalculateMargin prices a hypothetical order. Requires a synchronized
// connection; terminal errors propagate unchanged.
func (c *AccountConnection) CalculateMargin(ctx context.Context, req model.MarginRequest) (*model.Margin, error) {
	if !c.instances.synchronized() {
		return nil, fmt.Errorf("calculate margin %s: %w", c.account.ID, ErrNotSynchronized)
	}
	return c.client.CalculateMargin(ctx, c.account.ID, req)
}

// ConnectionStats is a point-in-time snapshot for health reporting.
type ConnectionStats struct {
	AccountID    string
	OpenHandles  int
	Instances    int
	Synchronized bool
	Opened       bool
}

// Stats returns current connection statistics.
func (c *AccountConnection) Stats() ConnectionStats {
	c.mu.Lock()
	handles := 0
	for _, n := range c.refs {
		handles += n
	}
	opened := c.opened
	c.mu.Unlock()

	return ConnectionStats{
		AccountID:    c.account.ID,
		OpenHandles:  handles,
		Instances:    c.instances.size(),
		Synchronized: c.instances.synchronized(),
		Opened:       opened,
	}
}

func (c *AccountConnection) observeInstances() {
	n := c.instances.size()
	metrics.ConnectedInstances.WithLabelValues(c.account.ID).Set(float64(n))
	if n > 0 {
		metrics.Synchronized.WithLabelValues(c.account.ID).Set(1)
	} else {
		metrics.Synchronized.WithLabelValues(c.account.ID).Set(0)
	}
}

func (c *AccountConnection) record(kind EventKind, instanceID string, replicas int) {
	if len(c.recorders) == 0 {
		return
	}
	ev := Event{
		At:           time.Now(),
		AccountID:    c.account.ID,
		InstanceID:   instanceID,
		Kind:         kind,
		Replicas:     replicas,
		Synchronized: c.instances.synchronized(),
	}
	for _, r := range c.recorders {
		r.RecordEvent(ev)
	}
}
