package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradewire/accountsync/internal/connection"
	"github.com/tradewire/accountsync/internal/metrics"
)

// commander is the slice of the go-redis client the announcer needs.
type commander interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Config contains presence announcer settings.
type Config struct {
	// NodeID identifies this process in published entries.
	NodeID string

	// KeyPrefix is prepended to every presence key.
	KeyPrefix string

	// TTL is the expiry set on each presence key. Keys vanish on their
	// own when the process dies without cleaning up.
	TTL time.Duration

	// RefreshInterval is how often held keys are re-published. Must be
	// shorter than TTL or live entries expire between refreshes.
	RefreshInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:       "accountsync:presence",
		TTL:             30 * time.Second,
		RefreshInterval: 10 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.KeyPrefix == "" {
		c.KeyPrefix = def.KeyPrefix
	}
	if c.TTL <= 0 {
		c.TTL = def.TTL
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = def.RefreshInterval
	}
}

// entry is the JSON document stored per account.
type entry struct {
	NodeID       string    `json:"node_id"`
	AccountID    string    `json:"account_id"`
	Synchronized bool      `json:"synchronized"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Announcer publishes per-account synchronization state to redis so other
// nodes can see which accounts this process serves and whether they are
// usable. One key per account, refreshed ahead of its TTL, deleted when the
// account's last handle closes.
//
// RecordEvent never blocks; events are buffered and applied by a background
// worker. Only verdict changes are published.
type Announcer struct {
	cfg    Config
	client commander
	logger *slog.Logger

	events chan connection.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	lastState map[string]bool // last published verdict per account
	stats     AnnouncerMetrics
}

// AnnouncerMetrics holds announcer counters.
type AnnouncerMetrics struct {
	Updates   int64
	Deletes   int64
	Refreshes int64
	Errors    int64
	Dropped   int64
}

// NewAnnouncer creates an announcer publishing through client.
func NewAnnouncer(cfg Config, client commander, logger *slog.Logger) (*Announcer, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &Announcer{
		cfg:       cfg,
		client:    client,
		logger:    logger.With("component", "presence"),
		events:    make(chan connection.Event, 64),
		lastState: make(map[string]bool),
	}, nil
}

// RecordEvent queues an event for publication. Never blocks.
func (a *Announcer) RecordEvent(ev connection.Event) {
	select {
	case a.events <- ev:
	default:
		a.mu.Lock()
		a.stats.Dropped++
		a.mu.Unlock()
	}
}

// Start begins applying events and refreshing held keys.
func (a *Announcer) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go a.run()

	a.logger.Info("presence announcer started",
		"node_id", a.cfg.NodeID,
		"key_prefix", a.cfg.KeyPrefix,
		"ttl", a.cfg.TTL,
	)
	return nil
}

// Stop shuts the announcer down and deletes every key it holds. Events
// still queued are discarded; the deletes supersede them.
func (a *Announcer) Stop(ctx context.Context) error {
	a.logger.Info("stopping presence announcer")

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("presence announcer stop timed out")
	}

	a.mu.Lock()
	keys := make([]string, 0, len(a.lastState))
	for id := range a.lastState {
		keys = append(keys, a.key(id))
	}
	a.lastState = make(map[string]bool)
	a.mu.Unlock()

	if len(keys) > 0 {
		if err := a.client.Del(ctx, keys...).Err(); err != nil {
			metrics.PresenceErrors.Inc()
			a.logger.Error("presence cleanup failed", "keys", len(keys), "error", err)
			return fmt.Errorf("delete presence keys: %w", err)
		}
		a.mu.Lock()
		a.stats.Deletes += int64(len(keys))
		a.mu.Unlock()
	}

	a.logger.Info("presence announcer stopped")
	return nil
}

// Stats returns current metrics.
func (a *Announcer) Stats() AnnouncerMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// run applies queued events and refreshes held keys until the context ends.
func (a *Announcer) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case ev := <-a.events:
			a.apply(a.ctx, ev)
		case <-ticker.C:
			a.refresh(a.ctx)
		}
	}
}

// apply publishes one event's effect. Closed accounts lose their key;
// everything else publishes only when the verdict changed.
func (a *Announcer) apply(ctx context.Context, ev connection.Event) {
	if ev.Kind == connection.EventClosed {
		a.remove(ctx, ev.AccountID)
		return
	}

	a.mu.Lock()
	last, seen := a.lastState[ev.AccountID]
	changed := !seen || last != ev.Synchronized
	if changed {
		a.lastState[ev.AccountID] = ev.Synchronized
	}
	a.mu.Unlock()

	if !changed {
		return
	}

	if err := a.publish(ctx, ev.AccountID, ev.Synchronized); err != nil {
		a.logger.Error("presence update failed", "account", ev.AccountID, "error", err)
		return
	}

	a.mu.Lock()
	a.stats.Updates++
	a.mu.Unlock()

	a.logger.Debug("presence updated",
		"account", ev.AccountID,
		"synchronized", ev.Synchronized,
	)
}

// refresh re-publishes every held key so none expires while the account is
// still open.
func (a *Announcer) refresh(ctx context.Context) {
	a.mu.Lock()
	held := make(map[string]bool, len(a.lastState))
	for id, synced := range a.lastState {
		held[id] = synced
	}
	a.mu.Unlock()

	for id, synced := range held {
		if err := a.publish(ctx, id, synced); err != nil {
			a.logger.Error("presence refresh failed", "account", id, "error", err)
			continue
		}
		a.mu.Lock()
		a.stats.Refreshes++
		a.mu.Unlock()
	}
}

// publish SETs one presence key with the configured TTL.
func (a *Announcer) publish(ctx context.Context, accountID string, synchronized bool) error {
	doc := entry{
		NodeID:       a.cfg.NodeID,
		AccountID:    accountID,
		Synchronized: synchronized,
		UpdatedAt:    time.Now().UTC(),
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal presence entry: %w", err)
	}

	if err := a.client.Set(ctx, a.key(accountID), payload, a.cfg.TTL).Err(); err != nil {
		metrics.PresenceErrors.Inc()
		a.mu.Lock()
		a.stats.Errors++
		a.mu.Unlock()
		return fmt.Errorf("set presence key: %w", err)
	}

	metrics.PresenceUpdates.Inc()
	return nil
}

// remove deletes an account's presence key and forgets its state.
func (a *Announcer) remove(ctx context.Context, accountID string) {
	a.mu.Lock()
	delete(a.lastState, accountID)
	a.mu.Unlock()

	if err := a.client.Del(ctx, a.key(accountID)).Err(); err != nil {
		metrics.PresenceErrors.Inc()
		a.mu.Lock()
		a.stats.Errors++
		a.mu.Unlock()
		a.logger.Error("presence delete failed", "account", accountID, "error", err)
		return
	}

	a.mu.Lock()
	a.stats.Deletes++
	a.mu.Unlock()

	a.logger.Debug("presence removed", "account", accountID)
}

func (a *Announcer) key(accountID string) string {
	return a.cfg.KeyPrefix + ":" + accountID
}
