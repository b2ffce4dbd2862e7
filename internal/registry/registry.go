package registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/tradewire/accountsync/internal/connection"
	"github.com/tradewire/accountsync/internal/model"
)

// Registry hands out the shared AccountConnection for each account.
// EnsureRPC returns the same object for the same account id until the
// connection tears itself down and calls RemoveRPC.
type Registry struct {
	cfg       connection.Config
	client    connection.TerminalClient
	logger    *slog.Logger
	recorders []connection.EventRecorder

	mu    sync.RWMutex
	conns map[string]*connection.AccountConnection
}

// New creates a registry. client and recorders are handed to every
// connection the registry creates.
func New(cfg connection.Config, client connection.TerminalClient, logger *slog.Logger, recorders ...connection.EventRecorder) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		cfg:       cfg,
		client:    client,
		logger:    logger,
		recorders: recorders,
		conns:     make(map[string]*connection.AccountConnection),
	}
}

// EnsureRPC returns the connection for the account, creating it on first
// use. Concurrent callers for the same account get the same object.
func (r *Registry) EnsureRPC(account model.Account) *connection.AccountConnection {
	r.mu.RLock()
	conn, ok := r.conns[account.ID]
	r.mu.RUnlock()
	if ok {
		return conn
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[account.ID]; ok {
		return conn
	}

	conn = connection.NewAccountConnection(
		r.cfg,
		account,
		r.client,
		r,
		r.logger.With("account", account.ID),
		r.recorders...,
	)
	r.conns[account.ID] = conn

	r.logger.Debug("connection created", "account", account.ID)
	return conn
}

// RemoveRPC drops the registry entry for the account. Connections call
// this exactly once when their last handle closes; removing an absent
// entry is a no-op.
func (r *Registry) RemoveRPC(accountID string) {
	r.mu.Lock()
	_, ok := r.conns[accountID]
	delete(r.conns, accountID)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("connection removed", "account", accountID)
	}
}

// Connection returns the live connection for the account, if any.
func (r *Registry) Connection(accountID string) (*connection.AccountConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[accountID]
	return conn, ok
}

// Accounts returns the ids of all live connections, sorted.
func (r *Registry) Accounts() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
