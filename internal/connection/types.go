package connection

import (
	"context"
	"errors"
	"time"

	"github.com/tradewire/accountsync/internal/model"
)

// Errors
var (
	// ErrSyncTimeout reports that WaitSynchronized reached its deadline,
	// either before any instance connected or while remote checks were
	// still timing out.
	ErrSyncTimeout = errors.New("synchronization wait timed out")

	// ErrNotSynchronized gates trading operations while no instance is
	// connected.
	ErrNotSynchronized = errors.New("connection is not synchronized")
)

// TerminalClient is the remote client a connection issues commands through.
// Implementations are shared across connections and must tolerate
// concurrent calls.
type TerminalClient interface {
	// EnsureSubscribe asks the terminal to start (or keep) streaming the
	// account at the given instance index. Idempotent on the server side.
	EnsureSubscribe(ctx context.Context, accountID string, instanceIndex int) error

	// AddAccountCache registers the account and its region map with the
	// client's local account table.
	AddAccountCache(accountID string, regions map[string]string)

	// RemoveAccountCache drops the account from the client's local table.
	RemoveAccountCache(accountID string)

	// WaitSynchronized blocks until the terminal reports the account
	// synchronized, up to timeout. A timeout is reported by an error
	// whose chain exposes Timeout() bool returning true.
	WaitSynchronized(ctx context.Context, accountID string, timeout time.Duration) error

	// Trade submits an order for the account.
	Trade(ctx context.Context, accountID string, req model.TradeRequest) (*model.TradeResult, error)

	// CalculateMargin prices the margin for a hypothetical order.
	CalculateMargin(ctx context.Context, accountID string, req model.MarginRequest) (*model.Margin, error)
}

// ConnectionRegistry releases a torn-down connection from the process-wide
// registry.
type ConnectionRegistry interface {
	RemoveRPC(accountID string)
}

// EventKind classifies a connection event.
type EventKind string

const (
	EventOpened       EventKind = "opened"        // first Connect on the object
	EventConnected    EventKind = "connected"     // instance reported connected
	EventDisconnected EventKind = "disconnected"  // instance reported disconnected
	EventStreamClosed EventKind = "stream_closed" // instance transport stream closed
	EventClosed       EventKind = "closed"        // last handle closed, teardown done
)

// Event is a connection state transition, as forwarded to recorders.
type Event struct {
	At           time.Time
	AccountID    string
	InstanceID   string // empty for lifecycle events
	Kind         EventKind
	Replicas     int
	Synchronized bool // verdict after the event was applied
}

// EventRecorder receives connection events. RecordEvent is called on the
// event path and must not block.
type EventRecorder interface {
	RecordEvent(ev Event)
}

// Config configures an AccountConnection.
type Config struct {
	// WaitTimeout bounds WaitSynchronized when the caller passes a
	// non-positive timeout.
	WaitTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WaitTimeout: 5 * time.Minute,
	}
}

// instanceIndexCount is the number of subscription generations requested
// per account identifier during connection setup (indexes 0 and 1).
const instanceIndexCount = 2
