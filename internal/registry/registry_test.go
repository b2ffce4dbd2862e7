package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewire/accountsync/internal/connection"
	"github.com/tradewire/accountsync/internal/model"
)

type noopTerminal struct{}

func (noopTerminal) EnsureSubscribe(ctx context.Context, accountID string, instanceIndex int) error {
	return nil
}
func (noopTerminal) AddAccountCache(accountID string, regions map[string]string) {}
func (noopTerminal) RemoveAccountCache(accountID string)                         {}
func (noopTerminal) WaitSynchronized(ctx context.Context, accountID string, timeout time.Duration) error {
	return nil
}
func (noopTerminal) Trade(ctx context.Context, accountID string, req model.TradeRequest) (*model.TradeResult, error) {
	return nil, nil
}
func (noopTerminal) CalculateMargin(ctx context.Context, accountID string, req model.MarginRequest) (*model.Margin, error) {
	return nil, nil
}

func account(id string) model.Account {
	return model.Account{ID: id, Regions: map[string]string{"vint-hill": id}}
}

func newTestRegistry() *Registry {
	return New(connection.DefaultConfig(), noopTerminal{}, nil)
}

func TestEnsureRPC_ReturnsSameConnection(t *testing.T) {
	r := newTestRegistry()

	first := r.EnsureRPC(account("acct-1"))
	second := r.EnsureRPC(account("acct-1"))

	assert.Same(t, first, second, "same account should yield the same connection")
	assert.Equal(t, 1, r.Len())
}

func TestEnsureRPC_DistinctAccounts(t *testing.T) {
	r := newTestRegistry()

	a := r.EnsureRPC(account("acct-1"))
	b := r.EnsureRPC(account("acct-2"))

	assert.NotSame(t, a, b, "distinct accounts should get distinct connections")
	assert.Equal(t, []string{"acct-1", "acct-2"}, r.Accounts())
}

func TestEnsureRPC_ConcurrentCallersOneObject(t *testing.T) {
	r := newTestRegistry()

	const n = 32
	conns := make([]*connection.AccountConnection, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			conns[i] = r.EnsureRPC(account("acct-1"))
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Same(t, conns[0], conns[i], "caller %d got a different connection", i)
	}
	assert.Equal(t, 1, r.Len())
}

func TestRemoveRPC(t *testing.T) {
	r := newTestRegistry()
	before := r.EnsureRPC(account("acct-1"))

	r.RemoveRPC("acct-1")

	_, ok := r.Connection("acct-1")
	assert.False(t, ok, "Connection should miss after RemoveRPC")

	// Removing an absent entry is tolerated.
	r.RemoveRPC("acct-1")
	r.RemoveRPC("never-created")

	after := r.EnsureRPC(account("acct-1"))
	assert.NotSame(t, before, after, "EnsureRPC after removal should build a fresh connection")
}

func TestTeardownRemovesFromRegistry(t *testing.T) {
	r := newTestRegistry()

	conn := r.EnsureRPC(account("acct-1"))
	require.NoError(t, conn.Connect(context.Background(), ""))

	// Same object while the handle is open.
	assert.Same(t, conn, r.EnsureRPC(account("acct-1")), "EnsureRPC should return the live connection")

	require.NoError(t, conn.Close(""))

	_, ok := r.Connection("acct-1")
	assert.False(t, ok, "registry should drop the connection after its last handle closes")
	assert.Equal(t, 0, r.Len())
}
