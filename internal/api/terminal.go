package api

import (
	"context"
	"fmt"
	"time"

	"github.com/tradewire/accountsync/internal/model"
)

// subscribeRequest is the body for POST /accounts/{id}/subscribe.
type subscribeRequest struct {
	InstanceIndex int `json:"instance_index"`
}

// EnsureSubscribe asks the terminal to subscribe the account at the given
// instance index. The call is idempotent on the terminal side, so failures
// are retried with backoff.
func (c *Client) EnsureSubscribe(ctx context.Context, accountID string, instanceIndex int) error {
	path := fmt.Sprintf("/accounts/%s/subscribe", accountID)
	err := c.postWithRetry(ctx, path, subscribeRequest{InstanceIndex: instanceIndex}, nil)
	if err != nil {
		return fmt.Errorf("ensure subscribe %s/%d: %w", accountID, instanceIndex, err)
	}

	c.logger.Debug("subscription ensured",
		"account", accountID,
		"instance_index", instanceIndex,
	)
	return nil
}

// waitSynchronizedRequest is the body for POST /accounts/{id}/wait-synchronized.
type waitSynchronizedRequest struct {
	TimeoutMs int64 `json:"timeout_ms"`
}

// WaitSynchronized asks the terminal to block until the account is
// synchronized, up to timeout. The terminal answers 504 when the window
// passes without synchronization; that surfaces as an APIError whose
// Timeout() is true. No retry happens here, callers own that loop.
func (c *Client) WaitSynchronized(ctx context.Context, accountID string, timeout time.Duration) error {
	path := fmt.Sprintf("/accounts/%s/wait-synchronized", accountID)
	req := waitSynchronizedRequest{TimeoutMs: timeout.Milliseconds()}

	if err := c.post(ctx, path, req, nil); err != nil {
		return fmt.Errorf("wait synchronized %s: %w", accountID, err)
	}
	return nil
}

// Trade submits an order to the terminal. Not retried: a timed-out trade
// may still have executed.
func (c *Client) Trade(ctx context.Context, accountID string, req model.TradeRequest) (*model.TradeResult, error) {
	path := fmt.Sprintf("/accounts/%s/trade", accountID)

	var result model.TradeResult
	if err := c.post(ctx, path, req, &result); err != nil {
		return nil, fmt.Errorf("trade %s: %w", accountID, err)
	}

	c.logger.Debug("trade executed",
		"account", accountID,
		"symbol", req.Symbol,
		"order", result.OrderID,
	)
	return &result, nil
}

// CalculateMargin prices a hypothetical order. Read-only, so retried.
func (c *Client) CalculateMargin(ctx context.Context, accountID string, req model.MarginRequest) (*model.Margin, error) {
	path := fmt.Sprintf("/accounts/%s/margin", accountID)

	var result model.Margin
	if err := c.postWithRetry(ctx, path, req, &result); err != nil {
		return nil, fmt.Errorf("calculate margin %s: %w", accountID, err)
	}
	return &result, nil
}

// AccountState is the terminal's view of an account.
type AccountState struct {
	ID               string `json:"id"`
	State            string `json:"state"`
	ConnectionStatus string `json:"connection_status"`
}

// GetAccountState fetches the terminal's deployment state for an account.
func (c *Client) GetAccountState(ctx context.Context, accountID string) (*AccountState, error) {
	path := fmt.Sprintf("/accounts/%s", accountID)

	var state AccountState
	if err := c.get(ctx, path, nil, &state); err != nil {
		return nil, fmt.Errorf("get account state %s: %w", accountID, err)
	}
	return &state, nil
}

// AddAccountCache stores the region mapping for an account. The stored map
// is a copy; callers may mutate theirs afterwards.
func (c *Client) AddAccountCache(accountID string, regions map[string]string) {
	copied := make(map[string]string, len(regions))
	for region, id := range regions {
		copied[region] = id
	}

	c.cacheMu.Lock()
	c.cache[accountID] = copied
	c.cacheMu.Unlock()

	c.logger.Debug("account cached", "account", accountID, "regions", len(copied))
}

// RemoveAccountCache drops the cached region mapping for an account.
// Removing an account that was never cached is a no-op.
func (c *Client) RemoveAccountCache(accountID string) {
	c.cacheMu.Lock()
	delete(c.cache, accountID)
	c.cacheMu.Unlock()

	c.logger.Debug("account cache removed", "account", accountID)
}

// Regions returns a copy of the cached region mapping for an account.
func (c *Client) Regions(accountID string) (map[string]string, bool) {
	c.cacheMu.RLock()
	regions, ok := c.cache[accountID]
	c.cacheMu.RUnlock()
	if !ok {
		return nil, false
	}

	copied := make(map[string]string, len(regions))
	for region, id := range regions {
		copied[region] = id
	}
	return copied, true
}

// ClientStats reports cache occupancy for health endpoints.
type ClientStats struct {
	CachedAccounts int
}

// Stats returns current client statistics.
func (c *Client) Stats() ClientStats {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return ClientStats{CachedAccounts: len(c.cache)}
}
