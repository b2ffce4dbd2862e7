package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradewire/accountsync/internal/metrics"
)

// WaitSynchronized blocks until the account is synchronized or the deadline
// passes. timeout <= 0 uses the configured default.
//
// The wait runs in two phases under one shared deadline. First it waits for
// at least one instance to report connected; if none does before the
// deadline, ErrSyncTimeout is returned without any terminal call. Once an
// instance has connected the wait is handed to the terminal, and transient
// timeouts from that call are retried until the deadline. Any other
// terminal error is returned as-is.
func (c *AccountConnection) WaitSynchronized(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.cfg.WaitTimeout
	}
	deadline := time.Now().Add(timeout)
	start := time.Now()

	// Capture the channel once. It is already closed while the set is
	// non-empty, so a connect that raced this call is still observed.
	ready := c.instances.readyCh()

	select {
	case <-ready:
	case <-ctx.Done():
		metrics.WaitDuration.WithLabelValues("canceled").Observe(time.Since(start).Seconds())
		return ctx.Err()
	case <-time.After(time.Until(deadline)):
		metrics.WaitDuration.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
		c.logger.Warn("synchronization wait timed out before any instance connected",
			"account", c.account.ID,
			"timeout", timeout,
		)
		return fmt.Errorf("account %s: no instance connected within %s: %w",
			c.account.ID, timeout, ErrSyncTimeout)
	}

	wctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	attempts := 0
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			metrics.WaitDuration.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
			metrics.WaitAttempts.Observe(float64(attempts))
			c.logger.Warn("synchronization wait timed out",
				"account", c.account.ID,
				"timeout", timeout,
				"attempts", attempts,
			)
			return fmt.Errorf("account %s: not synchronized within %s after %d attempts: %w",
				c.account.ID, timeout, attempts, ErrSyncTimeout)
		}

		attempts++
		err := c.client.WaitSynchronized(wctx, c.account.ID, remaining)
		if err == nil {
			metrics.WaitDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
			metrics.WaitAttempts.Observe(float64(attempts))
			c.logger.Debug("synchronization confirmed",
				"account", c.account.ID,
				"attempts", attempts,
			)
			return nil
		}
		if !isTransientTimeout(err) {
			metrics.WaitDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
			metrics.WaitAttempts.Observe(float64(attempts))
			return fmt.Errorf("wait synchronized %s: %w", c.account.ID, err)
		}

		c.logger.Debug("transient timeout from terminal, retrying",
			"account", c.account.ID,
			"attempt", attempts,
			"error", err,
		)
	}
}

// isTransientTimeout reports whether err is a timeout in the net.Error
// sense: some error in the chain exposes Timeout() bool and it returns
// true. Context deadline errors qualify, so a deadline expiring mid-call
// loops back and exits through the remaining-time check.
func isTransientTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
