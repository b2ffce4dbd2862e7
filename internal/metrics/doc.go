// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connected instance counts and synchronization verdicts per account
//   - WaitSynchronized durations and remote check attempts
//   - Subscription fan-out outcomes
//   - Event feed session and reconnect counts
//   - Journal batch throughput and errors
package metrics
