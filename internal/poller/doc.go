// Package poller implements the account state check.
//
// The state poller:
//   - Polls the terminal REST API for each account's reported state
//   - Compares it against the feed-derived synchronization verdict
//   - Surfaces drift through warnings and metrics, never by mutating state
//   - Uses concurrent requests with a concurrency cap
package poller
