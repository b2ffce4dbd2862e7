// Package connection implements the per-account connection state machine.
//
// The connection package:
//   - Tracks connected terminal instances per account and derives the
//     synchronized verdict (at least one instance connected)
//   - Reference-counts handles so setup runs on first Connect and
//     teardown runs exactly once when the last handle closes
//   - Implements the deadline-bounded synchronization wait, retrying
//     transient terminal timeouts until the deadline
//   - Gates trading operations on the synchronized state
package connection
