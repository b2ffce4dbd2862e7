// Package registry tracks the live AccountConnection per account id.
//
// Connections are created lazily on EnsureRPC and removed when the
// connection's last handle closes.
package registry
