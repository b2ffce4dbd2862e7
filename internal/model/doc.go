// Package model defines shared data types used across accountsync.
//
// Conventions:
//   - Account identifiers are opaque strings assigned by the terminal.
//   - Instance identifiers follow "region:replicaIndex:streamTag"
//     (e.g. "vint-hill:1:ps-mpa-1") and name one streaming connection
//     to one region/replica.
//   - Volumes and prices are float64 in account currency units, as
//     reported by the terminal.
package model
