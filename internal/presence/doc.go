// Package presence publishes per-account synchronization state to redis.
//
// Each open account gets one key, prefix:accountID, holding a small JSON
// document with the owning node, the current verdict and a timestamp. Keys
// carry a TTL and are re-published on an interval, so entries for crashed
// nodes age out on their own. A clean shutdown deletes the node's keys
// immediately.
package presence
