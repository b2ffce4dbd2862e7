// Package api provides the terminal REST API client.
//
// Endpoints used:
//   - POST /accounts/{id}/subscribe (idempotent, retried)
//   - POST /accounts/{id}/wait-synchronized (long poll, not retried here)
//   - POST /accounts/{id}/trade (not retried)
//   - POST /accounts/{id}/margin (retried)
//   - GET  /accounts/{id}
//
// The client also holds the local account region cache that the connection
// layer populates on first connect.
package api
