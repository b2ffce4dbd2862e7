// Package database provides pgx connection pool setup for the event journal.
package database
