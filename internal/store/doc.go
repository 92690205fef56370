// Package store defines the persistence contract for display sessions.
// Implementations live in subpackages; this package must not import database
// drivers or concrete clients.
package store
