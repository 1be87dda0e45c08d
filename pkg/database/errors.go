package database

import "errors"

// Database configuration errors
var (
	ErrInvalidDatabasePath    = errors.New("invalid database path")
	ErrInvalidRetention       = errors.New("invalid retention")
	ErrInvalidSynchronousMode = errors.New("invalid synchronous mode")
)

// Database operation errors
var (
	ErrDatabaseNotConnected = errors.New("database not connected")
	ErrMigrationFailed      = errors.New("migration failed")
)

// Repository errors
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidEventType = errors.New("invalid event type")
)
