package plugin

import "errors"

// Common registry errors.
var (
	// ErrNotFound is returned when a plugin id is not registered.
	ErrNotFound = errors.New("plugin not found")

	// ErrAlreadyRegistered is returned when registering an id twice.
	ErrAlreadyRegistered = errors.New("plugin already registered")

	// ErrScanRejected is returned when the security scan found a
	// CRITICAL issue and the archive was not registered.
	ErrScanRejected = errors.New("plugin rejected by security scan")
)
