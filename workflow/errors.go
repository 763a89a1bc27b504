package workflow

import "errors"

// Common registry errors.
var (
	// ErrNotFound is returned when a workflow is not in the registry
	// or not visible through normal lookup.
	ErrNotFound = errors.New("workflow not found")

	// ErrAlreadyRegistered is returned when registering an id twice.
	ErrAlreadyRegistered = errors.New("workflow already registered")

	// ErrCircularDependency is returned when adding a reference edge
	// would close a cycle in the dependency graph.
	ErrCircularDependency = errors.New("circular workflow dependency")
)
