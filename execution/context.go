// Package execution holds the per-run state of a workflow: the shared
// context store that nodes read and write, and the result types the
// engine aggregates when a run finishes.
package execution

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context is the shared keyed store for a single workflow execution.
// All nodes of the execution read and write the same Context; map
// operations are serialized so concurrent siblings observe atomic
// per-key updates. Concurrent writes to the same key are last-writer-wins.
type Context struct {
	workflowID  string
	executionID string
	startTime   time.Time

	mu   sync.RWMutex
	data map[string]any
}

// NewContext creates a fresh execution context for the given workflow,
// seeded with initial data. A nil seed is treated as empty.
func NewContext(workflowID string, initial map[string]any) *Context {
	data := make(map[string]any, len(initial))
	for k, v := range initial {
		data[k] = v
	}
	return &Context{
		workflowID:  workflowID,
		executionID: uuid.New().String(),
		startTime:   time.Now(),
		data:        data,
	}
}

// WorkflowID returns the id of the workflow this context belongs to.
func (c *Context) WorkflowID() string { return c.workflowID }

// ExecutionID returns the unique id of this execution.
func (c *Context) ExecutionID() string { return c.executionID }

// StartTime returns when the execution context was created.
func (c *Context) StartTime() time.Time { return c.startTime }

// Get returns the value stored under key and whether it was present.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// Delete removes key from the store. Deleting a missing key is a no-op.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Keys returns the set of keys currently in the store.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of entries in the store.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Snapshot returns a shallow copy of the store. The copy is detached:
// later writes to the context do not affect it.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(map[string]any, len(c.data))
	for k, v := range c.data {
		snap[k] = v
	}
	return snap
}
