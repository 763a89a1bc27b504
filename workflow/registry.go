package workflow

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Status describes the lifecycle state of a registered workflow.
// Only ACTIVE workflows are returned by normal lookup.
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusInactive   Status = "INACTIVE"
	StatusDeprecated Status = "DEPRECATED"
	StatusDraft      Status = "DRAFT"
)

// Entry is the registry record for a workflow.
type Entry struct {
	Workflow         *Workflow
	Status           Status
	Version          string
	Description      string
	RegistrationTime time.Time
	LastAccessTime   time.Time
}

// Registry is the named catalog of workflows. It also tracks the
// caller-to-callee dependency edges created by reference nodes, so the
// reference executor can reject invocations that would close a cycle.
// All methods are safe for concurrent use.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
	// deps maps a caller workflow id to the set of callee ids its
	// reference nodes target.
	deps map[string]map[string]bool
}

// NewRegistry creates an empty workflow registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		entries: make(map[string]*Entry),
		deps:    make(map[string]map[string]bool),
	}
}

// Register validates and adds a workflow with the given status.
// Registering an id that already exists fails.
func (r *Registry) Register(wf *Workflow, status Status) error {
	if result := wf.Validate(); !result.Valid() {
		return fmt.Errorf("register workflow %q: %w", wf.ID, result.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[wf.ID]; exists {
		return fmt.Errorf("register workflow %q: %w", wf.ID, ErrAlreadyRegistered)
	}

	now := time.Now()
	r.entries[wf.ID] = &Entry{
		Workflow:         wf,
		Status:           status,
		Version:          wf.Version,
		Description:      wf.Description,
		RegistrationTime: now,
		LastAccessTime:   now,
	}

	r.logger.Info("Registered workflow",
		"workflow_id", wf.ID,
		"status", string(status),
		"nodes", len(wf.Nodes))
	return nil
}

// Unregister removes a workflow and its outgoing dependency edges.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; !exists {
		return fmt.Errorf("unregister workflow %q: %w", id, ErrNotFound)
	}
	delete(r.entries, id)
	delete(r.deps, id)

	r.logger.Info("Unregistered workflow", "workflow_id", id)
	return nil
}

// Get returns an ACTIVE workflow and updates its last access time.
// Inactive, deprecated and draft workflows are invisible to Get.
func (r *Registry) Get(id string) (*Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[id]
	if !exists || entry.Status != StatusActive {
		return nil, fmt.Errorf("lookup workflow %q: %w", id, ErrNotFound)
	}
	entry.LastAccessTime = time.Now()
	return entry.Workflow, nil
}

// GetEntry returns the registry record regardless of status. Intended
// for operator tooling; does not touch the access time.
func (r *Registry) GetEntry(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[id]
	if !exists {
		return nil, fmt.Errorf("lookup workflow %q: %w", id, ErrNotFound)
	}
	copied := *entry
	return &copied, nil
}

// SetStatus changes the lifecycle status of a registered workflow.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[id]
	if !exists {
		return fmt.Errorf("set status of workflow %q: %w", id, ErrNotFound)
	}
	entry.Status = status
	return nil
}

// List returns all registered workflow ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Search returns ids of workflows whose id or name contains the query,
// case-insensitively, in sorted order.
func (r *Registry) Search(query string) []string {
	query = strings.ToLower(query)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, entry := range r.entries {
		if strings.Contains(strings.ToLower(id), query) ||
			strings.Contains(strings.ToLower(entry.Workflow.Name), query) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// AddDependency records a caller-to-callee edge created by a reference
// node. It fails when the edge would close a cycle; the registry state
// is unchanged in that case.
func (r *Registry) AddDependency(caller, callee string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.wouldCycle(caller, callee) {
		return fmt.Errorf("dependency %s -> %s: %w", caller, callee, ErrCircularDependency)
	}
	if r.deps[caller] == nil {
		r.deps[caller] = make(map[string]bool)
	}
	r.deps[caller][callee] = true
	return nil
}

// RemoveDependenciesFrom drops all outgoing dependency edges of caller.
// Used when a workflow is rebuilt and its reference nodes change.
func (r *Registry) RemoveDependenciesFrom(caller string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.deps, caller)
}

// Dependencies returns the callee ids of caller in sorted order.
func (r *Registry) Dependencies(caller string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	callees := make([]string, 0, len(r.deps[caller]))
	for callee := range r.deps[caller] {
		callees = append(callees, callee)
	}
	sort.Strings(callees)
	return callees
}

// HasCircularDependency reports whether the dependency graph reachable
// from id contains a cycle.
func (r *Registry) HasCircularDependency(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	return r.dfsCycle(id, visited, onStack)
}

// wouldCycle reports whether adding caller->callee closes a cycle,
// i.e. caller is reachable from callee. Callers hold r.mu.
func (r *Registry) wouldCycle(caller, callee string) bool {
	if caller == callee {
		return true
	}
	stack := []string{callee}
	seen := map[string]bool{callee: true}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range r.deps[id] {
			if next == caller {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

func (r *Registry) dfsCycle(id string, visited, onStack map[string]bool) bool {
	if onStack[id] {
		return true
	}
	if visited[id] {
		return false
	}
	visited[id] = true
	onStack[id] = true
	for next := range r.deps[id] {
		if r.dfsCycle(next, visited, onStack) {
			return true
		}
	}
	onStack[id] = false
	return false
}
