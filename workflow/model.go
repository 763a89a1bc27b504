// Package workflow defines the DAG model executed by the engine, the
// declarative document codec, and the named catalog of workflows used
// by reference nodes.
package workflow

import (
	"fmt"
	"sort"
)

// NodeKind identifies the behavior of a node. The set is closed.
type NodeKind string

const (
	KindInput     NodeKind = "input"
	KindOutput    NodeKind = "output"
	KindScript    NodeKind = "script"
	KindDiagnosis NodeKind = "diagnosis"
	KindPlugin    NodeKind = "plugin"
	KindReference NodeKind = "reference"
)

// ValidKind reports whether k is a member of the closed node kind set.
func ValidKind(k NodeKind) bool {
	switch k {
	case KindInput, KindOutput, KindScript, KindDiagnosis, KindPlugin, KindReference:
		return true
	}
	return false
}

// Position is an optional visualization hint. It carries no semantics.
type Position struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Node is the declarative description of a single work unit.
// Config is kind-specific and interpreted by the node implementation.
type Node struct {
	ID       string         `yaml:"id" json:"id"`
	Name     string         `yaml:"name" json:"name"`
	Kind     NodeKind       `yaml:"type" json:"type"`
	Enabled  bool           `yaml:"enabled" json:"enabled"`
	Config   map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	Position *Position      `yaml:"position,omitempty" json:"position,omitempty"`
}

// Edge is a directed dependency between two nodes. Condition is an
// optional expression over the execution context; when it evaluates to
// false the target node is skipped.
type Edge struct {
	From      string `yaml:"from" json:"from"`
	To        string `yaml:"to" json:"to"`
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// Workflow is a named DAG of nodes plus metadata. It is immutable after
// Build; Validate must hold for every constructed instance.
type Workflow struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string         `yaml:"version,omitempty" json:"version,omitempty"`
	Author      string         `yaml:"author,omitempty" json:"author,omitempty"`
	Metadata    map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Nodes       []*Node        `yaml:"nodes" json:"nodes"`
	Edges       []*Edge        `yaml:"edges" json:"edges"`

	// GlobalConfig carries document-level execution settings
	// (timeout, logLevel, maxConcurrentNodes).
	GlobalConfig map[string]any `yaml:"global_config,omitempty" json:"global_config,omitempty"`
}

// ValidationIssue is a single finding from workflow or node validation.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i ValidationIssue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

// ValidationResult collects errors and warnings. Valid is true when no
// errors were recorded; warnings do not affect validity.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether the result carries no errors.
func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

// AddError records an error finding.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Field: field, Message: message})
}

// AddWarning records a warning finding.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Field: field, Message: message})
}

// Merge appends the findings of other into r.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Error formats the result as an error when invalid, nil otherwise.
func (r *ValidationResult) Error() error {
	if r.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("validation failed: %v", msgs)
}

// Node returns the node with the given id, or nil.
func (w *Workflow) Node(id string) *Node {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Predecessors returns the ids of nodes with an enabled edge into id.
func (w *Workflow) Predecessors(id string) []string {
	var preds []string
	for _, e := range w.Edges {
		if e.Enabled && e.To == id {
			preds = append(preds, e.From)
		}
	}
	return preds
}

// Successors returns the ids of nodes with an enabled edge out of id.
func (w *Workflow) Successors(id string) []string {
	var succs []string
	for _, e := range w.Edges {
		if e.Enabled && e.From == id {
			succs = append(succs, e.To)
		}
	}
	return succs
}

// IncomingEdges returns the enabled edges whose target is id.
func (w *Workflow) IncomingEdges(id string) []*Edge {
	var edges []*Edge
	for _, e := range w.Edges {
		if e.Enabled && e.To == id {
			edges = append(edges, e)
		}
	}
	return edges
}

// Validate checks the structural invariants: non-empty id, at least one
// node, unique node ids, well-formed edges (both endpoints exist, no
// self-loops), closed kind set, and acyclicity. Kind-specific config
// validation is done by the node implementations at build time.
// Validate is pure; calling it twice yields identical results.
func (w *Workflow) Validate() *ValidationResult {
	result := &ValidationResult{}

	if w.ID == "" {
		result.AddError("id", "workflow id is required")
	}
	if len(w.Nodes) == 0 {
		result.AddError("nodes", "workflow must contain at least one node")
	}

	seen := make(map[string]bool, len(w.Nodes))
	for i, n := range w.Nodes {
		field := fmt.Sprintf("nodes[%d]", i)
		if n.ID == "" {
			result.AddError(field+".id", "node id is required")
			continue
		}
		if seen[n.ID] {
			result.AddError(field+".id", fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = true
		if !ValidKind(n.Kind) {
			result.AddError(field+".type", fmt.Sprintf("unknown node type %q", n.Kind))
		}
	}

	for i, e := range w.Edges {
		field := fmt.Sprintf("edges[%d]", i)
		if !seen[e.From] {
			result.AddError(field+".from", fmt.Sprintf("unknown node %q", e.From))
		}
		if !seen[e.To] {
			result.AddError(field+".to", fmt.Sprintf("unknown node %q", e.To))
		}
		if e.From == e.To && e.From != "" {
			result.AddError(field, fmt.Sprintf("self-loop on node %q", e.From))
		}
	}

	if result.Valid() {
		if _, err := w.TopologicalOrder(); err != nil {
			result.AddError("edges", err.Error())
		}
	}

	return result
}

// TopologicalOrder returns the node ids in a deterministic topological
// order (Kahn's algorithm, ties broken by id). It returns an error when
// the edge set contains a cycle.
func (w *Workflow) TopologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(w.Nodes))
	successors := make(map[string][]string, len(w.Nodes))
	for _, n := range w.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range w.Edges {
		if !e.Enabled {
			continue
		}
		successors[e.From] = append(successors[e.From], e.To)
		inDegree[e.To]++
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(w.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, succ := range successors[id] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(w.Nodes) {
		return nil, fmt.Errorf("cycle detected in workflow graph")
	}
	return order, nil
}
