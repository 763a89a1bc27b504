package workflow

import "fmt"

// Builder assembles a Workflow programmatically. Terminal Build runs
// full validation, so every Workflow obtained from a Builder satisfies
// the model invariants.
type Builder struct {
	wf *Workflow
}

// NewBuilder starts a workflow with the given id and name.
func NewBuilder(id, name string) *Builder {
	return &Builder{wf: &Workflow{ID: id, Name: name}}
}

// Description sets the workflow description.
func (b *Builder) Description(d string) *Builder {
	b.wf.Description = d
	return b
}

// Version sets the workflow version.
func (b *Builder) Version(v string) *Builder {
	b.wf.Version = v
	return b
}

// Metadata sets a metadata entry.
func (b *Builder) Metadata(key string, value any) *Builder {
	if b.wf.Metadata == nil {
		b.wf.Metadata = make(map[string]any)
	}
	b.wf.Metadata[key] = value
	return b
}

// Node adds an enabled node with the given kind and config.
func (b *Builder) Node(id, name string, kind NodeKind, config map[string]any) *Builder {
	b.wf.Nodes = append(b.wf.Nodes, &Node{
		ID:      id,
		Name:    name,
		Kind:    kind,
		Enabled: true,
		Config:  config,
	})
	return b
}

// DisabledNode adds a node that is validated and counted but never
// executed.
func (b *Builder) DisabledNode(id, name string, kind NodeKind, config map[string]any) *Builder {
	b.wf.Nodes = append(b.wf.Nodes, &Node{
		ID:     id,
		Name:   name,
		Kind:   kind,
		Config: config,
	})
	return b
}

// Edge adds a dependency from one node to another.
func (b *Builder) Edge(from, to string) *Builder {
	b.wf.Edges = append(b.wf.Edges, &Edge{From: from, To: to, Enabled: true})
	return b
}

// ConditionalEdge adds a dependency gated by an expression over the
// execution context.
func (b *Builder) ConditionalEdge(from, to, condition string) *Builder {
	b.wf.Edges = append(b.wf.Edges, &Edge{From: from, To: to, Enabled: true, Condition: condition})
	return b
}

// Build validates and returns the workflow. The builder must not be
// reused after Build.
func (b *Builder) Build() (*Workflow, error) {
	if result := b.wf.Validate(); !result.Valid() {
		return nil, fmt.Errorf("build workflow %q: %w", b.wf.ID, result.Error())
	}
	return b.wf, nil
}
