package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk YAML shape of a workflow. It is distinct from
// the runtime model so that the wire format can stay stable while the
// model evolves.
type Document struct {
	Workflow     DocumentHeader       `yaml:"workflow" json:"workflow"`
	GlobalConfig map[string]any       `yaml:"globalConfig,omitempty" json:"globalConfig,omitempty"`
	Nodes        []DocumentNode       `yaml:"nodes" json:"nodes"`
	Connections  []DocumentConnection `yaml:"connections,omitempty" json:"connections,omitempty"`
}

// DocumentHeader carries workflow identity and metadata.
type DocumentHeader struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string         `yaml:"version,omitempty" json:"version,omitempty"`
	Author      string         `yaml:"author,omitempty" json:"author,omitempty"`
	Metadata    map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// DocumentNode is a node as written in the document. Enabled defaults
// to true when omitted.
type DocumentNode struct {
	ID       string         `yaml:"id" json:"id"`
	Name     string         `yaml:"name" json:"name"`
	Type     string         `yaml:"type" json:"type"`
	Enabled  *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Position *Position      `yaml:"position,omitempty" json:"position,omitempty"`
	Config   map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// DocumentConnection is an edge as written in the document.
type DocumentConnection struct {
	From      string `yaml:"from" json:"from"`
	To        string `yaml:"to" json:"to"`
	Enabled   *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// LoadDocument parses a YAML workflow document, validates it against
// the document schema and the model invariants, and returns the
// runtime workflow. Invalid documents are rejected before any side
// effect.
func LoadDocument(data []byte) (*Workflow, error) {
	if err := ValidateDocumentSchema(data); err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow document: %w", err)
	}

	wf := doc.ToWorkflow()
	if result := wf.Validate(); !result.Valid() {
		return nil, fmt.Errorf("load workflow %q: %w", wf.ID, result.Error())
	}
	return wf, nil
}

// ToWorkflow converts the document to the runtime model.
func (d *Document) ToWorkflow() *Workflow {
	wf := &Workflow{
		ID:           d.Workflow.ID,
		Name:         d.Workflow.Name,
		Description:  d.Workflow.Description,
		Version:      d.Workflow.Version,
		Author:       d.Workflow.Author,
		Metadata:     d.Workflow.Metadata,
		GlobalConfig: d.GlobalConfig,
	}
	for _, n := range d.Nodes {
		enabled := true
		if n.Enabled != nil {
			enabled = *n.Enabled
		}
		wf.Nodes = append(wf.Nodes, &Node{
			ID:       n.ID,
			Name:     n.Name,
			Kind:     NodeKind(n.Type),
			Enabled:  enabled,
			Config:   n.Config,
			Position: n.Position,
		})
	}
	for _, c := range d.Connections {
		enabled := true
		if c.Enabled != nil {
			enabled = *c.Enabled
		}
		wf.Edges = append(wf.Edges, &Edge{
			From:      c.From,
			To:        c.To,
			Enabled:   enabled,
			Condition: c.Condition,
		})
	}
	return wf
}

// ToDocument converts a runtime workflow back to its document shape.
// LoadDocument(MarshalDocument(w)) yields an isomorphic DAG.
func (w *Workflow) ToDocument() *Document {
	doc := &Document{
		Workflow: DocumentHeader{
			ID:          w.ID,
			Name:        w.Name,
			Description: w.Description,
			Version:     w.Version,
			Author:      w.Author,
			Metadata:    w.Metadata,
		},
		GlobalConfig: w.GlobalConfig,
	}
	for _, n := range w.Nodes {
		dn := DocumentNode{
			ID:       n.ID,
			Name:     n.Name,
			Type:     string(n.Kind),
			Position: n.Position,
			Config:   n.Config,
		}
		if !n.Enabled {
			disabled := false
			dn.Enabled = &disabled
		}
		doc.Nodes = append(doc.Nodes, dn)
	}
	for _, e := range w.Edges {
		dc := DocumentConnection{From: e.From, To: e.To, Condition: e.Condition}
		if !e.Enabled {
			disabled := false
			dc.Enabled = &disabled
		}
		doc.Connections = append(doc.Connections, dc)
	}
	return doc
}

// MarshalDocument serializes the workflow to its YAML document shape.
func (w *Workflow) MarshalDocument() ([]byte, error) {
	data, err := yaml.Marshal(w.ToDocument())
	if err != nil {
		return nil, fmt.Errorf("marshal workflow %q: %w", w.ID, err)
	}
	return data, nil
}
