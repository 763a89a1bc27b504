package workflow

import (
	"strings"
	"testing"
)

const sampleDocument = `
workflow:
  id: etl-sample
  name: ETL Sample
  version: "1.2"
globalConfig:
  timeout: 5000
  maxConcurrentNodes: 2
nodes:
  - id: read
    name: Read
    type: input
    config:
      values:
        rows: [1, 2, 3]
  - id: transform
    name: Transform
    type: script
    config:
      script: "input"
      inputKey: rows
      outputKey: out
  - id: archived
    name: Archived
    type: script
    enabled: false
    config:
      script: "1"
connections:
  - from: read
    to: transform
  - from: transform
    to: archived
    condition: "out != nil"
`

func TestLoadDocument(t *testing.T) {
	wf, err := LoadDocument([]byte(sampleDocument))
	if err != nil {
		t.Fatalf("LoadDocument() error = %v", err)
	}

	if wf.ID != "etl-sample" || wf.Version != "1.2" {
		t.Errorf("unexpected header: id=%s version=%s", wf.ID, wf.Version)
	}
	if len(wf.Nodes) != 3 || len(wf.Edges) != 2 {
		t.Fatalf("unexpected graph shape: %d nodes, %d edges", len(wf.Nodes), len(wf.Edges))
	}

	// Enabled defaults to true when omitted.
	if !wf.Node("read").Enabled {
		t.Error("expected read to default to enabled")
	}
	if wf.Node("archived").Enabled {
		t.Error("expected archived to stay disabled")
	}
	if wf.Edges[1].Condition != "out != nil" {
		t.Errorf("expected edge condition to survive, got %q", wf.Edges[1].Condition)
	}
	if wf.GlobalConfig["maxConcurrentNodes"] != 2 {
		t.Errorf("unexpected globalConfig: %v", wf.GlobalConfig)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	wf, err := LoadDocument([]byte(sampleDocument))
	if err != nil {
		t.Fatal(err)
	}

	data, err := wf.MarshalDocument()
	if err != nil {
		t.Fatalf("MarshalDocument() error = %v", err)
	}
	again, err := LoadDocument(data)
	if err != nil {
		t.Fatalf("reload after marshal: %v", err)
	}

	if again.ID != wf.ID || len(again.Nodes) != len(wf.Nodes) || len(again.Edges) != len(wf.Edges) {
		t.Errorf("round trip changed shape: %d/%d nodes, %d/%d edges",
			len(again.Nodes), len(wf.Nodes), len(again.Edges), len(wf.Edges))
	}
	for i, n := range wf.Nodes {
		got := again.Nodes[i]
		if got.ID != n.ID || got.Kind != n.Kind || got.Enabled != n.Enabled {
			t.Errorf("node %d changed: %+v vs %+v", i, got, n)
		}
	}
	for i, e := range wf.Edges {
		got := again.Edges[i]
		if got.From != e.From || got.To != e.To || got.Condition != e.Condition {
			t.Errorf("edge %d changed: %+v vs %+v", i, got, e)
		}
	}
}

func TestLoadDocumentSchemaRejection(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing workflow header",
			doc: `
nodes:
  - id: a
    name: A
    type: input
`,
			want: "schema violation",
		},
		{
			name: "unknown node type",
			doc: `
workflow:
  id: wf
  name: WF
nodes:
  - id: a
    name: A
    type: teleport
`,
			want: "schema violation",
		},
		{
			name: "connection without target",
			doc: `
workflow:
  id: wf
  name: WF
nodes:
  - id: a
    name: A
    type: input
connections:
  - from: a
`,
			want: "schema violation",
		},
		{
			name: "not yaml",
			doc:  `{{{`,
			want: "parse workflow document",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDocument([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected rejection")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadDocumentModelRejection(t *testing.T) {
	// Schema-valid but structurally broken: dangling edge endpoint.
	doc := `
workflow:
  id: wf
  name: WF
nodes:
  - id: a
    name: A
    type: input
connections:
  - from: a
    to: ghost
`
	if _, err := LoadDocument([]byte(doc)); err == nil {
		t.Error("expected model validation to reject the dangling edge")
	}
}
