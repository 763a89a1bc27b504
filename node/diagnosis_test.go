package node

import (
	"context"
	"log/slog"
	"testing"

	"github.com/c360studio/dagflow/execution"
	"github.com/c360studio/dagflow/workflow"
)

func newDiagnosisNode(config map[string]any) *DiagnosisNode {
	if config["inputKey"] == nil {
		config["inputKey"] = "records"
	}
	if config["outputKey"] == nil {
		config["outputKey"] = "finding"
	}
	return &DiagnosisNode{
		decl:   &workflow.Node{ID: "diag", Kind: workflow.KindDiagnosis, Enabled: true, Config: config},
		logger: slog.Default(),
	}
}

func runDiagnosis(t *testing.T, n *DiagnosisNode, records []any) map[string]any {
	t.Helper()
	ec := execution.NewContext("wf", map[string]any{"records": records})
	result := n.Execute(context.Background(), ec)
	if !result.Success {
		t.Fatalf("Execute() failed: %s (%s)", result.Message, result.Code)
	}
	finding, ok := result.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected a finding map, got %T", result.Data)
	}
	// The finding is also written to the output slot.
	if v, _ := ec.Get("finding"); v == nil {
		t.Error("expected finding at outputKey")
	}
	return finding
}

func TestDiagnosisErrorDetection(t *testing.T) {
	n := newDiagnosisNode(map[string]any{"diagnosisType": DiagnosisErrorDetection})

	finding := runDiagnosis(t, n, []any{
		map[string]any{"level": "INFO", "module": "auth"},
		map[string]any{"level": "ERROR", "module": "auth"},
		map[string]any{"level": "FATAL", "module": "db"},
		map[string]any{"level": "ERROR"},
	})

	if finding["issueCount"] != 3 {
		t.Errorf("expected 3 issues, got %v", finding["issueCount"])
	}
	byModule := finding["byModule"].(map[string]int)
	if byModule["auth"] != 1 || byModule["db"] != 1 || byModule["unknown"] != 1 {
		t.Errorf("unexpected module grouping: %v", byModule)
	}
}

func TestDiagnosisPatternAnalysis(t *testing.T) {
	n := newDiagnosisNode(map[string]any{
		"diagnosisType": DiagnosisPatternAnalysis,
		"patternField":  "code",
	})

	finding := runDiagnosis(t, n, []any{
		map[string]any{"code": "E1"},
		map[string]any{"code": "E2"},
		map[string]any{"code": "E1"},
		map[string]any{"code": "E1"},
	})

	items := finding["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 buckets, got %v", items)
	}
	// Most common first.
	top := items[0].(map[string]any)
	if top["pattern"] != "E1" || top["count"] != 3 {
		t.Errorf("unexpected top bucket: %v", top)
	}
}

func TestDiagnosisAnomalyDetection(t *testing.T) {
	n := newDiagnosisNode(map[string]any{
		"diagnosisType": DiagnosisAnomalyDetection,
		"valueField":    "latency",
		"zThreshold":    2.0,
	})

	// Tight cluster with one extreme outlier.
	records := []any{
		map[string]any{"latency": 10},
		map[string]any{"latency": 11},
		map[string]any{"latency": 9},
		map[string]any{"latency": 10},
		map[string]any{"latency": 10},
		map[string]any{"latency": 500},
	}

	finding := runDiagnosis(t, n, records)
	if finding["issueCount"] != 1 {
		t.Errorf("expected 1 anomaly, got %v", finding["issueCount"])
	}
	items := finding["items"].([]any)
	anomaly := items[0].(map[string]any)
	if anomaly["value"] != 500.0 {
		t.Errorf("expected the outlier to be flagged, got %v", anomaly)
	}
}

func TestDiagnosisAnomalyDetectionUniformValues(t *testing.T) {
	n := newDiagnosisNode(map[string]any{"diagnosisType": DiagnosisAnomalyDetection})

	finding := runDiagnosis(t, n, []any{
		map[string]any{"value": 5},
		map[string]any{"value": 5},
		map[string]any{"value": 5},
	})
	// Zero stddev means nothing can be anomalous.
	if finding["issueCount"] != 0 {
		t.Errorf("expected no anomalies, got %v", finding["issueCount"])
	}
}

func TestDiagnosisPerformanceAnalysis(t *testing.T) {
	n := newDiagnosisNode(map[string]any{
		"diagnosisType": DiagnosisPerformanceAnalysis,
		"slowThreshold": 100,
	})

	finding := runDiagnosis(t, n, []any{
		map[string]any{"value": 50},
		map[string]any{"value": 150},
		map[string]any{"value": 100}, // at the threshold counts as fast
		map[string]any{"value": 300},
		map[string]any{"other": "ignored"},
	})

	if finding["issueCount"] != 2 {
		t.Errorf("expected 2 slow records, got %v", finding["issueCount"])
	}
	if finding["fastCount"] != 2 {
		t.Errorf("expected 2 fast records, got %v", finding["fastCount"])
	}
	if finding["averageMs"] != 150.0 {
		t.Errorf("expected average 150, got %v", finding["averageMs"])
	}
}

func TestDiagnosisRejectsNonCollections(t *testing.T) {
	n := newDiagnosisNode(map[string]any{"diagnosisType": DiagnosisErrorDetection})

	tests := []struct {
		name  string
		value any
	}{
		{"scalar", 42},
		{"string", "logs"},
		{"scalar collection", []any{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := execution.NewContext("wf", map[string]any{"records": tt.value})
			result := n.Execute(context.Background(), ec)
			if result.Success || result.Code != execution.CodeInputResolution {
				t.Errorf("expected INPUT_RESOLUTION failure, got %+v", result)
			}
		})
	}

	t.Run("missing input", func(t *testing.T) {
		result := n.Execute(context.Background(), execution.NewContext("wf", nil))
		if result.Success || result.Code != execution.CodeInputResolution {
			t.Errorf("expected INPUT_RESOLUTION failure, got %+v", result)
		}
	})
}

func TestDiagnosisValidate(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
		valid  bool
	}{
		{"complete", map[string]any{"diagnosisType": DiagnosisErrorDetection}, true},
		{"missing type", map[string]any{}, false},
		{"unknown type", map[string]any{"diagnosisType": "palm_reading"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newDiagnosisNode(tt.config)
			if result := n.Validate(); result.Valid() != tt.valid {
				t.Errorf("Valid() = %v, want %v (errors: %v)", result.Valid(), tt.valid, result.Errors)
			}
		})
	}
}
