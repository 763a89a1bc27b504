package node

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/c360studio/dagflow/execution"
	"github.com/c360studio/dagflow/workflow"
)

// Diagnosis algorithms. Each consumes the collection at inputKey and
// writes a structured finding to outputKey.
const (
	DiagnosisErrorDetection      = "error_detection"
	DiagnosisPatternAnalysis     = "pattern_analysis"
	DiagnosisAnomalyDetection    = "anomaly_detection"
	DiagnosisPerformanceAnalysis = "performance_analysis"
)

// DiagnosisNode analyzes a record collection. Config:
//
//	diagnosisType   one of the four algorithms above
//	inputKey        context slot holding the collection
//	outputKey       context slot for the finding
//	patternField    pattern_analysis: record field to bucket (default "message")
//	valueField      anomaly/performance: numeric field (default "value")
//	zThreshold      anomaly_detection: z-score cutoff (default 3.0)
//	slowThreshold   performance_analysis: slow cutoff in ms (default 1000)
type DiagnosisNode struct {
	decl   *workflow.Node
	logger *slog.Logger
}

func (n *DiagnosisNode) ID() string { return n.decl.ID }

func (n *DiagnosisNode) Validate() *workflow.ValidationResult {
	result := &workflow.ValidationResult{}

	switch configString(n.decl.Config, "diagnosisType") {
	case DiagnosisErrorDetection, DiagnosisPatternAnalysis, DiagnosisAnomalyDetection, DiagnosisPerformanceAnalysis:
	case "":
		result.AddError("config.diagnosisType", "diagnosis node requires a diagnosisType")
	default:
		result.AddError("config.diagnosisType",
			fmt.Sprintf("unknown diagnosis type %q", configString(n.decl.Config, "diagnosisType")))
	}

	if configString(n.decl.Config, "inputKey") == "" {
		result.AddError("config.inputKey", "diagnosis node requires an inputKey")
	}
	if configString(n.decl.Config, "outputKey") == "" {
		result.AddError("config.outputKey", "diagnosis node requires an outputKey")
	}
	return result
}

func (n *DiagnosisNode) Execute(ctx context.Context, ec *execution.Context) *execution.NodeResult {
	inputKey := configString(n.decl.Config, "inputKey")
	raw, present := ec.Get(inputKey)
	if !present {
		return execution.NewNodeFailure(n.decl.ID, execution.CodeInputResolution,
			fmt.Sprintf("no input at context key %q", inputKey))
	}

	records, err := asRecords(raw)
	if err != nil {
		return execution.NewNodeFailure(n.decl.ID, execution.CodeInputResolution, err.Error())
	}

	var finding map[string]any
	switch configString(n.decl.Config, "diagnosisType") {
	case DiagnosisErrorDetection:
		finding = n.detectErrors(records)
	case DiagnosisPatternAnalysis:
		finding = n.analyzePatterns(records)
	case DiagnosisAnomalyDetection:
		finding = n.detectAnomalies(records)
	case DiagnosisPerformanceAnalysis:
		finding = n.analyzePerformance(records)
	default:
		return execution.NewNodeFailure(n.decl.ID, execution.CodeInvalidConfig,
			"unknown diagnosis type "+configString(n.decl.Config, "diagnosisType"))
	}

	ec.Set(configString(n.decl.Config, "outputKey"), finding)

	result := execution.NewNodeSuccess(n.decl.ID, finding)
	result.SetMeta("records_analyzed", len(records))
	return result
}

func (n *DiagnosisNode) Destroy() error { return nil }

// asRecords coerces the input payload into a record list. Each element
// must be an object; scalar collections are rejected with the offending
// type named.
func asRecords(raw any) ([]map[string]any, error) {
	list, ok := raw.([]any)
	if !ok {
		if typed, ok := raw.([]map[string]any); ok {
			return typed, nil
		}
		return nil, fmt.Errorf("input is %T, not a collection", raw)
	}
	records := make([]map[string]any, 0, len(list))
	for i, item := range list {
		record, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %d is %T, not an object", i, item)
		}
		records = append(records, record)
	}
	return records, nil
}

// detectErrors counts records with level ERROR or FATAL and groups them
// by module.
func (n *DiagnosisNode) detectErrors(records []map[string]any) map[string]any {
	var items []any
	byModule := make(map[string]int)

	for _, r := range records {
		level, _ := r["level"].(string)
		if level != "ERROR" && level != "FATAL" {
			continue
		}
		items = append(items, r)
		module, _ := r["module"].(string)
		if module == "" {
			module = "unknown"
		}
		byModule[module]++
	}

	return map[string]any{
		"issueCount": len(items),
		"items":      items,
		"byModule":   byModule,
		"summary":    fmt.Sprintf("%d error records across %d modules", len(items), len(byModule)),
	}
}

// analyzePatterns buckets records by a field value and reports the
// frequency distribution, most common first.
func (n *DiagnosisNode) analyzePatterns(records []map[string]any) map[string]any {
	field := configString(n.decl.Config, "patternField")
	if field == "" {
		field = "message"
	}

	counts := make(map[string]int)
	for _, r := range records {
		key := fmt.Sprintf("%v", r[field])
		counts[key]++
	}

	type bucket struct {
		Pattern string `json:"pattern"`
		Count   int    `json:"count"`
	}
	buckets := make([]bucket, 0, len(counts))
	for pattern, count := range counts {
		buckets = append(buckets, bucket{Pattern: pattern, Count: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Pattern < buckets[j].Pattern
	})

	items := make([]any, len(buckets))
	for i, b := range buckets {
		items[i] = map[string]any{"pattern": b.Pattern, "count": b.Count}
	}

	return map[string]any{
		"issueCount": len(buckets),
		"items":      items,
		"field":      field,
		"summary":    fmt.Sprintf("%d distinct values of %q over %d records", len(buckets), field, len(records)),
	}
}

// detectAnomalies flags records whose numeric field deviates from the
// mean by more than the z-score threshold.
func (n *DiagnosisNode) detectAnomalies(records []map[string]any) map[string]any {
	field := configString(n.decl.Config, "valueField")
	if field == "" {
		field = "value"
	}
	threshold := 3.0
	if v, ok := n.decl.Config["zThreshold"].(float64); ok && v > 0 {
		threshold = v
	}

	var values []float64
	var valued []map[string]any
	for _, r := range records {
		if v, ok := numeric(r[field]); ok {
			values = append(values, v)
			valued = append(valued, r)
		}
	}

	var items []any
	mean, stddev := 0.0, 0.0
	if len(values) > 0 {
		for _, v := range values {
			mean += v
		}
		mean /= float64(len(values))
		for _, v := range values {
			stddev += (v - mean) * (v - mean)
		}
		stddev = math.Sqrt(stddev / float64(len(values)))

		for i, v := range values {
			if stddev == 0 {
				break
			}
			z := math.Abs(v-mean) / stddev
			if z > threshold {
				items = append(items, map[string]any{"record": valued[i], "value": v, "zScore": z})
			}
		}
	}

	return map[string]any{
		"issueCount": len(items),
		"items":      items,
		"mean":       mean,
		"stddev":     stddev,
		"summary":    fmt.Sprintf("%d anomalies beyond %.1f standard deviations", len(items), threshold),
	}
}

// analyzePerformance partitions records by value > slowThreshold.
func (n *DiagnosisNode) analyzePerformance(records []map[string]any) map[string]any {
	field := configString(n.decl.Config, "valueField")
	if field == "" {
		field = "value"
	}
	threshold := float64(configInt(n.decl.Config, "slowThreshold", 1000))

	var slow, fast []any
	var total float64
	var counted int
	for _, r := range records {
		v, ok := numeric(r[field])
		if !ok {
			continue
		}
		counted++
		total += v
		if v > threshold {
			slow = append(slow, r)
		} else {
			fast = append(fast, r)
		}
	}

	avg := 0.0
	if counted > 0 {
		avg = total / float64(counted)
	}

	return map[string]any{
		"issueCount":  len(slow),
		"items":       slow,
		"fastCount":   len(fast),
		"averageMs":   avg,
		"thresholdMs": threshold,
		"summary":     fmt.Sprintf("%d of %d records above %.0f ms", len(slow), counted, threshold),
	}
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
