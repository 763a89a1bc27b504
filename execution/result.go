package execution

import "time"

// Stable error codes carried on failure results. Node implementations
// attach these so callers can react without parsing messages.
const (
	CodePluginNotFound     = "PLUGIN_NOT_FOUND"
	CodeConnectionFailed   = "CONNECTION_FAILED"
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodeReadFailed         = "READ_FAILED"
	CodeCircularDependency = "CIRCULAR_DEPENDENCY"
	CodeTimeout            = "TIMEOUT"
	CodePredecessorFailed  = "PREDECESSOR_FAILED"
	CodeInputResolution    = "INPUT_RESOLUTION"
	CodeWorkflowNotFound   = "WORKFLOW_NOT_FOUND"
	CodeScriptError        = "SCRIPT_ERROR"
	CodeNotifyFailed       = "NOTIFY_FAILED"
)

// NodeResult records the outcome of a single node within an execution.
type NodeResult struct {
	NodeID     string         `json:"node_id"`
	Success    bool           `json:"success"`
	Executed   bool           `json:"executed"`
	Message    string         `json:"message,omitempty"`
	Code       string         `json:"code,omitempty"`
	Data       any            `json:"data,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	DurationMs int64          `json:"duration_ms"`
}

// NewNodeSuccess returns a successful executed result for nodeID.
func NewNodeSuccess(nodeID string, data any) *NodeResult {
	return &NodeResult{NodeID: nodeID, Success: true, Executed: true, Data: data}
}

// NewNodeFailure returns a failed executed result with a stable code.
func NewNodeFailure(nodeID, code, message string) *NodeResult {
	return &NodeResult{NodeID: nodeID, Success: false, Executed: true, Code: code, Message: message}
}

// NewNodeSkipped returns a synthetic success for a node that was not
// executed (disabled node, false edge condition, false CONDITIONAL).
func NewNodeSkipped(nodeID, reason string) *NodeResult {
	return &NodeResult{
		NodeID:   nodeID,
		Success:  true,
		Executed: false,
		Message:  reason,
		Metadata: map[string]any{"skipped": true},
	}
}

// NewPredecessorFailure returns the synthetic failure recorded for a node
// whose predecessors did not all succeed. The node is never executed.
func NewPredecessorFailure(nodeID, predecessorID string) *NodeResult {
	return &NodeResult{
		NodeID:   nodeID,
		Success:  false,
		Executed: false,
		Code:     CodePredecessorFailed,
		Message:  "predecessor failed: " + predecessorID,
		Metadata: map[string]any{"failed_predecessor": predecessorID},
	}
}

// Skipped reports whether the result is a synthetic skip.
func (r *NodeResult) Skipped() bool {
	if r.Metadata == nil {
		return false
	}
	skipped, _ := r.Metadata["skipped"].(bool)
	return skipped
}

// SetMeta attaches a metadata entry, allocating the map on first use.
func (r *NodeResult) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// Stats aggregates per-node outcomes for a finished execution.
type Stats struct {
	TotalNodes          int     `json:"total_nodes"`
	SuccessfulNodes     int     `json:"successful_nodes"`
	FailedNodes         int     `json:"failed_nodes"`
	SkippedNodes        int     `json:"skipped_nodes"`
	AverageNodeDuration float64 `json:"average_node_duration_ms"`
}

// WorkflowResult is the outcome of a whole workflow execution.
// Success is the conjunction over all executed, non-skipped nodes.
type WorkflowResult struct {
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Success     bool                   `json:"success"`
	Message     string                 `json:"message,omitempty"`
	NodeResults map[string]*NodeResult `json:"node_results"`
	Context     map[string]any         `json:"context,omitempty"`
	StartTime   time.Time              `json:"start_time"`
	DurationMs  int64                  `json:"duration_ms"`
	Stats       Stats                  `json:"stats"`
}

// ComputeStats fills Stats, Success and Message from NodeResults.
// Message summarizes the first failure encountered in node id order of
// insertion; per-node messages carry the detail.
func (w *WorkflowResult) ComputeStats() {
	w.Stats = Stats{TotalNodes: len(w.NodeResults)}
	w.Success = true

	var totalDuration int64
	var executed int
	for _, r := range w.NodeResults {
		switch {
		case r.Skipped():
			w.Stats.SkippedNodes++
		case r.Success:
			w.Stats.SuccessfulNodes++
		default:
			w.Stats.FailedNodes++
			w.Success = false
			if w.Message == "" {
				w.Message = "node " + r.NodeID + " failed: " + r.Message
			}
		}
		if r.Executed {
			executed++
			totalDuration += r.DurationMs
		}
	}
	if executed > 0 {
		w.Stats.AverageNodeDuration = float64(totalDuration) / float64(executed)
	}
	if w.Success && w.Message == "" {
		w.Message = "workflow completed successfully"
	}
}
