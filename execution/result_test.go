package execution

import "testing"

func TestComputeStats(t *testing.T) {
	wr := &WorkflowResult{
		NodeResults: map[string]*NodeResult{
			"a": {NodeID: "a", Success: true, Executed: true, DurationMs: 10},
			"b": {NodeID: "b", Success: false, Executed: true, Message: "boom", DurationMs: 20},
			"c": NewNodeSkipped("c", "disabled"),
			"d": NewPredecessorFailure("d", "b"),
		},
	}
	wr.ComputeStats()

	if wr.Success {
		t.Error("expected workflow failure")
	}
	if wr.Stats.TotalNodes != 4 {
		t.Errorf("expected 4 total nodes, got %d", wr.Stats.TotalNodes)
	}
	if wr.Stats.SuccessfulNodes != 1 {
		t.Errorf("expected 1 successful node, got %d", wr.Stats.SuccessfulNodes)
	}
	if wr.Stats.FailedNodes != 2 {
		t.Errorf("expected 2 failed nodes, got %d", wr.Stats.FailedNodes)
	}
	if wr.Stats.SkippedNodes != 1 {
		t.Errorf("expected 1 skipped node, got %d", wr.Stats.SkippedNodes)
	}
	// Average over executed nodes only: (10+20)/2.
	if wr.Stats.AverageNodeDuration != 15 {
		t.Errorf("expected average duration 15, got %f", wr.Stats.AverageNodeDuration)
	}
	if wr.Message == "" {
		t.Error("expected a failure summary message")
	}
}

func TestComputeStatsAllSuccess(t *testing.T) {
	wr := &WorkflowResult{
		NodeResults: map[string]*NodeResult{
			"a": {NodeID: "a", Success: true, Executed: true},
		},
	}
	wr.ComputeStats()

	if !wr.Success {
		t.Error("expected workflow success")
	}
	if wr.Message != "workflow completed successfully" {
		t.Errorf("unexpected message %q", wr.Message)
	}
}

func TestSkippedResults(t *testing.T) {
	skip := NewNodeSkipped("n", "edge condition false")
	if !skip.Success || skip.Executed || !skip.Skipped() {
		t.Errorf("skip should be a non-executed synthetic success: %+v", skip)
	}

	cascade := NewPredecessorFailure("n", "p")
	if cascade.Success || cascade.Executed {
		t.Errorf("predecessor failure should be non-executed failure: %+v", cascade)
	}
	if cascade.Code != CodePredecessorFailed {
		t.Errorf("expected code %s, got %s", CodePredecessorFailed, cascade.Code)
	}
	if cascade.Skipped() {
		t.Error("predecessor failure is not a skip")
	}
}
