package execution

import (
	"sync"
	"testing"
)

func TestContextBasics(t *testing.T) {
	ec := NewContext("wf-1", map[string]any{"seed": 1})

	if ec.WorkflowID() != "wf-1" {
		t.Errorf("expected workflow id wf-1, got %s", ec.WorkflowID())
	}
	if ec.ExecutionID() == "" {
		t.Error("expected a non-empty execution id")
	}

	v, ok := ec.Get("seed")
	if !ok || v != 1 {
		t.Errorf("expected seed=1, got %v (present=%v)", v, ok)
	}

	ec.Set("x", "hello")
	if v, _ := ec.Get("x"); v != "hello" {
		t.Errorf("expected x=hello, got %v", v)
	}

	ec.Set("x", "world")
	if v, _ := ec.Get("x"); v != "world" {
		t.Errorf("expected last write to win, got %v", v)
	}

	ec.Delete("x")
	if _, ok := ec.Get("x"); ok {
		t.Error("expected x to be deleted")
	}
	// Deleting a missing key is a no-op.
	ec.Delete("x")

	if ec.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", ec.Len())
	}
}

func TestContextSnapshotDetached(t *testing.T) {
	ec := NewContext("wf-1", nil)
	ec.Set("a", 1)

	snap := ec.Snapshot()
	ec.Set("a", 2)
	ec.Set("b", 3)

	if snap["a"] != 1 {
		t.Errorf("snapshot should keep a=1, got %v", snap["a"])
	}
	if _, ok := snap["b"]; ok {
		t.Error("snapshot should not see later writes")
	}
}

func TestContextExecutionIDsUnique(t *testing.T) {
	a := NewContext("wf", nil)
	b := NewContext("wf", nil)
	if a.ExecutionID() == b.ExecutionID() {
		t.Error("expected distinct execution ids")
	}
}

func TestContextConcurrentAccess(t *testing.T) {
	ec := NewContext("wf", nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			ec.Set("shared", i)
		}(i)
		go func() {
			defer wg.Done()
			ec.Get("shared")
			ec.Keys()
		}()
	}
	wg.Wait()

	if _, ok := ec.Get("shared"); !ok {
		t.Error("expected shared key to be present after concurrent writes")
	}
}
