package deps

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hollandt/warden/internal/model"
)

// fakeStatuses implements StatusReader over a map; unknown tasks default
// to not_started, matching the registry's behavior.
type fakeStatuses map[string]model.Status

func (f fakeStatuses) StatusOf(taskID string) (model.Status, error) {
	if s, ok := f[taskID]; ok {
		return s, nil
	}
	return model.StatusNotStarted, nil
}

func (f fakeStatuses) Get(taskID string) (model.TaskRecord, error) {
	if s, ok := f[taskID]; ok {
		return model.TaskRecord{Status: s}, nil
	}
	return model.TaskRecord{}, fmt.Errorf("task not found: %s", taskID)
}

func newTestGraph(t *testing.T, statuses fakeStatuses) *Graph {
	t.Helper()
	return NewGraph(filepath.Join(t.TempDir(), "dependencies.yaml"), statuses)
}

func TestAdd_RejectsBadInput(t *testing.T) {
	g := newTestGraph(t, fakeStatuses{})

	if err := g.Add("", "b", model.DependencyCompletion, ""); err == nil {
		t.Error("expected error for empty task id")
	}
	if err := g.Add("a", "b", model.DependencyKind("finish"), ""); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestSatisfied_Conjunction(t *testing.T) {
	statuses := fakeStatuses{
		"done":    model.StatusCompleted,
		"pending": model.StatusInProgress,
	}
	g := newTestGraph(t, statuses)

	if err := g.Add("target", "done", model.DependencyCompletion, ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := g.Add("target", "pending", model.DependencyCompletion, ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// one satisfied, one not → unsatisfied
	ok, err := g.Satisfied("target")
	if err != nil {
		t.Fatalf("Satisfied failed: %v", err)
	}
	if ok {
		t.Error("conjunction should fail with one unsatisfied edge")
	}

	statuses["pending"] = model.StatusCompleted
	ok, err = g.Satisfied("target")
	if err != nil {
		t.Fatalf("Satisfied failed: %v", err)
	}
	if !ok {
		t.Error("all edges satisfied but Satisfied() == false")
	}
}

func TestSatisfied_Kinds(t *testing.T) {
	tests := []struct {
		name      string
		kind      model.DependencyKind
		depStatus model.Status
		want      bool
	}{
		{"completion satisfied", model.DependencyCompletion, model.StatusCompleted, true},
		{"completion unsatisfied by failed", model.DependencyCompletion, model.StatusFailed, false},
		{"success mirrors completion", model.DependencySuccess, model.StatusCompleted, true},
		{"success unsatisfied by in_progress", model.DependencySuccess, model.StatusInProgress, false},
		{"start satisfied once moving", model.DependencyStart, model.StatusInProgress, true},
		{"start satisfied by failure too", model.DependencyStart, model.StatusFailed, true},
		{"start unsatisfied before movement", model.DependencyStart, model.StatusNotStarted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGraph(t, fakeStatuses{"dep": tt.depStatus})
			if err := g.Add("target", "dep", tt.kind, ""); err != nil {
				t.Fatalf("Add failed: %v", err)
			}
			ok, err := g.Satisfied("target")
			if err != nil {
				t.Fatalf("Satisfied failed: %v", err)
			}
			if ok != tt.want {
				t.Errorf("Satisfied = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestSatisfied_NoEdges(t *testing.T) {
	g := newTestGraph(t, fakeStatuses{})
	ok, err := g.Satisfied("orphan")
	if err != nil {
		t.Fatalf("Satisfied failed: %v", err)
	}
	if !ok {
		t.Error("task with no dependencies should be satisfied")
	}
}

func TestSatisfied_NonexistentDependency(t *testing.T) {
	g := newTestGraph(t, fakeStatuses{})
	if err := g.Add("target", "ghost", model.DependencyCompletion, ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	ok, err := g.Satisfied("target")
	if err != nil {
		t.Fatalf("Satisfied failed: %v", err)
	}
	if ok {
		t.Error("edge to nonexistent task must stay unsatisfied")
	}
}

func TestDependents(t *testing.T) {
	g := newTestGraph(t, fakeStatuses{})
	edges := []struct{ from, to string }{
		{"b", "a"}, {"c", "a"}, {"d", "b"},
	}
	for _, e := range edges {
		if err := g.Add(e.from, e.to, model.DependencyCompletion, ""); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	direct, err := g.Dependents("a")
	if err != nil {
		t.Fatalf("Dependents failed: %v", err)
	}
	if len(direct) != 2 {
		t.Errorf("direct dependents of a: got %v, want [b c]", direct)
	}

	transitive, err := g.TransitiveDependents("a")
	if err != nil {
		t.Fatalf("TransitiveDependents failed: %v", err)
	}
	if len(transitive) != 3 {
		t.Errorf("transitive dependents of a: got %v, want 3 tasks", transitive)
	}
}

func TestLint_ReportsDanglingAndCycles(t *testing.T) {
	g := newTestGraph(t, fakeStatuses{"a": model.StatusInProgress, "b": model.StatusNotStarted})

	if err := g.Add("a", "b", model.DependencyCompletion, ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := g.Add("b", "a", model.DependencyCompletion, ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := g.Add("a", "ghost", model.DependencyCompletion, ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	issues, err := g.Lint()
	if err != nil {
		t.Fatalf("Lint failed: %v", err)
	}

	var hasDangling, hasCycle bool
	for _, issue := range issues {
		if strings.Contains(issue, "unregistered") {
			hasDangling = true
		}
		if strings.Contains(issue, "cycle") {
			hasCycle = true
		}
	}
	if !hasDangling {
		t.Errorf("Lint missed dangling edge: %v", issues)
	}
	if !hasCycle {
		t.Errorf("Lint missed cycle: %v", issues)
	}
}
