package rules

import (
	"errors"
	"testing"

	"github.com/hollandt/warden/internal/model"
)

func TestLookup(t *testing.T) {
	for _, kind := range []model.OperationKind{
		model.OpSpecCreation, model.OpPlanCreation, model.OpTaskExecution,
		model.OpMemoryUpdate, model.OpStatusReport,
	} {
		t.Run(string(kind), func(t *testing.T) {
			rule, err := Lookup(kind)
			if err != nil {
				t.Fatalf("Lookup(%s) failed: %v", kind, err)
			}
			if rule.Kind != kind {
				t.Errorf("rule kind: got %q, want %q", rule.Kind, kind)
			}
		})
	}
}

func TestLookup_UnknownKind(t *testing.T) {
	_, err := Lookup(model.OperationKind("deploy"))
	if !errors.Is(err, ErrUnknownOperationKind) {
		t.Errorf("got %v, want ErrUnknownOperationKind", err)
	}
}

func TestAllowsPriorStatus(t *testing.T) {
	exec, err := Lookup(model.OpTaskExecution)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	for _, s := range []model.Status{
		model.StatusNotStarted, model.StatusInProgress, model.StatusBlocked, model.StatusFailed,
	} {
		if !exec.AllowsPriorStatus(s) {
			t.Errorf("task_execution should allow prior status %q", s)
		}
	}
	for _, s := range []model.Status{model.StatusCompleted, model.StatusCancelled, model.StatusWaitingForInput} {
		if exec.AllowsPriorStatus(s) {
			t.Errorf("task_execution should reject prior status %q", s)
		}
	}

	// unrestricted rule allows everything
	report, _ := Lookup(model.OpStatusReport)
	if !report.AllowsPriorStatus(model.StatusCompleted) {
		t.Error("status_report should not restrict prior status")
	}
}

func TestCheckCount(t *testing.T) {
	exec, _ := Lookup(model.OpTaskExecution)
	if got := exec.CheckCount(); got != 6 {
		t.Errorf("task_execution check count: got %d, want 6", got)
	}
	report, _ := Lookup(model.OpStatusReport)
	if got := report.CheckCount(); got != 0 {
		t.Errorf("status_report check count: got %d, want 0", got)
	}
}

func TestCheckArtifactsTracked(t *testing.T) {
	rule, _ := Lookup(model.OpSpecCreation)

	passed, _, err := EvaluateCheck(CheckArtifactsTracked, rule, Context{})
	if err != nil {
		t.Fatalf("EvaluateCheck failed: %v", err)
	}
	if passed {
		t.Error("empty session should fail artifacts_tracked")
	}

	passed, _, _ = EvaluateCheck(CheckArtifactsTracked, rule, Context{
		ArtifactsCreated: []string{"specs/feature.md"},
	})
	if !passed {
		t.Error("session with artifacts should pass artifacts_tracked")
	}
}

func TestCheckMandatoryArtifacts(t *testing.T) {
	rule, _ := Lookup(model.OpSpecCreation)

	tests := []struct {
		name   string
		ctx    Context
		passed bool
	}{
		{"matching created artifact", Context{ArtifactsCreated: []string{"specs/auth/spec.md"}}, true},
		{"matching modified artifact", Context{ArtifactsModified: []string{"specs/auth/spec.md"}}, true},
		{"no match", Context{ArtifactsCreated: []string{"docs/readme.md"}}, false},
		{"no artifacts at all", Context{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passed, _, err := EvaluateCheck(CheckMandatoryArtifacts, rule, tt.ctx)
			if err != nil {
				t.Fatalf("EvaluateCheck failed: %v", err)
			}
			if passed != tt.passed {
				t.Errorf("got passed=%v, want %v", passed, tt.passed)
			}
		})
	}
}

func TestCheckMemoryRefreshed(t *testing.T) {
	rule, _ := Lookup(model.OpTaskExecution)

	passed, _, _ := EvaluateCheck(CheckMemoryRefreshed, rule, Context{MemoryUpdated: true})
	if !passed {
		t.Error("MemoryUpdated flag should satisfy memory_refreshed")
	}

	passed, _, _ = EvaluateCheck(CheckMemoryRefreshed, rule, Context{
		ArtifactsModified: []string{"memory/context.md"},
	})
	if !passed {
		t.Error("memory/ artifact should satisfy memory_refreshed")
	}

	passed, _, _ = EvaluateCheck(CheckMemoryRefreshed, rule, Context{
		ArtifactsModified: []string{"tasks/t1.md"},
	})
	if passed {
		t.Error("session without memory update should fail memory_refreshed")
	}
}

func TestCheckErrorFreeClose(t *testing.T) {
	rule, _ := Lookup(model.OpTaskExecution)

	passed, _, _ := EvaluateCheck(CheckErrorFreeClose, rule, Context{Success: true})
	if !passed {
		t.Error("clean close should pass error_free_close")
	}

	passed, detail, _ := EvaluateCheck(CheckErrorFreeClose, rule, Context{ErrorMessage: "compile failed"})
	if passed {
		t.Error("close with error should fail error_free_close")
	}
	if detail == "" {
		t.Error("failing check should carry a detail message")
	}
}

func TestDetectScopeCreep(t *testing.T) {
	rule, _ := Lookup(model.OpPlanCreation)

	detected, _, _ := EvaluateForbidden(ForbiddenScopeCreep, rule, Context{
		ArtifactsCreated: []string{"plans/rollout.md"},
	})
	if detected {
		t.Error("in-scope artifact flagged as scope creep")
	}

	detected, _, _ = EvaluateForbidden(ForbiddenScopeCreep, rule, Context{
		ArtifactsCreated: []string{"plans/rollout.md", "src/main.go"},
	})
	if !detected {
		t.Error("out-of-scope artifact not detected")
	}

	// the memory side effect never counts as creep
	detected, _, _ = EvaluateForbidden(ForbiddenScopeCreep, rule, Context{
		ArtifactsCreated:  []string{"plans/rollout.md"},
		ArtifactsModified: []string{"memory/context.md"},
	})
	if detected {
		t.Error("memory update flagged as scope creep")
	}
}

func TestDetectTerminalTaskEdit(t *testing.T) {
	rule, _ := Lookup(model.OpTaskExecution)

	detected, _, _ := EvaluateForbidden(ForbiddenTerminalTaskEdit, rule, Context{
		TaskID:       "task-1",
		StatusBefore: model.StatusCompleted,
	})
	if !detected {
		t.Error("edit of completed task not detected")
	}

	detected, _, _ = EvaluateForbidden(ForbiddenTerminalTaskEdit, rule, Context{
		TaskID:       "task-1",
		StatusBefore: model.StatusInProgress,
	})
	if detected {
		t.Error("edit of in_progress task wrongly detected")
	}
}

func TestEvaluateCheck_UnknownKind(t *testing.T) {
	rule, _ := Lookup(model.OpSpecCreation)
	if _, _, err := EvaluateCheck(CheckKind("lint_passed"), rule, Context{}); err == nil {
		t.Error("expected error for unknown check kind")
	}
	if _, _, err := EvaluateForbidden(ForbiddenKind("rm_rf"), rule, Context{}); err == nil {
		t.Error("expected error for unknown forbidden kind")
	}
}
