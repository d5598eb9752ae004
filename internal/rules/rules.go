// Package rules holds the static per-operation-kind rule table and the
// closed set of named compliance predicates evaluated against a session.
package rules

import (
	"errors"
	"fmt"

	"github.com/hollandt/warden/internal/model"
)

// ErrUnknownOperationKind is returned when no rule exists for a kind.
var ErrUnknownOperationKind = errors.New("unknown operation kind")

// CheckKind names a validation check. The set is closed: each kind maps
// to a predicate at compile time, never to dynamic code.
type CheckKind string

const (
	CheckArtifactsTracked   CheckKind = "artifacts_tracked"
	CheckMandatoryArtifacts CheckKind = "mandatory_artifacts"
	CheckMemoryRefreshed    CheckKind = "memory_refreshed"
	CheckErrorFreeClose     CheckKind = "error_free_close"
)

// ForbiddenKind names a forbidden action detector.
type ForbiddenKind string

const (
	ForbiddenScopeCreep       ForbiddenKind = "scope_creep"
	ForbiddenTerminalTaskEdit ForbiddenKind = "terminal_task_edit"
)

// OperationRule governs one operation kind. Immutable for the process
// lifetime.
type OperationRule struct {
	Kind model.OperationKind

	// RequiredStatusBefore constrains the bound task's status at session
	// start. Empty means unrestricted.
	RequiredStatusBefore map[model.Status]bool

	// StatusAfterSuccess / StatusAfterFailure are applied to the bound
	// task when the session closes. Empty means no transition.
	StatusAfterSuccess model.Status
	StatusAfterFailure model.Status

	MandatoryArtifactPatterns []string
	ForbiddenActions          []ForbiddenKind
	ValidationChecks          []CheckKind
}

// CheckCount is the denominator of the per-session compliance score.
func (r OperationRule) CheckCount() int {
	return len(r.ValidationChecks) + len(r.ForbiddenActions)
}

func (r OperationRule) AllowsPriorStatus(s model.Status) bool {
	if len(r.RequiredStatusBefore) == 0 {
		return true
	}
	return r.RequiredStatusBefore[s]
}

var table = map[model.OperationKind]OperationRule{
	model.OpSpecCreation: {
		Kind:                      model.OpSpecCreation,
		MandatoryArtifactPatterns: []string{"specs/"},
		ValidationChecks:          []CheckKind{CheckArtifactsTracked, CheckMandatoryArtifacts},
		ForbiddenActions:          []ForbiddenKind{ForbiddenScopeCreep},
	},
	model.OpPlanCreation: {
		Kind: model.OpPlanCreation,
		RequiredStatusBefore: map[model.Status]bool{
			model.StatusNotStarted: true,
		},
		StatusAfterSuccess:        model.StatusInProgress,
		MandatoryArtifactPatterns: []string{"plans/"},
		ValidationChecks:          []CheckKind{CheckArtifactsTracked, CheckMandatoryArtifacts},
		ForbiddenActions:          []ForbiddenKind{ForbiddenScopeCreep},
	},
	model.OpTaskExecution: {
		Kind: model.OpTaskExecution,
		RequiredStatusBefore: map[model.Status]bool{
			model.StatusNotStarted: true,
			model.StatusInProgress: true,
			model.StatusBlocked:    true,
			model.StatusFailed:     true,
		},
		StatusAfterSuccess:        model.StatusCompleted,
		StatusAfterFailure:        model.StatusFailed,
		MandatoryArtifactPatterns: []string{"tasks/"},
		ValidationChecks: []CheckKind{
			CheckArtifactsTracked, CheckMandatoryArtifacts,
			CheckMemoryRefreshed, CheckErrorFreeClose,
		},
		ForbiddenActions: []ForbiddenKind{ForbiddenScopeCreep, ForbiddenTerminalTaskEdit},
	},
	model.OpMemoryUpdate: {
		Kind:                      model.OpMemoryUpdate,
		MandatoryArtifactPatterns: []string{"memory/"},
		ValidationChecks:          []CheckKind{CheckArtifactsTracked, CheckMandatoryArtifacts},
	},
	// status_report has no checks: score is 1.0 by the checks==0 rule.
	model.OpStatusReport: {
		Kind: model.OpStatusReport,
	},
}

// Lookup returns the rule for kind.
func Lookup(kind model.OperationKind) (OperationRule, error) {
	rule, ok := table[kind]
	if !ok {
		return OperationRule{}, fmt.Errorf("%w: %q", ErrUnknownOperationKind, kind)
	}
	return rule, nil
}

// Kinds returns every kind with a rule, for CLI help output.
func Kinds() []model.OperationKind {
	kinds := make([]model.OperationKind, 0, len(table))
	for k := range table {
		kinds = append(kinds, k)
	}
	return kinds
}
