package rules

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hollandt/warden/internal/model"
)

// Context is the immutable session view the named predicates run against.
// The enforcer builds one when a session closes.
type Context struct {
	SessionID         string
	Kind              model.OperationKind
	TaskID            string
	StatusBefore      model.Status
	ArtifactsCreated  []string
	ArtifactsModified []string
	Success           bool
	ErrorMessage      string
	MemoryUpdated     bool
	SandboxBreaches   []string
}

func (c Context) allArtifacts() []string {
	out := make([]string, 0, len(c.ArtifactsCreated)+len(c.ArtifactsModified))
	out = append(out, c.ArtifactsCreated...)
	out = append(out, c.ArtifactsModified...)
	return out
}

// CheckFunc evaluates one named validation check. A false return means
// the check failed; detail explains why.
type CheckFunc func(rule OperationRule, ctx Context) (passed bool, detail string)

// ForbiddenFunc detects one forbidden action. A true return means the
// action was detected.
type ForbiddenFunc func(rule OperationRule, ctx Context) (detected bool, detail string)

var checkFuncs = map[CheckKind]CheckFunc{
	CheckArtifactsTracked:   checkArtifactsTracked,
	CheckMandatoryArtifacts: checkMandatoryArtifacts,
	CheckMemoryRefreshed:    checkMemoryRefreshed,
	CheckErrorFreeClose:     checkErrorFreeClose,
}

var forbiddenFuncs = map[ForbiddenKind]ForbiddenFunc{
	ForbiddenScopeCreep:       detectScopeCreep,
	ForbiddenTerminalTaskEdit: detectTerminalTaskEdit,
}

// EvaluateCheck dispatches a named check. Unknown kinds are an error;
// the evaluator counts them as failed checks.
func EvaluateCheck(kind CheckKind, rule OperationRule, ctx Context) (bool, string, error) {
	fn, ok := checkFuncs[kind]
	if !ok {
		return false, "", fmt.Errorf("unknown validation check: %q", kind)
	}
	passed, detail := fn(rule, ctx)
	return passed, detail, nil
}

// EvaluateForbidden dispatches a named forbidden-action detector.
func EvaluateForbidden(kind ForbiddenKind, rule OperationRule, ctx Context) (bool, string, error) {
	fn, ok := forbiddenFuncs[kind]
	if !ok {
		return false, "", fmt.Errorf("unknown forbidden action: %q", kind)
	}
	detected, detail := fn(rule, ctx)
	return detected, detail, nil
}

func checkArtifactsTracked(_ OperationRule, ctx Context) (bool, string) {
	if len(ctx.allArtifacts()) == 0 {
		return false, "session closed without tracking any artifact"
	}
	return true, ""
}

func checkMandatoryArtifacts(rule OperationRule, ctx Context) (bool, string) {
	artifacts := ctx.allArtifacts()
	for _, pattern := range rule.MandatoryArtifactPatterns {
		if !anyMatches(artifacts, pattern) {
			return false, fmt.Sprintf("no artifact matches mandatory pattern %q", pattern)
		}
	}
	return true, ""
}

func checkMemoryRefreshed(_ OperationRule, ctx Context) (bool, string) {
	if ctx.MemoryUpdated || anyMatches(ctx.ArtifactsModified, "memory/") {
		return true, ""
	}
	return false, "no memory/context update recorded for the session"
}

func checkErrorFreeClose(_ OperationRule, ctx Context) (bool, string) {
	if ctx.ErrorMessage != "" {
		return false, fmt.Sprintf("session closed with error: %s", ctx.ErrorMessage)
	}
	return true, ""
}

// detectScopeCreep flags artifacts outside every mandatory pattern. The
// memory/ side effect is always in scope.
func detectScopeCreep(rule OperationRule, ctx Context) (bool, string) {
	if len(rule.MandatoryArtifactPatterns) == 0 {
		return false, ""
	}
	for _, artifact := range ctx.allArtifacts() {
		if matches(artifact, "memory/") {
			continue
		}
		inScope := false
		for _, pattern := range rule.MandatoryArtifactPatterns {
			if matches(artifact, pattern) {
				inScope = true
				break
			}
		}
		if !inScope {
			return true, fmt.Sprintf("artifact %q outside operation scope", artifact)
		}
	}
	return false, ""
}

func detectTerminalTaskEdit(_ OperationRule, ctx Context) (bool, string) {
	if ctx.TaskID != "" && model.IsTerminal(ctx.StatusBefore) {
		return true, fmt.Sprintf("operation touched task %s in terminal status %q", ctx.TaskID, ctx.StatusBefore)
	}
	return false, ""
}

func anyMatches(artifacts []string, pattern string) bool {
	for _, a := range artifacts {
		if matches(a, pattern) {
			return true
		}
	}
	return false
}

func matches(artifact, pattern string) bool {
	return strings.Contains(filepath.ToSlash(artifact), pattern)
}
