// Package session implements the enforced operation session: explicit
// handles, artifact tracking inside the project sandbox, and rule-driven
// close-out.
package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hollandt/warden/internal/compliance"
	"github.com/hollandt/warden/internal/model"
	"github.com/hollandt/warden/internal/rules"
)

var (
	// ErrInvalidPriorStatus rejects a session start when the bound task is
	// not in a rule-eligible status.
	ErrInvalidPriorStatus = errors.New("task status not eligible for operation")

	// ErrPathOutsideSandbox rejects an artifact path that resolves outside
	// the managed project root.
	ErrPathOutsideSandbox = errors.New("artifact path outside sandbox")

	// ErrSessionAlreadyActive rejects a second start before the active
	// session is closed or abandoned.
	ErrSessionAlreadyActive = errors.New("session already active")

	// ErrSessionClosed rejects mutation of a closed session.
	ErrSessionClosed = errors.New("session already closed")

	// ErrComplianceViolation is returned by strict close when the session
	// score falls below the compliance threshold. The close is still
	// recorded.
	ErrComplianceViolation = errors.New("compliance violation")
)

// memoryArtifact is the mandatory memory/context update recorded as a
// modified artifact on every successful close.
const memoryArtifact = "memory/context.md"

// StatusStore is the registry surface the enforcer needs.
type StatusStore interface {
	StatusOf(taskID string) (model.Status, error)
	Update(taskID string, newStatus model.Status, justification, updatedBy string) error
}

// Scorer evaluates a closed session context.
type Scorer interface {
	Evaluate(ctx rules.Context) (*compliance.Result, error)
}

// EventSink receives the completed/failed lifecycle event for the bound
// task. The engine routes it through the event log, the audit mirror and
// the automation rules.
type EventSink func(evt model.LifecycleEvent) error

// Session is one open unit of enforced work. It is owned exclusively by
// its enforcer and becomes immutable once closed.
type Session struct {
	ID           string
	Kind         model.OperationKind
	TaskID       string
	StatusBefore model.Status
	StartTime    string

	artifactsCreated  []string
	artifactsModified []string
	sandboxBreaches   []string
	memoryUpdated     bool
	closed            bool
}

// ArtifactsCreated returns a copy of the tracked created-artifact list.
func (s *Session) ArtifactsCreated() []string {
	return append([]string(nil), s.artifactsCreated...)
}

// ArtifactsModified returns a copy of the tracked modified-artifact list.
func (s *Session) ArtifactsModified() []string {
	return append([]string(nil), s.artifactsModified...)
}

// SandboxBreaches returns the paths rejected by the sandbox predicate.
// Any breach poisons the session: it can only close as failed.
func (s *Session) SandboxBreaches() []string {
	return append([]string(nil), s.sandboxBreaches...)
}

func (s *Session) Closed() bool {
	return s.closed
}

// Enforcer opens and closes sessions. At most one session is open per
// enforcer instance; a second Start fails with ErrSessionAlreadyActive.
type Enforcer struct {
	mu        sync.Mutex
	statuses  StatusStore
	scorer    Scorer
	emit      EventSink
	history   *History
	inSandbox func(path string) bool
	active    *Session
}

// NewEnforcer wires an enforcer. emit may be nil when no task events are
// wanted (tests); inSandbox must not be nil.
func NewEnforcer(statuses StatusStore, scorer Scorer, history *History, emit EventSink, inSandbox func(string) bool) *Enforcer {
	return &Enforcer{
		statuses:  statuses,
		scorer:    scorer,
		emit:      emit,
		history:   history,
		inSandbox: inSandbox,
	}
}

// Sandbox returns a predicate accepting only paths that resolve inside
// root. Relative paths are resolved against root.
func Sandbox(root string) func(string) bool {
	root = filepath.Clean(root)
	return func(path string) bool {
		if path == "" {
			return false
		}
		abs := path
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(root, abs)
		}
		abs = filepath.Clean(abs)
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return false
		}
		return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
	}
}

// Start opens a session of the given kind, optionally bound to a task.
// The task's current status must satisfy the rule's prior-status set.
func (e *Enforcer) Start(kind model.OperationKind, taskID string) (*Session, error) {
	rule, err := rules.Lookup(kind)
	if err != nil {
		return nil, err
	}

	statusBefore := model.Status("")
	if taskID != "" {
		statusBefore, err = e.statuses.StatusOf(taskID)
		if err != nil {
			return nil, err
		}
		if !rule.AllowsPriorStatus(statusBefore) {
			return nil, fmt.Errorf("%w: task %s is %q, %s requires one of %v",
				ErrInvalidPriorStatus, taskID, statusBefore, kind, priorStatusList(rule))
		}
	} else if len(rule.RequiredStatusBefore) > 0 {
		return nil, fmt.Errorf("%w: operation kind %s requires a bound task", ErrInvalidPriorStatus, kind)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionAlreadyActive, e.active.ID)
	}

	id, err := model.GenerateID(model.IDTypeOperation)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:           id,
		Kind:         kind,
		TaskID:       taskID,
		StatusBefore: statusBefore,
		StartTime:    time.Now().UTC().Format(time.RFC3339),
	}
	e.active = sess
	return sess, nil
}

// TrackArtifact records one artifact touch. Paths outside the sandbox
// are rejected with ErrPathOutsideSandbox and poison the session: the
// breach is remembered, the close is forced to failed and each rejected
// path is scored as a violation. Duplicate paths are recorded once per
// list.
func (e *Enforcer) TrackArtifact(sess *Session, path string, created bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkOwned(sess); err != nil {
		return err
	}
	if !e.inSandbox(path) {
		sess.sandboxBreaches = appendUnique(sess.sandboxBreaches, path)
		return fmt.Errorf("%w: %s", ErrPathOutsideSandbox, path)
	}

	if created {
		sess.artifactsCreated = appendUnique(sess.artifactsCreated, path)
	} else {
		sess.artifactsModified = appendUnique(sess.artifactsModified, path)
	}
	return nil
}

// End closes the session: on success it records the mandatory memory
// update, scores the session, transitions the bound task per the rule,
// emits the completed/failed lifecycle event and persists the operation.
// A non-compliant score is recorded, not raised.
func (e *Enforcer) End(sess *Session, success bool, errMsg string) (*compliance.Result, error) {
	return e.end(sess, success, errMsg, false)
}

// EndStrict behaves like End but returns ErrComplianceViolation when the
// recorded score is below the compliance threshold.
func (e *Enforcer) EndStrict(sess *Session, success bool, errMsg string) (*compliance.Result, error) {
	return e.end(sess, success, errMsg, true)
}

func (e *Enforcer) end(sess *Session, success bool, errMsg string, strict bool) (*compliance.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkOwned(sess); err != nil {
		return nil, err
	}

	rule, err := rules.Lookup(sess.Kind)
	if err != nil {
		return nil, err
	}

	// A sandbox breach is fatal to the session: it closes as failed no
	// matter what the caller reports.
	if len(sess.sandboxBreaches) > 0 {
		success = false
		if errMsg == "" {
			errMsg = fmt.Sprintf("artifact path outside sandbox: %s", sess.sandboxBreaches[0])
		}
	}

	if success {
		if !e.inSandbox(memoryArtifact) {
			return nil, fmt.Errorf("%w: %s", ErrPathOutsideSandbox, memoryArtifact)
		}
		sess.artifactsModified = appendUnique(sess.artifactsModified, memoryArtifact)
		sess.memoryUpdated = true
	}

	result, err := e.scorer.Evaluate(rules.Context{
		SessionID:         sess.ID,
		Kind:              sess.Kind,
		TaskID:            sess.TaskID,
		StatusBefore:      sess.StatusBefore,
		ArtifactsCreated:  sess.artifactsCreated,
		ArtifactsModified: sess.artifactsModified,
		Success:           success,
		ErrorMessage:      errMsg,
		MemoryUpdated:     sess.memoryUpdated,
		SandboxBreaches:   sess.sandboxBreaches,
	})
	if err != nil {
		return nil, err
	}

	statusAfter, err := e.applyOutcome(sess, rule, success)
	if err != nil {
		return nil, err
	}

	endTime := time.Now().UTC().Format(time.RFC3339)
	op := model.Operation{
		ID:                sess.ID,
		Kind:              sess.Kind,
		TaskID:            sess.TaskID,
		StatusBefore:      sess.StatusBefore,
		StatusAfter:       statusAfter,
		StartTime:         sess.StartTime,
		EndTime:           &endTime,
		ArtifactsCreated:  sess.artifactsCreated,
		ArtifactsModified: sess.artifactsModified,
		Passed:            success,
		ComplianceScore:   result.Score,
	}
	if errMsg != "" {
		op.Error = &errMsg
	}
	if err := e.history.Append(op); err != nil {
		return nil, err
	}

	if sess.TaskID != "" && e.emit != nil {
		eventType := model.EventCompleted
		if !success {
			eventType = model.EventFailed
		}
		evt := model.LifecycleEvent{
			TaskID:      sess.TaskID,
			Event:       eventType,
			Trigger:     model.TriggerLLMOperation,
			Description: fmt.Sprintf("%s session %s closed", sess.Kind, sess.ID),
			SessionID:   sess.ID,
			Context: map[string]string{
				"kind":  string(sess.Kind),
				"score": fmt.Sprintf("%.2f", result.Score),
			},
		}
		if err := e.emit(evt); err != nil {
			return nil, err
		}
	}

	sess.closed = true
	e.active = nil

	if strict && !result.Compliant {
		return result, fmt.Errorf("%w: session %s scored %.2f", ErrComplianceViolation, sess.ID, result.Score)
	}
	return result, nil
}

// applyOutcome transitions the bound task per the rule's outcome status.
// Statuses with no direct edge to the outcome are routed through
// in_progress when both hops are legal (not_started or blocked closing
// straight to completed, for example).
func (e *Enforcer) applyOutcome(sess *Session, rule rules.OperationRule, success bool) (*model.Status, error) {
	target := rule.StatusAfterFailure
	if success {
		target = rule.StatusAfterSuccess
	}
	if sess.TaskID == "" || target == "" || target == sess.StatusBefore {
		return nil, nil
	}

	justification := fmt.Sprintf("session %s closed (%s)", sess.ID, sess.Kind)

	if model.ValidateTransition(sess.StatusBefore, target) != nil {
		if model.ValidateTransition(sess.StatusBefore, model.StatusInProgress) != nil ||
			model.ValidateTransition(model.StatusInProgress, target) != nil {
			return nil, fmt.Errorf("task %s: no path from %q to %q", sess.TaskID, sess.StatusBefore, target)
		}
		if err := e.statuses.Update(sess.TaskID, model.StatusInProgress, justification, "warden"); err != nil {
			return nil, err
		}
	}

	if err := e.statuses.Update(sess.TaskID, target, justification, "warden"); err != nil {
		return nil, err
	}
	return &target, nil
}

// ListActive returns the open session, if any.
func (e *Enforcer) ListActive() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return nil
	}
	return []*Session{e.active}
}

func (e *Enforcer) checkOwned(sess *Session) error {
	if sess == nil {
		return fmt.Errorf("nil session")
	}
	if sess.closed {
		return fmt.Errorf("%w: %s", ErrSessionClosed, sess.ID)
	}
	if e.active != sess {
		return fmt.Errorf("session %s is not the active session", sess.ID)
	}
	return nil
}

func appendUnique(list []string, path string) []string {
	for _, p := range list {
		if p == path {
			return list
		}
	}
	return append(list, path)
}

func priorStatusList(rule rules.OperationRule) []model.Status {
	out := make([]model.Status, 0, len(rule.RequiredStatusBefore))
	for s, ok := range rule.RequiredStatusBefore {
		if ok {
			out = append(out, s)
		}
	}
	return out
}
