// Package engine wires the registry, enforcer, compliance evaluator,
// event log, dependency graph and automation rules behind one facade
// consumed by the CLI.
package engine

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hollandt/warden/internal/automation"
	"github.com/hollandt/warden/internal/compliance"
	"github.com/hollandt/warden/internal/deps"
	"github.com/hollandt/warden/internal/events"
	"github.com/hollandt/warden/internal/lock"
	"github.com/hollandt/warden/internal/model"
	"github.com/hollandt/warden/internal/registry"
	"github.com/hollandt/warden/internal/rules"
	"github.com/hollandt/warden/internal/session"
	"github.com/hollandt/warden/internal/setup"
	wyaml "github.com/hollandt/warden/internal/yaml"
)

// ErrStateNotFound means the project has no .warden directory yet.
var ErrStateNotFound = errors.New("project not initialized (run warden setup)")

// Engine is the single-writer facade over all persisted warden state.
// Opening it takes the enforcer file lock; a second process fails fast.
type Engine struct {
	paths setup.Paths
	cfg   model.Config

	flock *lock.FileLock
	ops   *lock.MutexMap

	registry   *registry.Registry
	log        *events.Log
	audit      *events.AuditLogger
	graph      *deps.Graph
	history    *session.History
	evaluator  *compliance.Evaluator
	enforcer   *session.Enforcer
	automation *automation.Engine
}

// Open loads the project's config and takes the enforcer lock.
func Open(projectRoot string) (*Engine, error) {
	if !setup.Initialized(projectRoot) {
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, projectRoot)
	}

	cfg, err := setup.LoadConfig(projectRoot)
	if err != nil {
		return nil, err
	}

	paths := setup.Layout(projectRoot)
	e := &Engine{
		paths: paths,
		cfg:   cfg,
		ops:   lock.NewMutexMap(),
	}

	e.flock = lock.NewFileLock(paths.EnforcerLock)
	if err := e.flock.TryLock(); err != nil {
		return nil, err
	}

	if err := recoverState(paths); err != nil {
		e.flock.Unlock()
		return nil, err
	}

	e.registry = registry.New(paths.Registry, projectRoot)
	e.log = events.NewLog(paths.Events)
	e.graph = deps.NewGraph(paths.Dependencies, e.registry)
	e.history = session.NewHistory(paths.Operations)

	if cfg.Audit.Enabled {
		audit, err := events.NewAuditLogger(paths.AuditLog, cfg.Audit.MaxLogSizeBytes)
		if err != nil {
			e.flock.Unlock()
			return nil, err
		}
		audit.EnableChecksum(cfg.Audit.Checksum)
		e.audit = audit
	}

	ttl := time.Duration(cfg.Compliance.CacheTTLSec) * time.Second
	e.evaluator = compliance.NewEvaluator(paths.Compliance, cfg.Compliance.Threshold, ttl)

	e.automation = automation.NewEngine(e.registry, e.graph, e.log, e.sink, automation.Options{
		TimeoutAfter:       time.Duration(cfg.Automation.TimeoutHours) * time.Hour,
		CleanupAfter:       time.Duration(cfg.Automation.CleanupAgeDays) * 24 * time.Hour,
		AutoCleanupEnabled: cfg.Automation.AutoCleanupEnabled,
	})
	e.enforcer = session.NewEnforcer(e.registry, e.evaluator, e.history, e.sink, session.Sandbox(projectRoot))

	return e, nil
}

// recoverState validates every persisted state file under the lock.
// Files that no longer parse are quarantined and rebuilt, from their
// .bak when it still parses and from a skeleton otherwise, so the
// loaders never see corrupt documents.
func recoverState(paths setup.Paths) error {
	files := []struct {
		path     string
		fileType string
	}{
		{paths.Registry, wyaml.FileTypeStatusRegistry},
		{paths.Operations, wyaml.FileTypeOperationHistory},
		{paths.Compliance, wyaml.FileTypeComplianceLog},
		{paths.Events, wyaml.FileTypeEventLog},
		{paths.Dependencies, wyaml.FileTypeDependencyStore},
	}
	for _, f := range files {
		if _, err := os.Stat(f.path); os.IsNotExist(err) {
			continue
		}
		var doc map[string]any
		if err := wyaml.ReadDocument(f.path, f.fileType, &doc); err == nil {
			continue
		}
		log.Printf("engine: state file failed validation, recovering: %s", f.path)
		if err := wyaml.RecoverCorruptedFile(paths.Base, f.path, f.fileType); err != nil {
			return fmt.Errorf("recover %s: %w", f.path, err)
		}
	}
	return nil
}

// Close releases the file lock and the audit log handle.
func (e *Engine) Close() error {
	var firstErr error
	if e.audit != nil {
		firstErr = e.audit.Close()
	}
	if err := e.flock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (e *Engine) Config() model.Config {
	return e.cfg
}

// sink is the single event path: append to the log, mirror to audit,
// then let the automation rules react. Rule actions emit through this
// same sink, so cascades are logged and audited like primary events.
func (e *Engine) sink(evt model.LifecycleEvent) error {
	appended, err := e.log.Append(evt)
	if err != nil {
		return err
	}
	if e.audit != nil {
		if err := e.audit.MirrorEvent(appended); err != nil {
			log.Printf("engine: audit mirror failed: %v", err)
		}
	}
	e.automation.Dispatch(appended)
	return nil
}

// StartSession opens an enforced session of the given kind, optionally
// bound to a task.
func (e *Engine) StartSession(kind model.OperationKind, taskID string) (*session.Session, error) {
	return e.enforcer.Start(kind, taskID)
}

// TrackArtifact records one artifact touch on the open session.
func (e *Engine) TrackArtifact(sess *session.Session, path string, created bool) error {
	return e.enforcer.TrackArtifact(sess, path, created)
}

// EndSession closes the session. With strict_close configured, a score
// below the threshold returns ErrComplianceViolation after recording.
func (e *Engine) EndSession(sess *session.Session, success bool, errMsg string) (*compliance.Result, error) {
	e.ops.Lock("state")
	defer e.ops.Unlock("state")

	var result *compliance.Result
	var err error
	if e.cfg.Compliance.StrictClose {
		result, err = e.enforcer.EndStrict(sess, success, errMsg)
	} else {
		result, err = e.enforcer.End(sess, success, errMsg)
	}
	if result == nil {
		return nil, err
	}

	e.mirrorViolations(result.Violations)

	total, terr := e.history.Total()
	if terr == nil {
		terr = e.evaluator.RecordOutcome(total)
	}
	if terr != nil {
		log.Printf("engine: running score update failed: %v", terr)
	}
	return result, err
}

// EvaluateCompliance scores an arbitrary session context without
// closing a session. Violations are recorded as usual.
func (e *Engine) EvaluateCompliance(ctx rules.Context) (*compliance.Result, error) {
	result, err := e.evaluator.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	if !result.CacheHit {
		e.mirrorViolations(result.Violations)
	}
	return result, nil
}

// RegisterTask records a task as not_started and appends its created
// event, which may auto-start it when its dependencies are satisfied.
func (e *Engine) RegisterTask(taskID, justification string) error {
	e.ops.Lock("state")
	defer e.ops.Unlock("state")

	if err := e.registry.Register(taskID, justification, "manual"); err != nil {
		return err
	}
	return e.sink(model.LifecycleEvent{
		TaskID:      taskID,
		Event:       model.EventCreated,
		Trigger:     model.TriggerManual,
		Description: justification,
	})
}

// UpdateStatus transitions a task and appends the matching lifecycle
// event with trigger manual.
func (e *Engine) UpdateStatus(taskID string, newStatus model.Status, justification string) error {
	e.ops.Lock("state")
	defer e.ops.Unlock("state")

	before, err := e.registry.StatusOf(taskID)
	if err != nil {
		return err
	}
	if err := e.registry.Update(taskID, newStatus, justification, "manual"); err != nil {
		return err
	}
	return e.sink(model.LifecycleEvent{
		TaskID:      taskID,
		Event:       eventForStatus(before, newStatus),
		Trigger:     model.TriggerManual,
		Description: justification,
	})
}

// RecordEvent appends an externally supplied lifecycle event.
func (e *Engine) RecordEvent(evt model.LifecycleEvent) error {
	e.ops.Lock("state")
	defer e.ops.Unlock("state")
	return e.sink(evt)
}

// AddDependency appends an edge to the dependency graph. Targets are
// not validated; LintDependencies reports dangling edges and cycles.
func (e *Engine) AddDependency(taskID, dependsOn string, kind model.DependencyKind, description string) error {
	e.ops.Lock("state")
	defer e.ops.Unlock("state")
	return e.graph.Add(taskID, dependsOn, kind, description)
}

func (e *Engine) LintDependencies() ([]string, error) {
	return e.graph.Lint()
}

// GetStatus returns the registry record for a task.
func (e *Engine) GetStatus(taskID string) (model.TaskRecord, error) {
	return e.registry.Get(taskID)
}

// GetComplianceScore returns the running project score, recomputed from
// the current totals.
func (e *Engine) GetComplianceScore() (float64, error) {
	total, err := e.history.Total()
	if err != nil {
		return 0, err
	}
	logDoc, err := e.evaluator.Snapshot()
	if err != nil {
		return 0, err
	}
	return compliance.RunningScore(total, logDoc.TotalViolations), nil
}

// ListActiveSessions returns the open session, if any.
func (e *Engine) ListActiveSessions() []*session.Session {
	return e.enforcer.ListActive()
}

// TaskLifecycle is the per-task view assembled by GetLifecycleStatus.
type TaskLifecycle struct {
	TaskID                string
	Record                model.TaskRecord
	Events                []model.LifecycleEvent
	Dependencies          []model.Dependency
	DependenciesSatisfied bool
	Blocks                []string
	TimeToStart           time.Duration
	HasTimeToStart        bool
}

// GetLifecycleStatus assembles a task's registry record, event history,
// dependency state and the set of tasks it transitively blocks.
func (e *Engine) GetLifecycleStatus(taskID string) (*TaskLifecycle, error) {
	rec, err := e.registry.Get(taskID)
	if err != nil {
		return nil, err
	}
	evts, err := e.log.Query(taskID)
	if err != nil {
		return nil, err
	}
	edges, err := e.graph.Edges(taskID)
	if err != nil {
		return nil, err
	}
	satisfied, err := e.graph.Satisfied(taskID)
	if err != nil {
		return nil, err
	}
	blocks, err := e.graph.TransitiveDependents(taskID)
	if err != nil {
		return nil, err
	}
	gap, ok, err := e.log.TimeToStart(taskID)
	if err != nil {
		return nil, err
	}

	return &TaskLifecycle{
		TaskID:                taskID,
		Record:                rec,
		Events:                evts,
		Dependencies:          edges,
		DependenciesSatisfied: satisfied,
		Blocks:                blocks,
		TimeToStart:           gap,
		HasTimeToStart:        ok,
	}, nil
}

// Summary is the project-wide view assembled by GetLifecycleSummary.
type Summary struct {
	Project         string
	GlobalStatus    model.GlobalStatus
	TotalEvents     int
	TotalOperations int
	TotalViolations int
	ComplianceScore float64
	ActiveSessions  []string
	StaleTasks      []string
}

// GetLifecycleSummary aggregates counters across every state file.
func (e *Engine) GetLifecycleSummary() (*Summary, error) {
	reg, err := e.registry.Snapshot()
	if err != nil {
		return nil, err
	}
	totalEvents, err := e.log.Total()
	if err != nil {
		return nil, err
	}
	totalOps, err := e.history.Total()
	if err != nil {
		return nil, err
	}
	compDoc, err := e.evaluator.Snapshot()
	if err != nil {
		return nil, err
	}
	stale, err := e.automation.StaleInProgress()
	if err != nil {
		return nil, err
	}

	var active []string
	for _, sess := range e.enforcer.ListActive() {
		active = append(active, sess.ID)
	}

	return &Summary{
		Project:         e.cfg.Project.Name,
		GlobalStatus:    reg.GlobalStatus,
		TotalEvents:     totalEvents,
		TotalOperations: totalOps,
		TotalViolations: compDoc.TotalViolations,
		ComplianceScore: compliance.RunningScore(totalOps, compDoc.TotalViolations),
		ActiveSessions:  active,
		StaleTasks:      stale,
	}, nil
}

// Reconcile re-checks every in_progress task against the timeout
// threshold. Watch mode calls this on state-file changes.
func (e *Engine) Reconcile() error {
	e.ops.Lock("state")
	defer e.ops.Unlock("state")
	return e.automation.Reconcile()
}

// VerifyAuditLog re-reads the audit mirror and checks entry checksums.
func (e *Engine) VerifyAuditLog() (total, valid int, err error) {
	return events.VerifyLogIntegrity(e.paths.AuditLog)
}

func (e *Engine) mirrorViolations(violations []model.Violation) {
	if e.audit == nil {
		return
	}
	for _, v := range violations {
		if err := e.audit.MirrorViolation(v); err != nil {
			log.Printf("engine: audit mirror failed: %v", err)
		}
	}
}

// eventForStatus maps a manual status change to its lifecycle event.
// Leaving not_started is a start; re-entering in_progress later is
// progress.
func eventForStatus(before, after model.Status) model.EventType {
	switch after {
	case model.StatusInProgress:
		if before == model.StatusNotStarted {
			return model.EventStarted
		}
		return model.EventInProgress
	case model.StatusWaitingForInput:
		return model.EventPaused
	case model.StatusBlocked:
		return model.EventBlocked
	case model.StatusCompleted:
		return model.EventCompleted
	case model.StatusFailed:
		return model.EventFailed
	case model.StatusCancelled:
		return model.EventCancelled
	default:
		return model.EventInProgress
	}
}
