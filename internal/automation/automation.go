// Package automation reacts to appended lifecycle events with a fixed,
// ordered rule list: auto-start on satisfied dependencies, cascading
// blocks, stale-task timeouts and optional history archival.
package automation

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hollandt/warden/internal/model"
)

// StatusStore is the registry surface the rules need.
type StatusStore interface {
	StatusOf(taskID string) (model.Status, error)
	Update(taskID string, newStatus model.Status, justification, updatedBy string) error
	Snapshot() (*model.StatusRegistry, error)
}

// DependencyView answers dependency questions for rule conditions.
type DependencyView interface {
	Satisfied(taskID string) (bool, error)
	Dependents(taskID string) ([]string, error)
}

// EventStore reads back the event log for time-based conditions.
type EventStore interface {
	LatestByType(taskID string, eventType model.EventType) (*model.LifecycleEvent, error)
}

// EventSink appends an event produced by a rule action. The engine's
// sink routes it back through the log, the audit mirror and Dispatch.
type EventSink func(evt model.LifecycleEvent) error

// Rule reacts to one event type. Condition and Action receive the
// triggering event; a Condition returning false skips the Action.
type Rule struct {
	ID           string
	TriggerEvent model.EventType
	Enabled      bool
	Condition    func(evt model.LifecycleEvent) (bool, error)
	Action       func(evt model.LifecycleEvent) error
}

// Engine evaluates rules in registration order on every dispatched
// event. A failing rule is logged and never blocks the rules after it.
type Engine struct {
	mu     sync.Mutex
	rules  []Rule
	status StatusStore
	deps   DependencyView
	events EventStore
	emit   EventSink

	timeoutAfter time.Duration
	cleanupAfter time.Duration
}

// Options tune the built-in rules.
type Options struct {
	TimeoutAfter       time.Duration // stale in_progress threshold
	CleanupAfter       time.Duration // archival age for completed tasks
	AutoCleanupEnabled bool
}

// DefaultOptions mirror the config defaults: 24h timeout, 30d archival,
// cleanup off.
func DefaultOptions() Options {
	return Options{
		TimeoutAfter: 24 * time.Hour,
		CleanupAfter: 30 * 24 * time.Hour,
	}
}

// NewEngine builds an engine with the four built-in rules registered in
// their documented order.
func NewEngine(status StatusStore, deps DependencyView, events EventStore, emit EventSink, opts Options) *Engine {
	if opts.TimeoutAfter <= 0 {
		opts.TimeoutAfter = DefaultOptions().TimeoutAfter
	}
	if opts.CleanupAfter <= 0 {
		opts.CleanupAfter = DefaultOptions().CleanupAfter
	}

	e := &Engine{
		status:       status,
		deps:         deps,
		events:       events,
		emit:         emit,
		timeoutAfter: opts.TimeoutAfter,
		cleanupAfter: opts.CleanupAfter,
	}

	e.Register(Rule{
		ID:           "auto_start",
		TriggerEvent: model.EventCreated,
		Enabled:      true,
		Condition:    e.dependenciesSatisfied,
		Action:       e.startTask,
	})
	e.Register(Rule{
		ID:           "auto_block",
		TriggerEvent: model.EventFailed,
		Enabled:      true,
		Condition:    e.hasDependents,
		Action:       e.blockDependents,
	})
	e.Register(Rule{
		ID:           "auto_timeout",
		TriggerEvent: model.EventInProgress,
		Enabled:      true,
		Condition:    e.inProgressStale,
		Action:       e.timeoutTask,
	})
	e.Register(Rule{
		ID:           "auto_cleanup",
		TriggerEvent: model.EventCompleted,
		Enabled:      opts.AutoCleanupEnabled,
		Condition:    e.completedStale,
		Action:       e.archiveTask,
	})

	return e
}

// Register appends a rule. Evaluation order is registration order.
func (e *Engine) Register(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
}

// Dispatch runs every enabled rule matching the event's type. Rule
// failures are isolated: each is logged and the next rule still runs.
func (e *Engine) Dispatch(evt model.LifecycleEvent) {
	e.mu.Lock()
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.Unlock()

	for _, rule := range rules {
		if !rule.Enabled || rule.TriggerEvent != evt.Event {
			continue
		}
		ok, err := rule.Condition(evt)
		if err != nil {
			log.Printf("automation: rule %s condition failed for task %s: %v", rule.ID, evt.TaskID, err)
			continue
		}
		if !ok {
			continue
		}
		if err := rule.Action(evt); err != nil {
			log.Printf("automation: rule %s action failed for task %s: %v", rule.ID, evt.TaskID, err)
		}
	}
}

// Reconcile re-runs the timeout check against every in_progress task in
// the registry. Watch mode calls this on state changes; the CLI exposes
// it on demand.
func (e *Engine) Reconcile() error {
	doc, err := e.status.Snapshot()
	if err != nil {
		return err
	}
	for taskID, rec := range doc.Tasks {
		if rec.Status != model.StatusInProgress {
			continue
		}
		evt := model.LifecycleEvent{TaskID: taskID, Event: model.EventInProgress}
		stale, err := e.inProgressStale(evt)
		if err != nil {
			log.Printf("automation: reconcile skipped task %s: %v", taskID, err)
			continue
		}
		if !stale {
			continue
		}
		if err := e.timeoutTask(evt); err != nil {
			log.Printf("automation: reconcile timeout failed for task %s: %v", taskID, err)
		}
	}
	return nil
}

// StaleInProgress reports the in_progress tasks whose latest in_progress
// event is older than the timeout threshold, without acting on them.
func (e *Engine) StaleInProgress() ([]string, error) {
	doc, err := e.status.Snapshot()
	if err != nil {
		return nil, err
	}
	var stale []string
	for taskID, rec := range doc.Tasks {
		if rec.Status != model.StatusInProgress {
			continue
		}
		ok, err := e.inProgressStale(model.LifecycleEvent{TaskID: taskID})
		if err != nil {
			return nil, err
		}
		if ok {
			stale = append(stale, taskID)
		}
	}
	return stale, nil
}

func (e *Engine) dependenciesSatisfied(evt model.LifecycleEvent) (bool, error) {
	return e.deps.Satisfied(evt.TaskID)
}

func (e *Engine) startTask(evt model.LifecycleEvent) error {
	if err := e.status.Update(evt.TaskID, model.StatusInProgress, "dependencies satisfied", "automation"); err != nil {
		return err
	}
	return e.emit(model.LifecycleEvent{
		TaskID:      evt.TaskID,
		Event:       model.EventStarted,
		Trigger:     model.TriggerAutomatic,
		Description: "auto-started: all dependencies satisfied",
	})
}

func (e *Engine) hasDependents(evt model.LifecycleEvent) (bool, error) {
	dependents, err := e.deps.Dependents(evt.TaskID)
	if err != nil {
		return false, err
	}
	return len(dependents) > 0, nil
}

// blockDependents transitions every not_started or in_progress dependent
// of the failed task to blocked. Dependents in other statuses are left
// alone.
func (e *Engine) blockDependents(evt model.LifecycleEvent) error {
	dependents, err := e.deps.Dependents(evt.TaskID)
	if err != nil {
		return err
	}

	var firstErr error
	for _, dep := range dependents {
		status, err := e.status.StatusOf(dep)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if status != model.StatusNotStarted && status != model.StatusInProgress {
			continue
		}

		// not_started has no direct edge to blocked; step through
		// in_progress first.
		if status == model.StatusNotStarted {
			if err := e.status.Update(dep, model.StatusInProgress, fmt.Sprintf("dependency %s failed", evt.TaskID), "automation"); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		}
		if err := e.status.Update(dep, model.StatusBlocked, fmt.Sprintf("dependency %s failed", evt.TaskID), "automation"); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := e.emit(model.LifecycleEvent{
			TaskID:      dep,
			Event:       model.EventBlocked,
			Trigger:     model.TriggerDependency,
			Description: fmt.Sprintf("blocked: dependency %s failed", evt.TaskID),
			Context:     map[string]string{"failed_dependency": evt.TaskID},
		}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// inProgressStale is true when the task's most recent in_progress event
// is older than the timeout threshold. Tasks with no in_progress event
// are never stale.
func (e *Engine) inProgressStale(evt model.LifecycleEvent) (bool, error) {
	latest, err := e.events.LatestByType(evt.TaskID, model.EventInProgress)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return false, nil
	}
	ts, err := time.Parse(time.RFC3339, latest.Timestamp)
	if err != nil {
		return false, fmt.Errorf("unparseable timestamp on event for task %s: %w", evt.TaskID, err)
	}
	return time.Since(ts) > e.timeoutAfter, nil
}

func (e *Engine) timeoutTask(evt model.LifecycleEvent) error {
	status, err := e.status.StatusOf(evt.TaskID)
	if err != nil {
		return err
	}
	if status != model.StatusInProgress {
		return nil
	}
	if err := e.status.Update(evt.TaskID, model.StatusBlocked, "in_progress past timeout threshold", "automation"); err != nil {
		return err
	}
	return e.emit(model.LifecycleEvent{
		TaskID:      evt.TaskID,
		Event:       model.EventTimeout,
		Trigger:     model.TriggerTimeout,
		Description: fmt.Sprintf("no progress for more than %s", e.timeoutAfter),
	})
}

func (e *Engine) completedStale(evt model.LifecycleEvent) (bool, error) {
	// Skip archival markers so a re-appended event cannot re-fire the
	// rule within the same sweep.
	if evt.Context["archival"] == "true" {
		return false, nil
	}
	latest, err := e.events.LatestByType(evt.TaskID, model.EventCompleted)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return false, nil
	}
	ts, err := time.Parse(time.RFC3339, latest.Timestamp)
	if err != nil {
		return false, err
	}
	return time.Since(ts) > e.cleanupAfter, nil
}

// archiveTask re-appends a completed event flagged as archival. No task
// state changes.
func (e *Engine) archiveTask(evt model.LifecycleEvent) error {
	return e.emit(model.LifecycleEvent{
		TaskID:      evt.TaskID,
		Event:       model.EventCompleted,
		Trigger:     model.TriggerAutomatic,
		Description: "archival marker for aged completed task",
		Context:     map[string]string{"archival": "true"},
	})
}
