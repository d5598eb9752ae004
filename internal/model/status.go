package model

import "fmt"

type Status string

const (
	StatusNotStarted      Status = "not_started"
	StatusInProgress      Status = "in_progress"
	StatusWaitingForInput Status = "waiting_for_input"
	StatusBlocked         Status = "blocked"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusNotStarted:      true,
	StatusInProgress:      true,
	StatusWaitingForInput: true,
	StatusBlocked:         true,
	StatusCompleted:       true,
	StatusFailed:          true,
	StatusCancelled:       true,
}

var terminalStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusCancelled: true,
}

// Task status transitions. failed → in_progress is the only resurrection
// path; completed and cancelled have no outgoing edges.
var validTaskTransitions = map[Status]map[Status]bool{
	StatusNotStarted: {
		StatusInProgress: true,
		StatusCancelled:  true,
	},
	StatusInProgress: {
		StatusWaitingForInput: true,
		StatusBlocked:         true,
		StatusCompleted:       true,
		StatusFailed:          true,
		StatusCancelled:       true,
	},
	StatusWaitingForInput: {
		StatusInProgress: true,
		StatusCancelled:  true,
	},
	StatusBlocked: {
		StatusInProgress: true,
		StatusFailed:     true,
		StatusCancelled:  true,
	},
	StatusFailed: {
		StatusInProgress: true,
		StatusCancelled:  true,
	},
}

func IsValidStatus(s Status) bool {
	return validStatuses[s]
}

func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

func ValidateTransition(from, to Status) error {
	if IsTerminal(from) {
		return fmt.Errorf("cannot transition from terminal status %q", from)
	}
	allowed, ok := validTaskTransitions[from]
	if !ok {
		return fmt.Errorf("unknown status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid task transition: %q → %q", from, to)
	}
	return nil
}

// EventType identifies a lifecycle event kind.
type EventType string

const (
	EventCreated    EventType = "created"
	EventStarted    EventType = "started"
	EventInProgress EventType = "in_progress"
	EventPaused     EventType = "paused"
	EventBlocked    EventType = "blocked"
	EventCompleted  EventType = "completed"
	EventFailed     EventType = "failed"
	EventCancelled  EventType = "cancelled"
	EventTimeout    EventType = "timeout"
)

var validEventTypes = map[EventType]bool{
	EventCreated:    true,
	EventStarted:    true,
	EventInProgress: true,
	EventPaused:     true,
	EventBlocked:    true,
	EventCompleted:  true,
	EventFailed:     true,
	EventCancelled:  true,
	EventTimeout:    true,
}

func IsValidEventType(e EventType) bool {
	return validEventTypes[e]
}

// Trigger identifies what caused a lifecycle event.
type Trigger string

const (
	TriggerManual       Trigger = "manual"
	TriggerAutomatic    Trigger = "automatic"
	TriggerLLMOperation Trigger = "llm_operation"
	TriggerTimeout      Trigger = "timeout"
	TriggerError        Trigger = "error"
	TriggerDependency   Trigger = "dependency"
)

var validTriggers = map[Trigger]bool{
	TriggerManual:       true,
	TriggerAutomatic:    true,
	TriggerLLMOperation: true,
	TriggerTimeout:      true,
	TriggerError:        true,
	TriggerDependency:   true,
}

func IsValidTrigger(tr Trigger) bool {
	return validTriggers[tr]
}

// DependencyKind is the condition under which one task's dependency on
// another is considered satisfied.
type DependencyKind string

const (
	DependencyCompletion DependencyKind = "completion"
	DependencySuccess    DependencyKind = "success"
	DependencyStart      DependencyKind = "start"
)

var validDependencyKinds = map[DependencyKind]bool{
	DependencyCompletion: true,
	DependencySuccess:    true,
	DependencyStart:      true,
}

func IsValidDependencyKind(k DependencyKind) bool {
	return validDependencyKinds[k]
}

// OperationKind identifies the rule-table entry governing a session.
type OperationKind string

const (
	OpSpecCreation  OperationKind = "spec_creation"
	OpPlanCreation  OperationKind = "plan_creation"
	OpTaskExecution OperationKind = "task_execution"
	OpMemoryUpdate  OperationKind = "memory_update"
	OpStatusReport  OperationKind = "status_report"
)
