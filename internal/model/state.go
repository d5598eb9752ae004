// Package model defines the data structures for warden's persisted state,
// lifecycle events, and enforced operations.
package model

// StatusRegistry is the persisted task-status document
// (.warden/state/registry.yaml). Rewritten in full on every update.
type StatusRegistry struct {
	Version      int                   `yaml:"version"`
	FileType     string                `yaml:"file_type"`
	ProjectRoot  string                `yaml:"project_root"`
	LastUpdated  string                `yaml:"last_updated"`
	Tasks        map[string]TaskRecord `yaml:"tasks"`
	GlobalStatus GlobalStatus          `yaml:"global_status"`
}

// TaskRecord is the registry entry for a single task. Tasks are created
// implicitly on first status write and never physically deleted.
type TaskRecord struct {
	Status        Status `yaml:"status"`
	LastUpdated   string `yaml:"last_updated"`
	Justification string `yaml:"justification"`
	UpdatedBy     string `yaml:"updated_by"`
}

// GlobalStatus holds aggregate counters recomputed on every registry write.
type GlobalStatus struct {
	Total          int     `yaml:"total"`
	Completed      int     `yaml:"completed"`
	InProgress     int     `yaml:"in_progress"`
	Blocked        int     `yaml:"blocked"`
	CompletionRate float64 `yaml:"completion_rate"`
}

// OperationHistory is the persisted session-history document
// (.warden/state/operations.yaml).
type OperationHistory struct {
	Version         int         `yaml:"version"`
	FileType        string      `yaml:"file_type"`
	TotalOperations int         `yaml:"total_operations"`
	LastOperationID string      `yaml:"last_operation_id"`
	Operations      []Operation `yaml:"operations"`
}

// Operation is one closed, enforced unit of work. It is owned exclusively
// by the enforcer while open and becomes immutable once closed.
type Operation struct {
	ID                string        `yaml:"id"`
	Kind              OperationKind `yaml:"kind"`
	TaskID            string        `yaml:"task_id,omitempty"`
	StatusBefore      Status        `yaml:"status_before,omitempty"`
	StatusAfter       *Status       `yaml:"status_after,omitempty"`
	StartTime         string        `yaml:"start_time"`
	EndTime           *string       `yaml:"end_time,omitempty"`
	ArtifactsCreated  []string      `yaml:"artifacts_created"`
	ArtifactsModified []string      `yaml:"artifacts_modified"`
	Passed            bool          `yaml:"passed"`
	Error             *string       `yaml:"error,omitempty"`
	ComplianceScore   float64       `yaml:"compliance_score"`
}

// Severity classifies a recorded violation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ComplianceLog is the persisted violation document
// (.warden/state/compliance.yaml). Violations are append-only.
type ComplianceLog struct {
	Version         int         `yaml:"version"`
	FileType        string      `yaml:"file_type"`
	TotalViolations int         `yaml:"total_violations"`
	ComplianceScore float64     `yaml:"compliance_score"`
	LastUpdated     string      `yaml:"last_updated"`
	Violations      []Violation `yaml:"violations"`
}

// Violation records one failed check or detected forbidden action.
type Violation struct {
	Timestamp   string   `yaml:"timestamp"`
	SessionID   string   `yaml:"session_id"`
	Kind        string   `yaml:"kind"`
	Description string   `yaml:"description"`
	Severity    Severity `yaml:"severity"`
}

// EventLog is the persisted lifecycle-event document
// (.warden/state/events.yaml). Events are append-only, ordered by arrival.
type EventLog struct {
	Version     int              `yaml:"version"`
	FileType    string           `yaml:"file_type"`
	TotalEvents int              `yaml:"total_events"`
	Events      []LifecycleEvent `yaml:"events"`
}

// LifecycleEvent records a task's movement through states.
type LifecycleEvent struct {
	TaskID      string            `yaml:"task_id"`
	Event       EventType         `yaml:"event"`
	Trigger     Trigger           `yaml:"trigger"`
	Timestamp   string            `yaml:"timestamp"`
	Description string            `yaml:"description,omitempty"`
	Context     map[string]string `yaml:"context,omitempty"`
	SessionID   string            `yaml:"session_id,omitempty"`
}

// DependencyStore is the persisted dependency document
// (.warden/state/dependencies.yaml). The adjacency map is a derived view
// kept alongside the edge list for cheap lookups.
type DependencyStore struct {
	Version         int                 `yaml:"version"`
	FileType        string              `yaml:"file_type"`
	Dependencies    []Dependency        `yaml:"dependencies"`
	DependencyGraph map[string][]string `yaml:"dependency_graph"`
}

// Dependency is a directed edge task_id → depends_on.
type Dependency struct {
	TaskID      string         `yaml:"task_id"`
	DependsOn   string         `yaml:"depends_on"`
	Kind        DependencyKind `yaml:"kind"`
	Description string         `yaml:"description,omitempty"`
}
