// Package registry implements the persisted task-status registry with its
// guarded transition table.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hollandt/warden/internal/model"
	wyaml "github.com/hollandt/warden/internal/yaml"
)

// ErrInvalidTransition is returned when a requested status change is not in
// the transition table. No state is mutated on rejection.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrTaskNotFound is returned by Get for a task id the registry has never
// seen. Callers can use errors.Is to distinguish this from read errors.
var ErrTaskNotFound = errors.New("task not found")

// Registry owns .warden/state/registry.yaml. Every mutation is a full
// read-modify-write of the document, serialized by an in-process mutex;
// cross-process exclusion is the enforcer file lock's job.
type Registry struct {
	mu          sync.Mutex
	path        string
	projectRoot string
}

func New(path, projectRoot string) *Registry {
	return &Registry{path: path, projectRoot: projectRoot}
}

// Update transitions a task to newStatus. The task is created implicitly
// on its first write: an absent task is treated as not_started, so the
// first update must itself be a legal edge out of not_started.
func (r *Registry) Update(taskID string, newStatus model.Status, justification, updatedBy string) error {
	if taskID == "" {
		return fmt.Errorf("task id must not be empty")
	}
	if !model.IsValidStatus(newStatus) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, newStatus)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}

	current := model.StatusNotStarted
	if rec, ok := doc.Tasks[taskID]; ok {
		current = rec.Status
	}

	if err := model.ValidateTransition(current, newStatus); err != nil {
		return fmt.Errorf("%w: task %s: %v", ErrInvalidTransition, taskID, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	doc.Tasks[taskID] = model.TaskRecord{
		Status:        newStatus,
		LastUpdated:   now,
		Justification: justification,
		UpdatedBy:     updatedBy,
	}
	doc.LastUpdated = now
	doc.GlobalStatus = computeGlobalStatus(doc.Tasks)

	return wyaml.AtomicWrite(r.path, doc)
}

// Register records a brand-new task as not_started without requiring a
// transition. It fails if the task already exists.
func (r *Registry) Register(taskID, justification, updatedBy string) error {
	if taskID == "" {
		return fmt.Errorf("task id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Tasks[taskID]; ok {
		return fmt.Errorf("task %s already registered", taskID)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	doc.Tasks[taskID] = model.TaskRecord{
		Status:        model.StatusNotStarted,
		LastUpdated:   now,
		Justification: justification,
		UpdatedBy:     updatedBy,
	}
	doc.LastUpdated = now
	doc.GlobalStatus = computeGlobalStatus(doc.Tasks)

	return wyaml.AtomicWrite(r.path, doc)
}

func (r *Registry) Get(taskID string) (model.TaskRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return model.TaskRecord{}, err
	}
	rec, ok := doc.Tasks[taskID]
	if !ok {
		return model.TaskRecord{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return rec, nil
}

// StatusOf returns the task's current status, or not_started for a task
// the registry has never seen. Dependency evaluation relies on this
// default: an edge to a nonexistent task is never satisfied for
// completion/success and unsatisfied for start.
func (r *Registry) StatusOf(taskID string) (model.Status, error) {
	rec, err := r.Get(taskID)
	if errors.Is(err, ErrTaskNotFound) {
		return model.StatusNotStarted, nil
	}
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// Snapshot returns the full registry document.
func (r *Registry) Snapshot() (*model.StatusRegistry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

func (r *Registry) load() (*model.StatusRegistry, error) {
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		return &model.StatusRegistry{
			Version:     wyaml.CurrentSchemaVersion,
			FileType:    wyaml.FileTypeStatusRegistry,
			ProjectRoot: r.projectRoot,
			Tasks:       make(map[string]model.TaskRecord),
		}, nil
	}

	var doc model.StatusRegistry
	if err := wyaml.ReadDocument(r.path, wyaml.FileTypeStatusRegistry, &doc); err != nil {
		return nil, err
	}
	if doc.Tasks == nil {
		doc.Tasks = make(map[string]model.TaskRecord)
	}
	return &doc, nil
}

func computeGlobalStatus(tasks map[string]model.TaskRecord) model.GlobalStatus {
	gs := model.GlobalStatus{Total: len(tasks)}
	for _, rec := range tasks {
		switch rec.Status {
		case model.StatusCompleted:
			gs.Completed++
		case model.StatusInProgress:
			gs.InProgress++
		case model.StatusBlocked:
			gs.Blocked++
		}
	}
	if gs.Total > 0 {
		gs.CompletionRate = float64(gs.Completed) / float64(gs.Total)
	}
	return gs
}
