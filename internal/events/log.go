// Package events implements the append-only lifecycle event log and its
// JSONL audit mirror.
package events

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hollandt/warden/internal/model"
	wyaml "github.com/hollandt/warden/internal/yaml"
)

// Log owns .warden/state/events.yaml. Entries are never mutated or
// deduplicated: the log is a sequence, not a set.
type Log struct {
	mu   sync.Mutex
	path string
}

func NewLog(path string) *Log {
	return &Log{path: path}
}

// Append records an event at the end of the log and returns it with the
// timestamp filled in. The only ordering key is append position.
func (l *Log) Append(evt model.LifecycleEvent) (model.LifecycleEvent, error) {
	if evt.TaskID == "" {
		return evt, fmt.Errorf("event task id must not be empty")
	}
	if !model.IsValidEventType(evt.Event) {
		return evt, fmt.Errorf("unknown event type %q", evt.Event)
	}
	if !model.IsValidTrigger(evt.Trigger) {
		return evt, fmt.Errorf("unknown trigger %q", evt.Trigger)
	}
	if evt.Timestamp == "" {
		evt.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return evt, err
	}
	doc.Events = append(doc.Events, evt)
	doc.TotalEvents++

	if err := wyaml.AtomicWrite(l.path, doc); err != nil {
		return evt, err
	}
	return evt, nil
}

// Query returns all events for a task in append order.
func (l *Log) Query(taskID string) ([]model.LifecycleEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return nil, err
	}
	var out []model.LifecycleEvent
	for _, evt := range doc.Events {
		if evt.TaskID == taskID {
			out = append(out, evt)
		}
	}
	return out, nil
}

// All returns the full log in append order.
func (l *Log) All() ([]model.LifecycleEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return nil, err
	}
	return doc.Events, nil
}

// Total returns the running event counter.
func (l *Log) Total() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return 0, err
	}
	return doc.TotalEvents, nil
}

// LatestByType returns the most recent event of the given type for a
// task, or nil if none exists. Used by timeout and cleanup conditions.
func (l *Log) LatestByType(taskID string, eventType model.EventType) (*model.LifecycleEvent, error) {
	evts, err := l.Query(taskID)
	if err != nil {
		return nil, err
	}
	for i := len(evts) - 1; i >= 0; i-- {
		if evts[i].Event == eventType {
			evt := evts[i]
			return &evt, nil
		}
	}
	return nil, nil
}

// TimeToStart computes the created → started gap for a task. The second
// return is false when either endpoint is missing.
func (l *Log) TimeToStart(taskID string) (time.Duration, bool, error) {
	evts, err := l.Query(taskID)
	if err != nil {
		return 0, false, err
	}

	var created, started *time.Time
	for _, evt := range evts {
		ts, err := time.Parse(time.RFC3339, evt.Timestamp)
		if err != nil {
			continue
		}
		switch evt.Event {
		case model.EventCreated:
			if created == nil {
				created = &ts
			}
		case model.EventStarted:
			if started == nil {
				started = &ts
			}
		}
	}
	if created == nil || started == nil {
		return 0, false, nil
	}
	return started.Sub(*created), true, nil
}

func (l *Log) load() (*model.EventLog, error) {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		return &model.EventLog{
			Version:  wyaml.CurrentSchemaVersion,
			FileType: wyaml.FileTypeEventLog,
		}, nil
	}

	var doc model.EventLog
	if err := wyaml.ReadDocument(l.path, wyaml.FileTypeEventLog, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
