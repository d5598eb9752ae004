// Package report renders lifecycle summaries and per-task views for the
// CLI, as aligned text or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hollandt/warden/internal/engine"
	"github.com/hollandt/warden/internal/model"
)

type summaryView struct {
	Project         string   `json:"project,omitempty"`
	TotalTasks      int      `json:"total_tasks"`
	Completed       int      `json:"completed"`
	InProgress      int      `json:"in_progress"`
	Blocked         int      `json:"blocked"`
	CompletionRate  float64  `json:"completion_rate"`
	TotalEvents     int      `json:"total_events"`
	TotalOperations int      `json:"total_operations"`
	TotalViolations int      `json:"total_violations"`
	ComplianceScore float64  `json:"compliance_score"`
	ActiveSessions  []string `json:"active_sessions,omitempty"`
	StaleTasks      []string `json:"stale_tasks,omitempty"`
}

type taskView struct {
	TaskID                string       `json:"task_id"`
	Status                model.Status `json:"status"`
	LastUpdated           string       `json:"last_updated"`
	Justification         string       `json:"justification,omitempty"`
	UpdatedBy             string       `json:"updated_by,omitempty"`
	DependenciesSatisfied bool         `json:"dependencies_satisfied"`
	Dependencies          []depView    `json:"dependencies,omitempty"`
	Blocks                []string     `json:"blocks,omitempty"`
	TimeToStart           string       `json:"time_to_start,omitempty"`
	Events                []eventView  `json:"events"`
}

type depView struct {
	DependsOn string               `json:"depends_on"`
	Kind      model.DependencyKind `json:"kind"`
}

type eventView struct {
	Event     model.EventType `json:"event"`
	Trigger   model.Trigger   `json:"trigger"`
	Timestamp string          `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
}

// RenderSummary writes the project-wide lifecycle summary.
func RenderSummary(w io.Writer, s *engine.Summary, jsonOutput bool) error {
	view := summaryView{
		Project:         s.Project,
		TotalTasks:      s.GlobalStatus.Total,
		Completed:       s.GlobalStatus.Completed,
		InProgress:      s.GlobalStatus.InProgress,
		Blocked:         s.GlobalStatus.Blocked,
		CompletionRate:  s.GlobalStatus.CompletionRate,
		TotalEvents:     s.TotalEvents,
		TotalOperations: s.TotalOperations,
		TotalViolations: s.TotalViolations,
		ComplianceScore: s.ComplianceScore,
		ActiveSessions:  s.ActiveSessions,
		StaleTasks:      s.StaleTasks,
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	if view.Project != "" {
		fmt.Fprintf(w, "Project: %s\n", view.Project)
	}
	fmt.Fprintf(w, "Tasks:   %d total, %d completed, %d in progress, %d blocked (%.0f%% complete)\n",
		view.TotalTasks, view.Completed, view.InProgress, view.Blocked, view.CompletionRate*100)
	fmt.Fprintf(w, "History: %d events, %d operations, %d violations\n",
		view.TotalEvents, view.TotalOperations, view.TotalViolations)
	fmt.Fprintf(w, "Compliance score: %.2f\n", view.ComplianceScore)

	if len(view.ActiveSessions) > 0 {
		fmt.Fprintf(w, "\nActive sessions:\n")
		for _, id := range view.ActiveSessions {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
	if len(view.StaleTasks) > 0 {
		fmt.Fprintf(w, "\nStale tasks (past timeout threshold):\n")
		for _, id := range view.StaleTasks {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
	return nil
}

// RenderTask writes one task's lifecycle view.
func RenderTask(w io.Writer, lc *engine.TaskLifecycle, jsonOutput bool) error {
	view := taskView{
		TaskID:                lc.TaskID,
		Status:                lc.Record.Status,
		LastUpdated:           lc.Record.LastUpdated,
		Justification:         lc.Record.Justification,
		UpdatedBy:             lc.Record.UpdatedBy,
		DependenciesSatisfied: lc.DependenciesSatisfied,
		Blocks:                lc.Blocks,
	}
	for _, dep := range lc.Dependencies {
		view.Dependencies = append(view.Dependencies, depView{DependsOn: dep.DependsOn, Kind: dep.Kind})
	}
	for _, evt := range lc.Events {
		view.Events = append(view.Events, eventView{
			Event:     evt.Event,
			Trigger:   evt.Trigger,
			Timestamp: evt.Timestamp,
			SessionID: evt.SessionID,
		})
	}
	if lc.HasTimeToStart {
		view.TimeToStart = lc.TimeToStart.Round(time.Second).String()
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	fmt.Fprintf(w, "Task: %s\n", view.TaskID)
	fmt.Fprintf(w, "Status: %s", view.Status)
	if view.LastUpdated != "" {
		fmt.Fprintf(w, " (updated %s by %s)", view.LastUpdated, view.UpdatedBy)
	}
	fmt.Fprintln(w)
	if view.Justification != "" {
		fmt.Fprintf(w, "Justification: %s\n", view.Justification)
	}

	if len(view.Dependencies) > 0 {
		fmt.Fprintf(w, "\nDependencies (satisfied: %v):\n", view.DependenciesSatisfied)
		for _, dep := range view.Dependencies {
			fmt.Fprintf(w, "  %-20s  kind=%s\n", dep.DependsOn, dep.Kind)
		}
	}
	if len(view.Blocks) > 0 {
		fmt.Fprintf(w, "\nBlocks (transitive dependents):\n")
		for _, id := range view.Blocks {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
	if view.TimeToStart != "" {
		fmt.Fprintf(w, "\nTime to start: %s\n", view.TimeToStart)
	}

	if len(view.Events) > 0 {
		fmt.Fprintf(w, "\nEvents:\n")
		fmt.Fprintf(w, "  %-20s  %-13s  %s\n", "TIMESTAMP", "EVENT", "TRIGGER")
		for _, evt := range view.Events {
			fmt.Fprintf(w, "  %-20s  %-13s  %s\n", evt.Timestamp, evt.Event, evt.Trigger)
		}
	} else {
		fmt.Fprintf(w, "\nEvents: none\n")
	}
	return nil
}
