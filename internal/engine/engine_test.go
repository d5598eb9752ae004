package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollandt/warden/internal/model"
	"github.com/hollandt/warden/internal/registry"
	"github.com/hollandt/warden/internal/session"
	"github.com/hollandt/warden/internal/setup"
	wyaml "github.com/hollandt/warden/internal/yaml"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, setup.Run(dir, "testproj"))

	e, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestOpen_RequiresSetup(t *testing.T) {
	_, err := Open(t.TempDir())
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestOpen_SingleWriter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, setup.Run(dir, ""))

	first, err := Open(dir)
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(dir)
	assert.Error(t, err)
}

func TestOpen_RecoversCorruptStateFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, setup.Run(dir, ""))

	paths := setup.Layout(dir)
	require.NoError(t, os.WriteFile(paths.Registry, []byte("{{ not yaml"), 0644))

	e, err := Open(dir)
	require.NoError(t, err)
	defer e.Close()

	// The corrupt file was quarantined and a parseable registry rebuilt.
	quarantined, err := filepath.Glob(filepath.Join(paths.QuarantineDir, "registry.yaml.*.corrupt"))
	require.NoError(t, err)
	assert.NotEmpty(t, quarantined)

	require.NoError(t, e.RegisterTask("a", ""))
	rec, err := e.GetStatus("a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, rec.Status)
}

func TestRegisterTask_AutoStartsWhenUnblocked(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.RegisterTask("a", "first task"))

	// created → auto_start: no dependencies, so the task moves straight
	// to in_progress with a started event.
	rec, err := e.GetStatus("a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, rec.Status)

	lc, err := e.GetLifecycleStatus("a")
	require.NoError(t, err)
	require.Len(t, lc.Events, 2)
	assert.Equal(t, model.EventCreated, lc.Events[0].Event)
	assert.Equal(t, model.EventStarted, lc.Events[1].Event)
	assert.Equal(t, model.TriggerAutomatic, lc.Events[1].Trigger)
}

func TestRegisterTask_HeldByUnsatisfiedDependency(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.AddDependency("b", "a", model.DependencyCompletion, ""))
	require.NoError(t, e.RegisterTask("b", ""))

	rec, err := e.GetStatus("b")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotStarted, rec.Status)

	lc, err := e.GetLifecycleStatus("b")
	require.NoError(t, err)
	assert.False(t, lc.DependenciesSatisfied)
}

func TestSessionFlow_EndToEnd(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.RegisterTask("a", ""))

	sess, err := e.StartSession(model.OpTaskExecution, "a")
	require.NoError(t, err)
	require.NoError(t, e.TrackArtifact(sess, "tasks/a/result.md", true))

	result, err := e.EndSession(sess, true, "")
	require.NoError(t, err)
	assert.True(t, result.Compliant)

	rec, err := e.GetStatus("a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, rec.Status)

	score, err := e.GetComplianceScore()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)

	summary, err := e.GetLifecycleSummary()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalOperations)
	assert.Equal(t, 0, summary.TotalViolations)
	assert.Equal(t, 1, summary.GlobalStatus.Completed)
	assert.Empty(t, summary.ActiveSessions)

	// The audit mirror carries every event.
	total, valid, err := e.VerifyAuditLog()
	require.NoError(t, err)
	assert.Greater(t, total, 0)
	assert.Equal(t, total, valid)
}

func TestCascadingBlock(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.AddDependency("b", "a", model.DependencyCompletion, ""))
	require.NoError(t, e.RegisterTask("a", "")) // auto-starts
	require.NoError(t, e.RegisterTask("b", "")) // held by dependency
	require.NoError(t, e.UpdateStatus("b", model.StatusInProgress, "manual start"))

	require.NoError(t, e.UpdateStatus("a", model.StatusFailed, "execution failed"))

	rec, err := e.GetStatus("b")
	require.NoError(t, err)
	assert.Equal(t, model.StatusBlocked, rec.Status)

	lc, err := e.GetLifecycleStatus("b")
	require.NoError(t, err)
	last := lc.Events[len(lc.Events)-1]
	assert.Equal(t, model.EventBlocked, last.Event)
	assert.Equal(t, model.TriggerDependency, last.Trigger)
}

func TestUpdateStatus_InvalidTransitionAppendsNothing(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.RegisterTask("a", ""))

	lcBefore, err := e.GetLifecycleStatus("a")
	require.NoError(t, err)

	err = e.UpdateStatus("a", model.StatusNotStarted, "rewind")
	assert.ErrorIs(t, err, registry.ErrInvalidTransition)

	lcAfter, err := e.GetLifecycleStatus("a")
	require.NoError(t, err)
	assert.Len(t, lcAfter.Events, len(lcBefore.Events))
}

func TestAutoTimeout_BackdatedInProgressEvent(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.RegisterTask("a", ""))

	// Backdate an in_progress event past the 24h threshold.
	stale := time.Now().Add(-25 * time.Hour).UTC().Format(time.RFC3339)
	require.NoError(t, e.RecordEvent(model.LifecycleEvent{
		TaskID:    "a",
		Event:     model.EventInProgress,
		Trigger:   model.TriggerManual,
		Timestamp: stale,
	}))

	rec, err := e.GetStatus("a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusBlocked, rec.Status)

	lc, err := e.GetLifecycleStatus("a")
	require.NoError(t, err)
	last := lc.Events[len(lc.Events)-1]
	assert.Equal(t, model.EventTimeout, last.Event)
}

func TestStrictClose(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, setup.Run(dir, ""))

	// Flip strict_close on before opening.
	paths := setup.Layout(dir)
	cfg := model.DefaultConfig()
	cfg.Compliance.StrictClose = true
	require.NoError(t, wyaml.AtomicWrite(paths.Config, struct {
		Version      int    `yaml:"version"`
		FileType     string `yaml:"file_type"`
		model.Config `yaml:",inline"`
	}{wyaml.CurrentSchemaVersion, wyaml.FileTypeConfig, cfg}))

	e, err := Open(dir)
	require.NoError(t, err)
	defer e.Close()

	sess, err := e.StartSession(model.OpMemoryUpdate, "")
	require.NoError(t, err)

	result, err := e.EndSession(sess, false, "")
	assert.ErrorIs(t, err, session.ErrComplianceViolation)
	require.NotNil(t, result)
	assert.False(t, result.Compliant)

	// Recorded despite the strict failure.
	summary, err := e.GetLifecycleSummary()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalOperations)
	assert.Equal(t, 2, summary.TotalViolations)
}
