package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestQuarantine(t *testing.T) {
	wardenDir := t.TempDir()
	path := filepath.Join(wardenDir, "state.yaml")
	if err := os.WriteFile(path, []byte("not: [valid"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := Quarantine(wardenDir, path); err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original file should have been moved")
	}

	entries, err := os.ReadDir(filepath.Join(wardenDir, "quarantine"))
	if err != nil {
		t.Fatalf("ReadDir quarantine failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("quarantine dir entries: got %d, want 1", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "state.yaml.") || !strings.HasSuffix(entries[0].Name(), ".corrupt") {
		t.Errorf("unexpected quarantine name: %s", entries[0].Name())
	}
}

func TestRestoreFromBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")

	if err := os.WriteFile(path+".bak", []byte("version: 1\nfile_type: status_registry\n"), 0644); err != nil {
		t.Fatalf("WriteFile .bak failed: %v", err)
	}

	if err := RestoreFromBackup(path); err != nil {
		t.Fatalf("RestoreFromBackup failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(content), "status_registry") {
		t.Errorf("restored content unexpected: %s", content)
	}
}

func TestRestoreFromBackup_NoBackup(t *testing.T) {
	dir := t.TempDir()
	if err := RestoreFromBackup(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error when backup does not exist")
	}
}

func TestRestoreFromBackup_CorruptBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	if err := os.WriteFile(path+".bak", []byte(":\n  broken: [\n"), 0644); err != nil {
		t.Fatalf("WriteFile .bak failed: %v", err)
	}
	if err := RestoreFromBackup(path); err == nil {
		t.Error("expected error for corrupt backup")
	}
}

func TestRecoverCorruptedFile_FallsBackToSkeleton(t *testing.T) {
	wardenDir := t.TempDir()
	path := filepath.Join(wardenDir, "events.yaml")
	if err := os.WriteFile(path, []byte(":\n  broken: [\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	// No .bak exists, so recovery must generate a skeleton
	if err := RecoverCorruptedFile(wardenDir, path, FileTypeEventLog); err != nil {
		t.Fatalf("RecoverCorruptedFile failed: %v", err)
	}

	if err := ValidateSchemaHeader(path, FileTypeEventLog); err != nil {
		t.Errorf("recovered file has invalid header: %v", err)
	}
}

func TestSkeletonForType_AllKnownTypes(t *testing.T) {
	for fileType := range validFileTypes {
		dir := t.TempDir()
		path := filepath.Join(dir, fileType+".yaml")
		if err := GenerateSkeleton(path, fileType); err != nil {
			t.Fatalf("GenerateSkeleton(%s) failed: %v", fileType, err)
		}
		if err := ValidateSchemaHeader(path, fileType); err != nil {
			t.Errorf("skeleton for %s has invalid header: %v", fileType, err)
		}
	}
}
