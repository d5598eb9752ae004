// Package setup handles warden project initialization and path layout.
package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hollandt/warden/internal/model"
	wyaml "github.com/hollandt/warden/internal/yaml"
)

const wardenDir = ".warden"

// Paths is the on-disk layout under <project>/.warden.
type Paths struct {
	Root          string // project root
	Base          string // .warden
	StateDir      string
	LocksDir      string
	LogsDir       string
	QuarantineDir string

	Config       string
	Registry     string
	Operations   string
	Compliance   string
	Events       string
	Dependencies string
	AuditLog     string
	EnforcerLock string
}

// Layout resolves the warden paths for a project root.
func Layout(projectRoot string) Paths {
	base := filepath.Join(projectRoot, wardenDir)
	state := filepath.Join(base, "state")
	return Paths{
		Root:          projectRoot,
		Base:          base,
		StateDir:      state,
		LocksDir:      filepath.Join(base, "locks"),
		LogsDir:       filepath.Join(base, "logs"),
		QuarantineDir: filepath.Join(base, "quarantine"),
		Config:        filepath.Join(base, "config.yaml"),
		Registry:      filepath.Join(state, "registry.yaml"),
		Operations:    filepath.Join(state, "operations.yaml"),
		Compliance:    filepath.Join(state, "compliance.yaml"),
		Events:        filepath.Join(state, "events.yaml"),
		Dependencies:  filepath.Join(state, "dependencies.yaml"),
		AuditLog:      filepath.Join(base, "logs", "audit.jsonl"),
		EnforcerLock:  filepath.Join(base, "locks", "enforcer.lock"),
	}
}

// Initialized reports whether the project has been set up.
func Initialized(projectRoot string) bool {
	info, err := os.Stat(Layout(projectRoot).Base)
	return err == nil && info.IsDir()
}

// Run initializes the .warden/ directory structure in the given project
// directory. projectName defaults to the directory basename.
func Run(projectDir, projectName string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	paths := Layout(absDir)

	if _, err := os.Stat(paths.Base); err == nil {
		return fmt.Errorf("%s already exists", paths.Base)
	}

	for _, d := range []string{paths.StateDir, paths.LocksDir, paths.LogsDir, paths.QuarantineDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg := generateConfig(absDir, projectName)
	if err := wyaml.AtomicWrite(paths.Config, cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	skeletons := map[string]string{
		paths.Registry:     wyaml.FileTypeStatusRegistry,
		paths.Operations:   wyaml.FileTypeOperationHistory,
		paths.Compliance:   wyaml.FileTypeComplianceLog,
		paths.Events:       wyaml.FileTypeEventLog,
		paths.Dependencies: wyaml.FileTypeDependencyStore,
	}
	for path, fileType := range skeletons {
		if err := wyaml.GenerateSkeleton(path, fileType); err != nil {
			return fmt.Errorf("write %s: %w", filepath.Base(path), err)
		}
	}

	// Registry skeletons don't know the project root; write it in.
	if err := stampProjectRoot(paths.Registry, absDir); err != nil {
		return err
	}

	// Empty enforcer.lock so the lock path exists from day one.
	if err := os.WriteFile(paths.EnforcerLock, nil, 0600); err != nil {
		return fmt.Errorf("create enforcer.lock: %w", err)
	}

	return nil
}

// LoadConfig reads config.yaml, falling back to defaults when the file
// does not exist.
func LoadConfig(projectRoot string) (model.Config, error) {
	paths := Layout(projectRoot)
	if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
		return model.DefaultConfig(), nil
	}

	var wrapped configFile
	if err := wyaml.ReadDocument(paths.Config, wyaml.FileTypeConfig, &wrapped); err != nil {
		return model.Config{}, fmt.Errorf("load config: %w", err)
	}
	return wrapped.Config, nil
}

// configFile wraps model.Config with the schema header every persisted
// warden document carries.
type configFile struct {
	Version      int    `yaml:"version"`
	FileType     string `yaml:"file_type"`
	model.Config `yaml:",inline"`
}

func generateConfig(projectDir, projectName string) configFile {
	cfg := model.DefaultConfig()
	if projectName != "" {
		cfg.Project.Name = projectName
	} else {
		cfg.Project.Name = filepath.Base(projectDir)
	}
	cfg.Warden.ProjectRoot = projectDir
	cfg.Warden.Created = time.Now().UTC().Format(time.RFC3339)
	cfg.Warden.Version = "1"

	return configFile{
		Version:  wyaml.CurrentSchemaVersion,
		FileType: wyaml.FileTypeConfig,
		Config:   cfg,
	}
}

func stampProjectRoot(registryPath, projectRoot string) error {
	var doc model.StatusRegistry
	if err := wyaml.ReadDocument(registryPath, wyaml.FileTypeStatusRegistry, &doc); err != nil {
		return fmt.Errorf("stamp project root: %w", err)
	}
	doc.ProjectRoot = projectRoot
	if doc.Tasks == nil {
		doc.Tasks = make(map[string]model.TaskRecord)
	}
	return wyaml.AtomicWrite(registryPath, &doc)
}
