package yaml

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

const CurrentSchemaVersion = 1

const (
	FileTypeStatusRegistry   = "status_registry"
	FileTypeOperationHistory = "operation_history"
	FileTypeComplianceLog    = "compliance_log"
	FileTypeEventLog         = "event_log"
	FileTypeDependencyStore  = "dependency_store"
	FileTypeConfig           = "config"
)

var validFileTypes = map[string]bool{
	FileTypeStatusRegistry:   true,
	FileTypeOperationHistory: true,
	FileTypeComplianceLog:    true,
	FileTypeEventLog:         true,
	FileTypeDependencyStore:  true,
	FileTypeConfig:           true,
}

type SchemaHeader struct {
	Version  int    `yaml:"version"`
	FileType string `yaml:"file_type"`
}

func ValidateSchemaHeader(path string, expectedFileType string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return ValidateSchemaHeaderFromBytes(content, expectedFileType)
}

func ValidateSchemaHeaderFromBytes(content []byte, expectedFileType string) error {
	var header SchemaHeader
	if err := yamlv3.Unmarshal(content, &header); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	if header.Version < 1 {
		return fmt.Errorf("invalid version %d (must be >= 1)", header.Version)
	}
	if header.Version > CurrentSchemaVersion {
		return fmt.Errorf("unsupported version %d (max supported: %d)", header.Version, CurrentSchemaVersion)
	}
	if header.FileType == "" {
		return fmt.Errorf("missing file_type")
	}
	if !validFileTypes[header.FileType] {
		return fmt.Errorf("unknown file_type: %q", header.FileType)
	}
	if expectedFileType != "" && header.FileType != expectedFileType {
		return fmt.Errorf("file_type mismatch: got %q, expected %q", header.FileType, expectedFileType)
	}

	return nil
}

func NeedsMigration(version int) bool {
	return version < CurrentSchemaVersion
}
