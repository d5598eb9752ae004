package yaml

import "testing"

func TestValidateSchemaHeaderFromBytes(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
		wantErr  bool
	}{
		{
			name:    "valid event log",
			content: "version: 1\nfile_type: event_log\n",
		},
		{
			name:     "matching expected type",
			content:  "version: 1\nfile_type: status_registry\n",
			expected: FileTypeStatusRegistry,
		},
		{
			name:     "mismatched expected type",
			content:  "version: 1\nfile_type: event_log\n",
			expected: FileTypeStatusRegistry,
			wantErr:  true,
		},
		{
			name:    "missing file_type",
			content: "version: 1\n",
			wantErr: true,
		},
		{
			name:    "unknown file_type",
			content: "version: 1\nfile_type: task_queue\n",
			wantErr: true,
		},
		{
			name:    "version zero",
			content: "version: 0\nfile_type: event_log\n",
			wantErr: true,
		},
		{
			name:    "version from the future",
			content: "version: 99\nfile_type: event_log\n",
			wantErr: true,
		},
		{
			name:    "not yaml",
			content: ":\n  broken: [\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchemaHeaderFromBytes([]byte(tt.content), tt.expected)
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestNeedsMigration(t *testing.T) {
	if NeedsMigration(CurrentSchemaVersion) {
		t.Error("current version should not need migration")
	}
	if !NeedsMigration(0) {
		t.Error("version 0 should need migration")
	}
}
