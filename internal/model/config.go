package model

type Config struct {
	Project    ProjectConfig    `yaml:"project"`
	Warden     WardenConfig     `yaml:"warden"`
	Compliance ComplianceConfig `yaml:"compliance"`
	Automation AutomationConfig `yaml:"automation"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Logging    LoggingConfig    `yaml:"logging"`
	Audit      AuditConfig      `yaml:"audit"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type WardenConfig struct {
	Version     string `yaml:"version"`
	Created     string `yaml:"created"`
	ProjectRoot string `yaml:"project_root"`
}

type ComplianceConfig struct {
	Threshold   float64 `yaml:"threshold"`    // per-session compliant cutoff (default 0.95)
	StrictClose bool    `yaml:"strict_close"` // end_session fails below threshold
	CacheTTLSec int     `yaml:"cache_ttl_sec"`
}

type AutomationConfig struct {
	TimeoutHours       int  `yaml:"timeout_hours"`        // in_progress staleness threshold (default 24)
	CleanupAgeDays     int  `yaml:"cleanup_age_days"`     // completed archival age (default 30)
	AutoCleanupEnabled bool `yaml:"auto_cleanup_enabled"`
}

type WatcherConfig struct {
	DebounceSec     float64 `yaml:"debounce_sec"`
	ScanIntervalSec int     `yaml:"scan_interval_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type AuditConfig struct {
	Enabled         bool  `yaml:"enabled"`
	MaxLogSizeBytes int64 `yaml:"max_log_size_bytes"`
	Checksum        bool  `yaml:"checksum"`
}

// DefaultConfig returns the configuration written by warden setup.
func DefaultConfig() Config {
	return Config{
		Compliance: ComplianceConfig{
			Threshold:   0.95,
			StrictClose: false,
			CacheTTLSec: 30,
		},
		Automation: AutomationConfig{
			TimeoutHours:       24,
			CleanupAgeDays:     30,
			AutoCleanupEnabled: false,
		},
		Watcher: WatcherConfig{
			DebounceSec:     0.5,
			ScanIntervalSec: 60,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Audit: AuditConfig{
			Enabled:         true,
			MaxLogSizeBytes: 100 * 1024 * 1024,
			Checksum:        false,
		},
	}
}
