package config

import (
	"path/filepath"
	"time"

	"github.com/mattjoyce/strata/internal/stage"
)

// Config represents the complete strata configuration.
type Config struct {
	ProjectRoot string         `yaml:"project_root"`
	DataDir     string         `yaml:"data_dir"`
	HistoryDir  string         `yaml:"history_dir"`
	StagesDir   string         `yaml:"stages_dir"`
	Log         LogConfig      `yaml:"log"`
	State       StateConfig    `yaml:"state"`
	Backup      BackupConfig   `yaml:"backup"`
	Stages      StagesConfig   `yaml:"stages"`
	Schedule    ScheduleConfig `yaml:"schedule,omitempty"`
	API         APIConfig      `yaml:"api,omitempty"`

	// SourcePath is the absolute path of the loaded file, empty when running on defaults.
	SourcePath string `yaml:"-"`
}

// LogConfig defines log output settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// StateConfig defines where the run log lives.
type StateConfig struct {
	Path string `yaml:"path"`
}

// BackupConfig controls snapshots of the data directory.
type BackupConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StagesConfig controls stage discovery and execution.
type StagesConfig struct {
	Patterns      []string            `yaml:"patterns"`
	PackageMarker string              `yaml:"package_marker"`
	Interpreters  map[string][]string `yaml:"interpreters"` // file extension -> argv prefix
	Manifest      string              `yaml:"manifest"`     // file name inside stages_dir
	Timeout       time.Duration       `yaml:"timeout"`      // 0 means no timeout
	GracePeriod   time.Duration       `yaml:"grace_period"`
	StreamOutput  bool                `yaml:"stream_output"`
}

// ScheduleConfig defines when the daemon triggers a run.
type ScheduleConfig struct {
	Cron       string        `yaml:"cron"` // 5-field expression or descriptor (@daily, @every 6h)
	Jitter     time.Duration `yaml:"jitter"`
	RunOnStart bool          `yaml:"run_on_start"`
}

// APIConfig defines the read-only HTTP server.
type APIConfig struct {
	Listen string `yaml:"listen"`
	Token  string `yaml:"token"` // bearer token for everything but /healthz and /metrics; empty disables auth
}

// Defaults returns a Config with the conventional project layout.
func Defaults() *Config {
	return &Config{
		ProjectRoot: ".",
		DataDir:     "data",
		HistoryDir:  "history",
		StagesDir:   "scripts",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		State: StateConfig{
			Path: ".strata/state.db",
		},
		Backup: BackupConfig{
			Enabled: true,
		},
		Stages: StagesConfig{
			Patterns:      []string{"*.py"},
			PackageMarker: "__init__.py",
			Interpreters: map[string][]string{
				".py": {"python3"},
				".sh": {"/bin/sh"},
			},
			Manifest:    "stages.yaml",
			GracePeriod: 5 * time.Second,
		},
		API: APIConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}

// LockPath returns the PID lock file that guards mutating runs.
func (c *Config) LockPath() string {
	return filepath.Join(filepath.Dir(c.State.Path), "strata.lock")
}

// StageOptions returns the discovery options described by the stages section.
func (c *Config) StageOptions() stage.Options {
	return stage.Options{
		Patterns:       c.Stages.Patterns,
		PackageMarker:  c.Stages.PackageMarker,
		Interpreters:   c.Stages.Interpreters,
		Manifest:       c.Stages.Manifest,
		DefaultTimeout: c.Stages.Timeout,
	}
}
