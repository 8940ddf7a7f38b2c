package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultFilename is looked up in the working directory when no path is given.
	DefaultFilename = "strata.yaml"

	envPrefix = "STRATA"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// envOverrides are STRATA_* variables applied after the file is parsed.
type envOverrides struct {
	ProjectRoot string `envconfig:"PROJECT_ROOT"`
	DataDir     string `envconfig:"DATA_DIR"`
	HistoryDir  string `envconfig:"HISTORY_DIR"`
	StagesDir   string `envconfig:"STAGES_DIR"`
	StatePath   string `envconfig:"STATE_PATH"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	LogFormat   string `envconfig:"LOG_FORMAT"`
	Backup      *bool  `envconfig:"BACKUP"`
}

// Load reads configuration from configPath. An empty path yields the defaults
// rooted at the current directory. A directory path is resolved to strata.yaml inside it.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()
	baseDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}
		if info.IsDir() {
			absPath = filepath.Join(absPath, DefaultFilename)
			if _, err := os.Stat(absPath); err != nil {
				return nil, fmt.Errorf("directory provided but %s not found: %s", DefaultFilename, absPath)
			}
		}

		if err := verifyConfigHash(absPath); err != nil {
			return nil, err
		}
		if err := loadConfigFile(absPath, cfg); err != nil {
			return nil, err
		}
		cfg.SourcePath = absPath
		baseDir = filepath.Dir(absPath)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	resolvePaths(cfg, baseDir)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadConfigFile parses path on top of the defaults already held by cfg.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	dec := yaml.NewDecoder(strings.NewReader(interpolated))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	var ov envOverrides
	if err := envconfig.Process(envPrefix, &ov); err != nil {
		return fmt.Errorf("failed to load config from env: %w", err)
	}

	if ov.ProjectRoot != "" {
		cfg.ProjectRoot = ov.ProjectRoot
	}
	if ov.DataDir != "" {
		cfg.DataDir = ov.DataDir
	}
	if ov.HistoryDir != "" {
		cfg.HistoryDir = ov.HistoryDir
	}
	if ov.StagesDir != "" {
		cfg.StagesDir = ov.StagesDir
	}
	if ov.StatePath != "" {
		cfg.State.Path = ov.StatePath
	}
	if ov.LogLevel != "" {
		cfg.Log.Level = ov.LogLevel
	}
	if ov.LogFormat != "" {
		cfg.Log.Format = ov.LogFormat
	}
	if ov.Backup != nil {
		cfg.Backup.Enabled = *ov.Backup
	}
	return nil
}

// resolvePaths anchors project_root on baseDir and every other path on project_root.
func resolvePaths(cfg *Config, baseDir string) {
	cfg.ProjectRoot = anchor(baseDir, cfg.ProjectRoot)
	cfg.DataDir = anchor(cfg.ProjectRoot, cfg.DataDir)
	cfg.HistoryDir = anchor(cfg.ProjectRoot, cfg.HistoryDir)
	cfg.StagesDir = anchor(cfg.ProjectRoot, cfg.StagesDir)
	cfg.State.Path = anchor(cfg.ProjectRoot, cfg.State.Path)
}

// ResolveStagesDir applies the same anchoring rule to a --stages-dir override.
func (c *Config) ResolveStagesDir(dir string) string {
	return anchor(c.ProjectRoot, dir)
}

func anchor(base, path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(base, path))
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", cfg.Log.Level)
	}
	if f := strings.ToLower(cfg.Log.Format); f != "text" && f != "json" {
		return fmt.Errorf("log.format must be text or json (got %q)", cfg.Log.Format)
	}

	for field, value := range map[string]string{
		"data_dir":    cfg.DataDir,
		"history_dir": cfg.HistoryDir,
		"stages_dir":  cfg.StagesDir,
		"state.path":  cfg.State.Path,
	} {
		if value == "" {
			return fmt.Errorf("%s is required", field)
		}
		if envVarPattern.MatchString(value) {
			matches := envVarPattern.FindStringSubmatch(value)
			return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
		}
	}

	if cfg.HistoryDir == cfg.DataDir {
		return fmt.Errorf("history_dir must differ from data_dir (%s)", cfg.DataDir)
	}
	if IsWithin(cfg.DataDir, cfg.HistoryDir) {
		return fmt.Errorf("history_dir %s must not be inside data_dir %s", cfg.HistoryDir, cfg.DataDir)
	}

	if len(cfg.Stages.Patterns) == 0 {
		return fmt.Errorf("stages.patterns must be non-empty")
	}
	for i, pattern := range cfg.Stages.Patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("stages.patterns[%d]: invalid pattern %q: %w", i, pattern, err)
		}
	}
	for ext, argv := range cfg.Stages.Interpreters {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("stages.interpreters: key %q must be a file extension starting with '.'", ext)
		}
		if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
			return fmt.Errorf("stages.interpreters[%s]: command is required", ext)
		}
	}
	if cfg.Stages.Timeout < 0 {
		return fmt.Errorf("stages.timeout must not be negative")
	}
	if cfg.Stages.GracePeriod <= 0 {
		return fmt.Errorf("stages.grace_period must be positive")
	}
	if cfg.Schedule.Jitter < 0 {
		return fmt.Errorf("schedule.jitter must not be negative")
	}

	return nil
}

// IsWithin reports whether path is root itself or lies underneath it.
func IsWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
