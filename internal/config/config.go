package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sokinpui/revise/internal/fs"
	"github.com/sokinpui/revise/internal/logging"
	"github.com/sokinpui/revise/internal/pathsafe"
)

const fileName = "config.yaml"

// Config is the full runtime configuration.
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Safety   SafetyConfig   `yaml:"safety"`
	Backup   BackupConfig   `yaml:"backup"`
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
}

type ModelConfig struct {
	Name        string        `yaml:"name"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Temperature *float32      `yaml:"temperature"`
}

type PipelineConfig struct {
	// Parallel is the number of operations synthesized at once. 0 or 1
	// means sequential.
	Parallel      int      `yaml:"parallel"`
	MaxFiles      int      `yaml:"max_files"`
	MaxCandidates int      `yaml:"max_candidates"`
	IgnoreGlobs   []string `yaml:"ignore_globs"`
}

// SafetyConfig controls the path validator and the security gate.
// DenyDirs is additive: node_modules, .git and .revise are always protected.
type SafetyConfig struct {
	Strict    bool     `yaml:"strict"`
	AutoPatch bool     `yaml:"auto_patch"`
	DenyDirs  []string `yaml:"deny_dirs"`
	DenyGlobs []string `yaml:"deny_globs"`
}

type BackupConfig struct {
	Dir  string `yaml:"dir"`
	Keep bool   `yaml:"keep"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Name:       "gemini-2.5-flash",
			Timeout:    120 * time.Second,
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
		Pipeline: PipelineConfig{
			Parallel:      1,
			MaxFiles:      500,
			MaxCandidates: 10,
			IgnoreGlobs:   []string{"**/vendor/**", "**/dist/**", "**/build/**"},
		},
		Safety: SafetyConfig{
			DenyDirs: pathsafe.WithDefaults(nil),
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(fs.ToolDir, "revise.log"),
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8787",
		},
	}
}

// Load builds the configuration for the project at root: defaults, then the
// global file, then <root>/.revise/config.yaml, then explicitPath (if set),
// then environment variables. Missing files are skipped.
func Load(root, explicitPath string) (*Config, error) {
	cfg := DefaultConfig()

	paths := []string{GlobalPath(), filepath.Join(root, fs.ToolDir, fileName)}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := loadFromFile(cfg, p); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	if explicitPath != "" {
		if err := loadFromFile(cfg, explicitPath); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", explicitPath, err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}
	cfg.resolvePaths(root)
	return cfg, nil
}

// GlobalPath returns the user-level config file path.
func GlobalPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "revise", fileName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "revise", fileName)
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if info, statErr := os.Stat(path); statErr == nil {
		if mode := info.Mode().Perm(); mode&0077 != 0 && strings.Contains(string(data), "api_key") {
			logging.Warn("config file with an API key is readable by others",
				"path", path,
				"mode", fmt.Sprintf("%04o", mode),
				"recommended", "0600")
		}
	}

	expanded := expandSafeEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	logging.Debug("loaded config file", "path", path)
	return nil
}

// safeEnvVars may be expanded inside config files. Anything else, API keys
// in particular, is left as written.
var safeEnvVars = map[string]bool{
	"HOME":            true,
	"USER":            true,
	"XDG_CONFIG_HOME": true,
	"XDG_DATA_HOME":   true,
	"XDG_CACHE_HOME":  true,
	"XDG_STATE_HOME":  true,
	"TMPDIR":          true,
	"PWD":             true,
}

func expandSafeEnvVars(data string) string {
	return os.Expand(data, func(key string) string {
		if safeEnvVars[key] {
			return os.Getenv(key)
		}
		return "${" + key + "}"
	})
}

func loadFromEnv(cfg *Config) error {
	for _, env := range []string{"REVISE_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if key := os.Getenv(env); key != "" {
			cfg.Model.APIKey = key
			break
		}
	}
	if model := os.Getenv("REVISE_MODEL"); model != "" {
		cfg.Model.Name = model
	}
	if level := os.Getenv("REVISE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if v := os.Getenv("REVISE_TIMEOUT"); v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return fmt.Errorf("invalid REVISE_TIMEOUT %q: %w", v, err)
		}
		cfg.Model.Timeout = d
	}
	return nil
}

// parseTimeout accepts a Go duration or a plain number of seconds.
func parseTimeout(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func (c *Config) resolvePaths(root string) {
	c.Safety.DenyDirs = pathsafe.WithDefaults(c.Safety.DenyDirs)
	if c.Backup.Dir == "" {
		c.Backup.Dir = fs.DefaultBackupDir(root)
	} else if !filepath.IsAbs(c.Backup.Dir) {
		c.Backup.Dir = filepath.Join(root, c.Backup.Dir)
	}
	if c.Logging.File != "" && !filepath.IsAbs(c.Logging.File) {
		c.Logging.File = filepath.Join(root, c.Logging.File)
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Model.Timeout <= 0 {
		errs = append(errs, errors.New("model.timeout must be positive"))
	}
	if c.Model.MaxRetries < 0 {
		errs = append(errs, errors.New("model.max_retries must not be negative"))
	}
	if c.Pipeline.Parallel < 0 {
		errs = append(errs, errors.New("pipeline.parallel must not be negative"))
	}
	if c.Pipeline.MaxFiles < 0 || c.Pipeline.MaxCandidates < 0 {
		errs = append(errs, errors.New("pipeline.max_files and pipeline.max_candidates must not be negative"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown logging.level %q", c.Logging.Level))
	}
	return errors.Join(errs...)
}
