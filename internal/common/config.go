package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the controller configuration, loaded from conductor.toml
// under the data directory with environment and CLI overrides on top.
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	DataDir     string        `toml:"data_dir"`    // Root directory for database, config and logs
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Logging     LoggingConfig `toml:"logging"`
	Agents      AgentsConfig  `toml:"agents"`
	Project     ProjectConfig `toml:"project"`
	Report      ReportConfig  `toml:"report"`
	Mail        MailConfig    `toml:"mail"`
	Docs        DocsConfig    `toml:"docs"`
	Auth        AuthConfig    `toml:"auth"`
}

type ServerConfig struct {
	Port           int    `toml:"port"`
	Host           string `toml:"host"`
	UnixSocket     string `toml:"unix_socket"`     // When set, listen on a unix socket instead of host:port
	InsecureCookie bool   `toml:"insecure_cookie"` // Allow session cookies over plain HTTP
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// AgentsConfig controls the task runner sync protocol timing.
type AgentsConfig struct {
	SyncDelaySeconds  int `toml:"sync_delay_seconds"`  // Wait hint returned to idle agents
	EagerDelaySeconds int `toml:"eager_delay_seconds"` // Wait hint when work may arrive soon
}

// ProjectConfig carries factory-wide settings that definitions inherit from.
type ProjectConfig struct {
	Name        string   `toml:"name"`
	Targets     []string `toml:"targets"`      // Allowed job targets; empty disables target checks
	MaxPriority int      `toml:"max_priority"` // Upper bound for task priorities; 0 disables priorities
}

type ReportConfig struct {
	RootURL string `toml:"root_url"` // Base URL under which agents publish task reports
}

// MailConfig is a delivery descriptor only; outbound mail is handled by an
// external relay.
type MailConfig struct {
	Sender    string `toml:"sender"`
	SMTPRelay string `toml:"smtp_relay"`
}

type DocsConfig struct {
	Dir string `toml:"dir"` // Path to the documentation bundle
}

type AuthConfig struct {
	Disabled bool `toml:"disabled"` // --no-auth: every request is treated as operator
}

// WarnTimeoutSeconds returns the sync age after which a runner is flagged.
func (a AgentsConfig) WarnTimeoutSeconds() int {
	if t := a.SyncDelaySeconds + 2; t > 7 {
		return t
	}
	return 7
}

// LostTimeoutSeconds returns the sync age after which a runner counts as lost.
func (a AgentsConfig) LostTimeoutSeconds() int {
	if t := a.SyncDelaySeconds*10 + 2; t > 302 {
		return t
	}
	return 302
}

// NewDefaultConfig creates a configuration with default values.
// Only user-facing settings are exposed in conductor.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		DataDir:     "./data",
		Server: ServerConfig{
			Port: 8180,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/db",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Agents: AgentsConfig{
			SyncDelaySeconds:  30,
			EagerDelaySeconds: 5,
		},
		Project: ProjectConfig{
			Name:        "Conductor",
			MaxPriority: 0,
		},
		Docs: DocsConfig{
			Dir: "./docs",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CONDUCTOR_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if dir := os.Getenv("CONDUCTOR_DATA_DIR"); dir != "" {
		config.DataDir = dir
	}
	if port := os.Getenv("CONDUCTOR_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CONDUCTOR_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if badgerPath := os.Getenv("CONDUCTOR_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if level := os.Getenv("CONDUCTOR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("CONDUCTOR_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("CONDUCTOR_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
	if delay := os.Getenv("CONDUCTOR_SYNC_DELAY"); delay != "" {
		if d, err := strconv.Atoi(delay); err == nil {
			config.Agents.SyncDelaySeconds = d
		}
	}
}
