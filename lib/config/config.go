// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable consulted when no --config
// flag is given.
const EnvConfig = "FUZZFARM_CONFIG"

// Role selects a per-role section.
type Role string

const (
	RoleProduction Role = "production"
	RoleServer     Role = "server"
	RoleAnalysis   Role = "analysis"
)

// Shared holds settings every role has. In a role section each field
// is optional and overrides the top-level value.
type Shared struct {
	PollIntervalSeconds *float64 `yaml:"poll_interval_seconds,omitempty" json:"poll_interval_seconds,omitempty"`
	WorkDir             *string  `yaml:"work_dir,omitempty" json:"work_dir,omitempty"`
	Debug               *bool    `yaml:"debug,omitempty" json:"debug,omitempty"`
}

// Config is the whole configuration file.
type Config struct {
	Shared `yaml:",inline"`

	Production ProductionConfig `yaml:"production" json:"production"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Analysis   AnalysisConfig   `yaml:"analysis" json:"analysis"`
}

// ProductionConfig configures the production client.
type ProductionConfig struct {
	Shared `yaml:",inline"`

	// ServerAddress is the fuzz server, "host:port".
	ServerAddress string `yaml:"server_address" json:"server_address"`

	// StationID identifies this producer. Empty means a random UUID.
	StationID string `yaml:"station_id" json:"station_id"`

	Queue        string `yaml:"queue" json:"queue"`
	TemplatePath string `yaml:"template_path" json:"template_path"`
}

// ServerConfig configures the fuzz server.
type ServerConfig struct {
	Shared `yaml:",inline"`

	ListenAddress         string  `yaml:"listen_address" json:"listen_address"`
	ReusePort             bool    `yaml:"reuse_port" json:"reuse_port"`
	BacklogCapacity       int     `yaml:"backlog_capacity" json:"backlog_capacity"`
	Workers               int     `yaml:"workers" json:"workers"`
	ReportIntervalSeconds float64 `yaml:"report_interval_seconds" json:"report_interval_seconds"`
	GraceDelaySeconds     float64 `yaml:"grace_delay_seconds" json:"grace_delay_seconds"`
	ExitWhenDrained       bool    `yaml:"exit_when_drained" json:"exit_when_drained"`
}

// AnalysisConfig configures the analysis server.
type AnalysisConfig struct {
	Shared `yaml:",inline"`

	ListenAddress     string `yaml:"listen_address" json:"listen_address"`
	ReusePort         bool   `yaml:"reuse_port" json:"reuse_port"`
	FuzzServerAddress string `yaml:"fuzz_server_address" json:"fuzz_server_address"`
	Workers           int    `yaml:"workers" json:"workers"`

	// DatabasePath is the SQLite result database. Relative paths are
	// inside the work directory.
	DatabasePath string `yaml:"database_path" json:"database_path"`
}

// Resolved is the shared settings of one role after overrides.
type Resolved struct {
	PollInterval time.Duration
	WorkDir      string
	Debug        bool
}

// roleDefaults are the shared settings a role has before the file's
// top-level and section values are applied.
var roleDefaults = map[Role]Resolved{
	RoleProduction: {PollInterval: 60 * time.Second, WorkDir: "${HOME}/prodclient"},
	RoleServer:     {PollInterval: 60 * time.Second, WorkDir: "${HOME}/fuzzserver"},
	RoleAnalysis:   {PollInterval: 300 * time.Second, WorkDir: "${HOME}/analysisserver"},
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Production: ProductionConfig{
			ServerAddress: "127.0.0.1:10001",
			Queue:         "default",
		},
		Server: ServerConfig{
			ListenAddress:         "0.0.0.0:10001",
			BacklogCapacity:       1000,
			Workers:               4,
			ReportIntervalSeconds: 30,
			GraceDelaySeconds:     10,
		},
		Analysis: AnalysisConfig{
			ListenAddress:     "0.0.0.0:10002",
			FuzzServerAddress: "127.0.0.1:10001",
			Workers:           4,
			DatabasePath:      "results.db",
		},
	}
}

// Load reads the file at path, or the file named by FUZZFARM_CONFIG
// when path is empty. With neither, it returns Default.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		config := Default()
		config.expandVariables()
		return config, nil
	}
	return LoadFile(path)
}

// LoadFile reads the file at path over Default.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	config := Default()
	if err := config.parse(path, data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	config.expandVariables()
	return config, nil
}

func (c *Config) parse(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return json.Unmarshal(jsonc.ToJSON(data), c)
	default:
		return yaml.Unmarshal(data, c)
	}
}

// Role returns the shared settings of role: its defaults, then the
// top-level values, then the role's own section.
func (c *Config) Role(role Role) Resolved {
	resolved := roleDefaults[role]
	apply := func(shared Shared) {
		if shared.PollIntervalSeconds != nil {
			resolved.PollInterval = seconds(*shared.PollIntervalSeconds)
		}
		if shared.WorkDir != nil {
			resolved.WorkDir = *shared.WorkDir
		}
		if shared.Debug != nil {
			resolved.Debug = *shared.Debug
		}
	}
	apply(c.Shared)
	switch role {
	case RoleProduction:
		apply(c.Production.Shared)
	case RoleServer:
		apply(c.Server.Shared)
	case RoleAnalysis:
		apply(c.Analysis.Shared)
	}
	resolved.WorkDir = expandVars(resolved.WorkDir)
	return resolved
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}

// ReportInterval returns the fuzz server's report interval.
func (s ServerConfig) ReportInterval() time.Duration { return seconds(s.ReportIntervalSeconds) }

// GraceDelay returns the fuzz server's shutdown grace delay.
func (s ServerConfig) GraceDelay() time.Duration { return seconds(s.GraceDelaySeconds) }

// DatabaseFile returns DatabasePath, resolved against workDir when
// relative.
func (a AnalysisConfig) DatabaseFile(workDir string) string {
	if a.DatabasePath == "" || filepath.IsAbs(a.DatabasePath) {
		return a.DatabasePath
	}
	return filepath.Join(workDir, a.DatabasePath)
}

func (c *Config) expandVariables() {
	c.Production.TemplatePath = expandVars(c.Production.TemplatePath)
	c.Analysis.DatabasePath = expandVars(c.Analysis.DatabasePath)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the settings role needs and reports every problem.
func (c *Config) Validate(role Role) error {
	var errs []error
	resolved := c.Role(role)
	if resolved.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s: poll_interval_seconds must be positive", role))
	}
	if resolved.WorkDir == "" {
		errs = append(errs, fmt.Errorf("%s: work_dir is required", role))
	}

	switch role {
	case RoleProduction:
		if c.Production.ServerAddress == "" {
			errs = append(errs, errors.New("production: server_address is required"))
		}
		if c.Production.TemplatePath == "" {
			errs = append(errs, errors.New("production: template_path is required"))
		}
	case RoleServer:
		if c.Server.ListenAddress == "" {
			errs = append(errs, errors.New("server: listen_address is required"))
		}
		if c.Server.BacklogCapacity < 0 {
			errs = append(errs, fmt.Errorf("server: backlog_capacity must not be negative, got %d", c.Server.BacklogCapacity))
		}
		if c.Server.Workers < 0 {
			errs = append(errs, fmt.Errorf("server: workers must not be negative, got %d", c.Server.Workers))
		}
		if c.Server.ReportIntervalSeconds < 0 {
			errs = append(errs, errors.New("server: report_interval_seconds must not be negative"))
		}
		if c.Server.GraceDelaySeconds < 0 {
			errs = append(errs, errors.New("server: grace_delay_seconds must not be negative"))
		}
	case RoleAnalysis:
		if c.Analysis.ListenAddress == "" {
			errs = append(errs, errors.New("analysis: listen_address is required"))
		}
		if c.Analysis.FuzzServerAddress == "" {
			errs = append(errs, errors.New("analysis: fuzz_server_address is required"))
		}
		if c.Analysis.Workers < 0 {
			errs = append(errs, fmt.Errorf("analysis: workers must not be negative, got %d", c.Analysis.Workers))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown role %q", role))
	}
	return errors.Join(errs...)
}
