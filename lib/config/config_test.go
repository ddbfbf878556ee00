// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaultsWithoutFile(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv("HOME", "/home/fuzz")

	config, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	server := config.Role(RoleServer)
	if server.PollInterval != 60*time.Second {
		t.Errorf("server poll interval = %s, want 60s", server.PollInterval)
	}
	if server.WorkDir != "/home/fuzz/fuzzserver" {
		t.Errorf("server work dir = %q", server.WorkDir)
	}
	if analysis := config.Role(RoleAnalysis); analysis.PollInterval != 300*time.Second {
		t.Errorf("analysis poll interval = %s, want 300s", analysis.PollInterval)
	}
	if config.Server.ListenAddress != "0.0.0.0:10001" || config.Analysis.ListenAddress != "0.0.0.0:10002" {
		t.Errorf("listen addresses = %q, %q", config.Server.ListenAddress, config.Analysis.ListenAddress)
	}
	if err := config.Validate(RoleServer); err != nil {
		t.Errorf("Validate(server) on defaults: %v", err)
	}
}

func TestYAMLRoleOverrides(t *testing.T) {
	t.Setenv("HOME", "/home/fuzz")
	path := writeConfig(t, "fuzzfarm.yaml", `
poll_interval_seconds: 5
work_dir: /srv/fuzz
debug: true
server:
  poll_interval_seconds: 2.5
  backlog_capacity: 50
  exit_when_drained: true
analysis:
  work_dir: ${FUZZ_ANALYSIS_DIR:-/srv/analysis}
  database_path: crashes.db
`)
	config, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	server := config.Role(RoleServer)
	if server.PollInterval != 2500*time.Millisecond || server.WorkDir != "/srv/fuzz" || !server.Debug {
		t.Errorf("server = %+v", server)
	}
	if config.Server.BacklogCapacity != 50 || !config.Server.ExitWhenDrained {
		t.Errorf("server section = %+v", config.Server)
	}
	if config.Server.Workers != 4 {
		t.Errorf("server workers = %d, want the default 4", config.Server.Workers)
	}

	production := config.Role(RoleProduction)
	if production.PollInterval != 5*time.Second || production.WorkDir != "/srv/fuzz" {
		t.Errorf("production = %+v", production)
	}

	analysis := config.Role(RoleAnalysis)
	if analysis.WorkDir != "/srv/analysis" {
		t.Errorf("analysis work dir = %q, want /srv/analysis", analysis.WorkDir)
	}
	if got := config.Analysis.DatabaseFile(analysis.WorkDir); got != "/srv/analysis/crashes.db" {
		t.Errorf("DatabaseFile = %q", got)
	}
}

func TestJSONCConfig(t *testing.T) {
	path := writeConfig(t, "fuzzfarm.jsonc", `{
  // shared
  "poll_interval_seconds": 7,
  "production": {
    "server_address": "fuzz.example:10001",
    "template_path": "/tmp/template.doc", /* trailing comma next */
  },
}`)
	config, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if config.Production.ServerAddress != "fuzz.example:10001" {
		t.Errorf("server_address = %q", config.Production.ServerAddress)
	}
	if got := config.Role(RoleProduction).PollInterval; got != 7*time.Second {
		t.Errorf("poll interval = %s, want 7s", got)
	}
	if err := config.Validate(RoleProduction); err != nil {
		t.Errorf("Validate(production): %v", err)
	}
}

func TestLoadUsesEnvironmentVariable(t *testing.T) {
	path := writeConfig(t, "fuzzfarm.yaml", "server:\n  listen_address: 127.0.0.1:9999\n")
	t.Setenv(EnvConfig, path)
	config, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if config.Server.ListenAddress != "127.0.0.1:9999" {
		t.Errorf("listen_address = %q", config.Server.ListenAddress)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile of a missing file succeeded")
	}
	bad := writeConfig(t, "bad.yaml", "server: [unclosed\n")
	if _, err := LoadFile(bad); err == nil {
		t.Error("LoadFile of malformed YAML succeeded")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	config := Default()
	config.Production.ServerAddress = ""
	negative := -1.0
	config.Production.PollIntervalSeconds = &negative

	err := config.Validate(RoleProduction)
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, want := range []string{"poll_interval_seconds", "server_address", "template_path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}

	if err := config.Validate(Role("tracer")); err == nil || !strings.Contains(err.Error(), "unknown role") {
		t.Errorf("Validate(unknown) = %v", err)
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("FUZZ_SET", "value")
	tests := []struct{ in, want string }{
		{"${FUZZ_SET}/x", "value/x"},
		{"${FUZZ_UNSET:-fallback}", "fallback"},
		{"${FUZZ_SET:-fallback}", "value"},
		{"${FUZZ_UNSET}", ""},
		{"plain", "plain"},
	}
	for _, test := range tests {
		if got := expandVars(test.in); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}
