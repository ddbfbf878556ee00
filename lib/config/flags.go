// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// SharedFlags are the command-line flags every binary accepts.
type SharedFlags struct {
	ConfigPath          string
	Debug               bool
	PollIntervalSeconds float64
	WorkDir             string
	CreateWorkDir       bool
}

// AddFlags registers the shared flags on flagSet.
func (f *SharedFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.ConfigPath, "config", "", "configuration file (default: $"+EnvConfig+")")
	flagSet.BoolVar(&f.Debug, "debug", false, "log every message sent and received")
	flagSet.Float64Var(&f.PollIntervalSeconds, "poll-interval", 0, "seconds to wait for an ack or between heartbeats")
	flagSet.StringVar(&f.WorkDir, "work-dir", "", "work directory")
	flagSet.BoolVar(&f.CreateWorkDir, "create-work-dir", false, "create the work directory without asking")
}

// Load reads the configuration file and applies the shared flags the
// user set on top of role's section.
func (f *SharedFlags) Load(flagSet *pflag.FlagSet, role Role) (*Config, error) {
	config, err := Load(f.ConfigPath)
	if err != nil {
		return nil, err
	}
	section := config.section(role)
	if section == nil {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if flagSet.Changed("debug") {
		section.Debug = &f.Debug
	}
	if flagSet.Changed("poll-interval") {
		section.PollIntervalSeconds = &f.PollIntervalSeconds
	}
	if flagSet.Changed("work-dir") {
		section.WorkDir = &f.WorkDir
	}
	return config, nil
}

func (c *Config) section(role Role) *Shared {
	switch role {
	case RoleProduction:
		return &c.Production.Shared
	case RoleServer:
		return &c.Server.Shared
	case RoleAnalysis:
		return &c.Analysis.Shared
	}
	return nil
}
