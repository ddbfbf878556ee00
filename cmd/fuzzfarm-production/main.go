// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/fuzzfarm/lib/config"
	"github.com/bureau-foundation/fuzzfarm/lib/logging"
	"github.com/bureau-foundation/fuzzfarm/lib/process"
	"github.com/bureau-foundation/fuzzfarm/lib/production"
	"github.com/bureau-foundation/fuzzfarm/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		shared        config.SharedFlags
		serverAddress string
		stationID     string
		queue         string
		templatePath  string
		casesDir      string
		sweepOffset   int
		sweepLength   int
	)
	flagSet := pflag.NewFlagSet("fuzzfarm-production", pflag.ContinueOnError)
	shared.AddFlags(flagSet)
	flagSet.StringVar(&serverAddress, "server", "", "fuzz server address")
	flagSet.StringVar(&stationID, "station-id", "", "producer identity (default: a random UUID)")
	flagSet.StringVar(&queue, "queue", "", "queue name carried on every test case")
	flagSet.StringVar(&templatePath, "template", "", "template file")
	flagSet.StringVar(&casesDir, "cases", "", "send every file in this directory instead of sweeping the template")
	flagSet.IntVar(&sweepOffset, "sweep-offset", 0, "first template byte to sweep")
	flagSet.IntVar(&sweepLength, "sweep-length", -1, "number of template bytes to sweep (-1: to the end)")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("fuzzfarm-production")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := shared.Load(flagSet, config.RoleProduction)
	if err != nil {
		return err
	}
	if flagSet.Changed("server") {
		cfg.Production.ServerAddress = serverAddress
	}
	if flagSet.Changed("station-id") {
		cfg.Production.StationID = stationID
	}
	if flagSet.Changed("queue") {
		cfg.Production.Queue = queue
	}
	if flagSet.Changed("template") {
		cfg.Production.TemplatePath = templatePath
	}
	if err := cfg.Validate(config.RoleProduction); err != nil {
		return err
	}
	resolved := cfg.Role(config.RoleProduction)
	if err := config.EnsureWorkDir(resolved.WorkDir, shared.CreateWorkDir, config.TerminalPrompt()); err != nil {
		return err
	}
	if cfg.Production.StationID == "" {
		cfg.Production.StationID = uuid.NewString()
	}

	template, err := os.ReadFile(cfg.Production.TemplatePath)
	if err != nil {
		return fmt.Errorf("reading template: %w", err)
	}
	var generator production.Generator
	if casesDir != "" {
		cases, err := readCases(casesDir)
		if err != nil {
			return err
		}
		generator = production.NewSlice(cases...)
	} else {
		generator = production.NewByteSweep(template, sweepOffset, sweepLength, nil)
	}

	logger := logging.New(logging.Options{Debug: resolved.Debug})
	ctx, stop := process.ShutdownContext()
	defer stop()

	client, err := production.New(production.Config{
		ServerAddress: cfg.Production.ServerAddress,
		StationID:     cfg.Production.StationID,
		Queue:         cfg.Production.Queue,
		Template:      template,
		Generator:     generator,
		PollInterval:  resolved.PollInterval,
		Logger:        logger,
		Debug:         resolved.Debug,
	})
	if err != nil {
		return err
	}
	logger.Info("production client starting",
		"version", version.Info(),
		"station_id", cfg.Production.StationID,
		"template", cfg.Production.TemplatePath,
	)
	if err := client.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("interrupted", "sent", client.Sent(), "state", client.State())
			return nil
		}
		return err
	}
	return nil
}

// readCases loads every regular file in dir, sorted by name.
func readCases(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading test cases: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var cases [][]byte
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading test case: %w", err)
		}
		cases = append(cases, data)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("no test cases in %s", dir)
	}
	return cases, nil
}
