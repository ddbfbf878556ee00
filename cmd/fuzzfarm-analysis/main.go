// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/fuzzfarm/lib/analysis"
	"github.com/bureau-foundation/fuzzfarm/lib/config"
	"github.com/bureau-foundation/fuzzfarm/lib/logging"
	"github.com/bureau-foundation/fuzzfarm/lib/process"
	"github.com/bureau-foundation/fuzzfarm/lib/resultdb"
	"github.com/bureau-foundation/fuzzfarm/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		shared            config.SharedFlags
		listenAddress     string
		fuzzServerAddress string
		databasePath      string
		workers           int
	)
	flagSet := pflag.NewFlagSet("fuzzfarm-analysis", pflag.ContinueOnError)
	shared.AddFlags(flagSet)
	flagSet.StringVar(&listenAddress, "listen", "", "address trace workers connect to")
	flagSet.StringVar(&fuzzServerAddress, "fuzz-server", "", "fuzz server address")
	flagSet.StringVar(&databasePath, "database", "", "SQLite result database (relative to the work directory)")
	flagSet.IntVar(&workers, "workers", 0, "database worker pool size")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("fuzzfarm-analysis")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := shared.Load(flagSet, config.RoleAnalysis)
	if err != nil {
		return err
	}
	if flagSet.Changed("listen") {
		cfg.Analysis.ListenAddress = listenAddress
	}
	if flagSet.Changed("fuzz-server") {
		cfg.Analysis.FuzzServerAddress = fuzzServerAddress
	}
	if flagSet.Changed("database") {
		cfg.Analysis.DatabasePath = databasePath
	}
	if flagSet.Changed("workers") {
		cfg.Analysis.Workers = workers
	}
	if err := cfg.Validate(config.RoleAnalysis); err != nil {
		return err
	}
	resolved := cfg.Role(config.RoleAnalysis)
	if err := config.EnsureWorkDir(resolved.WorkDir, shared.CreateWorkDir, config.TerminalPrompt()); err != nil {
		return err
	}

	logger := logging.New(logging.Options{Debug: resolved.Debug})
	ctx, stop := process.ShutdownContext()
	defer stop()

	var store resultdb.Store
	if path := cfg.Analysis.DatabaseFile(resolved.WorkDir); path != "" {
		database, err := resultdb.OpenSQLite(ctx, resultdb.SQLiteConfig{
			Path:     path,
			PoolSize: cfg.Analysis.Workers,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		defer database.Close()
		store = database
		logger.Info("opened result database", "path", path)
	} else {
		logger.Warn("no database_path configured, results are kept in memory only")
		store = resultdb.NewMemory()
	}

	server, err := analysis.New(ctx, analysis.Config{
		FuzzServerAddress: cfg.Analysis.FuzzServerAddress,
		ListenAddress:     cfg.Analysis.ListenAddress,
		ReusePort:         cfg.Analysis.ReusePort,
		PollInterval:      resolved.PollInterval,
		Workers:           cfg.Analysis.Workers,
		Store:             store,
		Logger:            logger,
		Debug:             resolved.Debug,
	})
	if err != nil {
		return err
	}

	logger.Info("analysis server starting", "version", version.Info(), "work_dir", resolved.WorkDir)
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("analysis server: %w", err)
	}
	return nil
}
