// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/fuzzfarm/lib/config"
	"github.com/bureau-foundation/fuzzfarm/lib/fuzzserver"
	"github.com/bureau-foundation/fuzzfarm/lib/logging"
	"github.com/bureau-foundation/fuzzfarm/lib/process"
	"github.com/bureau-foundation/fuzzfarm/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		shared          config.SharedFlags
		listenAddress   string
		backlog         int
		workers         int
		exitWhenDrained bool
	)
	flagSet := pflag.NewFlagSet("fuzzfarm-server", pflag.ContinueOnError)
	shared.AddFlags(flagSet)
	flagSet.StringVar(&listenAddress, "listen", "", "address to accept producers, agents and the analysis server on")
	flagSet.IntVar(&backlog, "backlog", 0, "maximum queued test cases before producers are held back")
	flagSet.IntVar(&workers, "workers", 0, "enqueue worker pool size")
	flagSet.BoolVar(&exitWhenDrained, "exit-when-drained", false, "stop once every producer is done and every case has a result")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("fuzzfarm-server")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := shared.Load(flagSet, config.RoleServer)
	if err != nil {
		return err
	}
	if flagSet.Changed("listen") {
		cfg.Server.ListenAddress = listenAddress
	}
	if flagSet.Changed("backlog") {
		cfg.Server.BacklogCapacity = backlog
	}
	if flagSet.Changed("workers") {
		cfg.Server.Workers = workers
	}
	if flagSet.Changed("exit-when-drained") {
		cfg.Server.ExitWhenDrained = exitWhenDrained
	}
	if err := cfg.Validate(config.RoleServer); err != nil {
		return err
	}
	resolved := cfg.Role(config.RoleServer)
	if err := config.EnsureWorkDir(resolved.WorkDir, shared.CreateWorkDir, config.TerminalPrompt()); err != nil {
		return err
	}

	logger := logging.New(logging.Options{Debug: resolved.Debug})
	ctx, stop := process.ShutdownContext()
	defer stop()

	server, err := fuzzserver.New(ctx, fuzzserver.Config{
		ListenAddress:   cfg.Server.ListenAddress,
		ReusePort:       cfg.Server.ReusePort,
		PollInterval:    resolved.PollInterval,
		ReportInterval:  cfg.Server.ReportInterval(),
		GraceDelay:      cfg.Server.GraceDelay(),
		BacklogCapacity: cfg.Server.BacklogCapacity,
		Workers:         cfg.Server.Workers,
		ExitWhenDrained: cfg.Server.ExitWhenDrained,
		WorkDir:         resolved.WorkDir,
		Logger:          logger,
		Debug:           resolved.Debug,
	})
	if err != nil {
		return err
	}
	process.OnHangup(ctx, server.ResetProducers)

	logger.Info("fuzz server starting",
		"version", version.Info(),
		"poll_interval", resolved.PollInterval.Round(time.Millisecond),
		"work_dir", resolved.WorkDir,
	)
	return server.Run(ctx)
}
