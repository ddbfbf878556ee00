// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzserver

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/fuzzfarm/lib/clock"
	"github.com/bureau-foundation/fuzzfarm/lib/reliable"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultReportInterval  = 30 * time.Second
	DefaultGraceDelay      = 10 * time.Second
	DefaultBacklogCapacity = 1000
	DefaultWorkers         = 4
)

// StateFileName is the snapshot written into WorkDir at shutdown.
const StateFileName = "fuzzserver-state.cbor"

// Config describes one fuzz server.
type Config struct {
	// ListenAddress is bound by New, e.g. ":10001".
	ListenAddress string
	ReusePort     bool

	PollInterval   time.Duration
	ReportInterval time.Duration
	GraceDelay     time.Duration

	// BacklogCapacity bounds the test-case backlog. Producers beyond
	// it wait for their ack.
	BacklogCapacity int
	Workers         int

	// ExitWhenDrained stops the server, after a server_bye broadcast
	// and GraceDelay, once every producer has said bye and every case
	// has a result.
	ExitWhenDrained bool

	// WorkDir receives the final snapshot. Empty skips it.
	WorkDir string

	CheckpointEvery int

	Clock   clock.Clock
	Counter *reliable.AckCounter
	Logger  *slog.Logger
	Debug   bool
}

func (c Config) validate() error {
	var errs []error
	if c.ListenAddress == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.ReportInterval < 0 {
		errs = append(errs, fmt.Errorf("report interval must not be negative, got %s", c.ReportInterval))
	}
	if c.GraceDelay < 0 {
		errs = append(errs, fmt.Errorf("grace delay must not be negative, got %s", c.GraceDelay))
	}
	if c.BacklogCapacity < 0 {
		errs = append(errs, fmt.Errorf("backlog capacity must not be negative, got %d", c.BacklogCapacity))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	if c.ReportInterval == 0 {
		c.ReportInterval = DefaultReportInterval
	}
	if c.GraceDelay == 0 {
		c.GraceDelay = DefaultGraceDelay
	}
	if c.BacklogCapacity == 0 {
		c.BacklogCapacity = DefaultBacklogCapacity
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Counter == nil {
		c.Counter = reliable.NewAckCounter()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}
