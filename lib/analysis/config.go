// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/fuzzfarm/lib/clock"
	"github.com/bureau-foundation/fuzzfarm/lib/reliable"
	"github.com/bureau-foundation/fuzzfarm/lib/resultdb"
	"github.com/bureau-foundation/fuzzfarm/transport"
)

// DefaultWorkers is the store worker pool size used for a zero
// Config.Workers.
const DefaultWorkers = 4

// Config describes one analysis server.
type Config struct {
	// FuzzServerAddress is the fuzz server to consume from.
	FuzzServerAddress string
	Dialer            transport.Dialer

	// ListenAddress is where trace workers connect.
	ListenAddress string
	ReusePort     bool

	PollInterval time.Duration
	Workers      int

	Store resultdb.Store

	Clock   clock.Clock
	Counter *reliable.AckCounter
	Logger  *slog.Logger
	Debug   bool
}

func (c Config) validate() error {
	var errs []error
	if c.FuzzServerAddress == "" {
		errs = append(errs, errors.New("fuzz server address is required"))
	}
	if c.ListenAddress == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Dialer == nil {
		c.Dialer = &transport.TCPDialer{Timeout: c.PollInterval}
	}
	if c.Counter == nil {
		c.Counter = reliable.NewAckCounter()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}
