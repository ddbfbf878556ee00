// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"

	"github.com/bureau-foundation/fuzzfarm/lib/clock"
	"github.com/bureau-foundation/fuzzfarm/lib/dispatch"
	"github.com/bureau-foundation/fuzzfarm/lib/eventloop"
	"github.com/bureau-foundation/fuzzfarm/lib/fuzzproto"
	"github.com/bureau-foundation/fuzzfarm/lib/peer"
	"github.com/bureau-foundation/fuzzfarm/lib/results"
	"github.com/bureau-foundation/fuzzfarm/lib/statefile"
	"github.com/bureau-foundation/fuzzfarm/lib/wire"
	"github.com/bureau-foundation/fuzzfarm/lib/workpool"
	"github.com/bureau-foundation/fuzzfarm/transport"
)

// Server is a fuzz server. New binds the listener; Run serves until
// ctx ends or the server drains.
type Server struct {
	config   Config
	logger   *slog.Logger
	listener *transport.TCPListener
	loop     *eventloop.Loop
	pool     *workpool.Pool
	tracker  *results.Tracker

	cases *dispatch.Exchange[WorkItem]
	feed  *dispatch.Exchange[wire.Message]

	// Loop-owned.
	conns       map[string]*conn
	templates   map[string][]byte
	producers   map[string]bool // station id -> said bye
	enqueuing   int
	draining    bool
	reportTimer *clock.Timer

	// outstanding holds every delivered case still CHECKED_OUT, by
	// result id, whichever connection it was sent on. A result is
	// forwarded from here, so a report that arrives on a new
	// connection or after a requeue still carries its test case.
	outstanding map[uint64]WorkItem

	// feedInFlight counts feed messages sent to analysis and not yet
	// acked. Once an analysis peer has asked for the feed, draining
	// waits for it to empty.
	feedInFlight int
	analysisSeen bool
}

// conn is the server's view of one accepted connection.
type conn struct {
	peer      *peer.Peer
	kind      string
	stationID string
	startups  int

	// lastCaseID is the producer's most recent new_test_case id;
	// enqueuing counts cases still waiting for backlog room.
	// readySent is set from a server_ready until the next case.
	lastCaseID int64
	enqueuing  int
	readySent  bool
	finished   bool

	// sent holds agent deliveries awaiting their ack, by ack id.
	// running holds acked cases awaiting a result, by result id.
	sent    map[uint64]WorkItem
	running map[uint64]WorkItem
}

func (c *conn) channelOpen() bool {
	return !c.peer.Channel().Closed()
}

// New validates config and binds the listening socket.
func New(ctx context.Context, config Config) (*Server, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("fuzz server config: %w", err)
	}
	config.applyDefaults()

	listener, err := transport.NewTCPListener(ctx, config.ListenAddress, transport.ListenOptions{ReusePort: config.ReusePort})
	if err != nil {
		return nil, fmt.Errorf("binding fuzz server: %w", err)
	}

	logger := config.Logger.With("component", "FuzzServer")
	return &Server{
		config:    config,
		logger:    logger,
		listener:  listener,
		loop:      eventloop.New(),
		pool:      workpool.New(config.Workers, config.Workers*4, logger),
		tracker:   results.NewTracker(config.Clock, config.CheckpointEvery),
		cases:     dispatch.New[WorkItem]("test-cases", config.BacklogCapacity, logger),
		feed:      dispatch.New[wire.Message]("analysis-feed", 0, logger),
		conns:     make(map[string]*conn),
		templates: make(map[string][]byte),
		producers: make(map[string]bool),

		outstanding: make(map[uint64]WorkItem),
	}, nil
}

// Address returns the bound listen address.
func (s *Server) Address() string {
	return s.listener.Address()
}

// Tracker returns the result ledger. Safe from any goroutine.
func (s *Server) Tracker() *results.Tracker {
	return s.tracker
}

// Run accepts connections until ctx ends or, with ExitWhenDrained, the
// campaign finishes. Both are a clean shutdown and return nil; the
// final snapshot is logged and written to WorkDir either way.
func (s *Server) Run(ctx context.Context) error {
	serveCtx, stopServing := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() {
		served <- s.listener.Serve(serveCtx, s.accept)
	}()

	s.logger.Info("listening", "address", s.Address(), "backlog_capacity", s.config.BacklogCapacity)
	s.loop.Post(s.scheduleReport)
	s.loop.Run(ctx)

	stopServing()
	serveErr := <-served

	// The loop has stopped, so its state is ours now.
	if s.reportTimer != nil {
		s.reportTimer.Stop()
	}
	for _, c := range s.conns {
		c.peer.Close()
	}
	s.pool.Close()

	stateErr := s.writeFinalState()
	if serveErr != nil {
		return fmt.Errorf("accepting connections: %w", serveErr)
	}
	return stateErr
}

// ResetProducers asks every connected producer to resend its startup.
// Safe from any goroutine.
func (s *Server) ResetProducers() {
	s.loop.Post(func() {
		count := 0
		for _, c := range s.conns {
			if c.kind != fuzzproto.ClientProduction || !c.channelOpen() {
				continue
			}
			s.sendOnce(c, wire.New(fuzzproto.VerbReset))
			count++
		}
		s.logger.Info("sent reset to producers", "count", count)
	})
}

func (s *Server) accept(ctx context.Context, netConn net.Conn) {
	if !s.loop.Post(func() { s.attach(ctx, netConn) }) {
		netConn.Close()
	}
}

func (s *Server) attach(ctx context.Context, netConn net.Conn) {
	c := &conn{
		sent:    make(map[uint64]WorkItem),
		running: make(map[uint64]WorkItem),
	}
	c.peer = peer.New(peer.Config{
		Conn:         netConn,
		Poster:       s.loop,
		Clock:        s.config.Clock,
		PollInterval: s.config.PollInterval,
		Counter:      s.config.Counter,
		Logger:       s.logger,
		Debug:        s.config.Debug,
		OnDisconnect: func(err error) { s.detach(c) },
	})
	s.route(c)
	s.conns[c.peer.Key()] = c
	c.peer.Logger().Info("accepted connection")
	c.peer.Start(ctx)
	if s.draining {
		s.sendOnce(c, wire.New(fuzzproto.VerbServerBye))
	}
}

func (s *Server) detach(c *conn) {
	key := c.peer.Key()
	delete(s.conns, key)
	withdrawn := s.cases.Withdraw(key) + s.feed.Withdraw(key)

	// Acked cases with no result yet go to the next agent. Unacked
	// ones come back through their requeue timers.
	requeued := 0
	for id, item := range c.running {
		if _, live := s.outstanding[id]; !live {
			continue
		}
		s.cases.Submit(item)
		requeued++
	}
	if requeued > 0 || withdrawn > 0 {
		c.peer.Logger().Info("peer gone",
			"kind", c.kind, "requeued", requeued, "withdrawn_demands", withdrawn)
	}
	c.running = nil
	s.checkDrained()
}

func (s *Server) scheduleReport() {
	s.reportTimer = s.config.Clock.AfterFunc(s.config.ReportInterval, func() {
		s.loop.Post(func() {
			s.report()
			s.scheduleReport()
		})
	})
}

func (s *Server) report() {
	snapshot := s.tracker.Snapshot()
	caseStats := s.cases.Stats()
	s.logger.Info("status",
		"summary", snapshot.String(),
		"backlog", caseStats.Backlog,
		"waiting_agents", caseStats.Waiting,
		"connections", len(s.conns),
	)
}

func (s *Server) writeFinalState() error {
	snapshot := s.tracker.Snapshot()
	s.logger.Info("final status", "summary", snapshot.String())
	if s.config.WorkDir == "" {
		return nil
	}
	path := filepath.Join(s.config.WorkDir, StateFileName)
	if err := statefile.Write(path, snapshot); err != nil {
		return fmt.Errorf("saving final snapshot: %w", err)
	}
	s.logger.Info("saved final snapshot", "path", path)
	return nil
}

// checkDrained starts the shutdown broadcast once every producer has
// finished, every case has a result, and analysis has acked the feed.
func (s *Server) checkDrained() {
	if !s.config.ExitWhenDrained || s.draining || len(s.producers) == 0 {
		return
	}
	for _, finished := range s.producers {
		if !finished {
			return
		}
	}
	if s.enqueuing > 0 || s.cases.Backlog() > 0 || s.tracker.Outstanding() > 0 {
		return
	}
	if s.analysisSeen && (s.feedInFlight > 0 || s.feed.Backlog() > 0) {
		return
	}

	s.draining = true
	s.logger.Info("all producers finished and every case has a result, shutting down",
		"grace", s.config.GraceDelay)
	s.config.Clock.AfterFunc(s.config.GraceDelay, func() {
		s.loop.Post(s.loop.Stop)
	})
	for _, c := range s.conns {
		if c.channelOpen() {
			s.sendOnce(c, wire.New(fuzzproto.VerbServerBye))
		}
	}
}

func (s *Server) sendOnce(c *conn, message wire.Message) {
	if err := c.peer.Channel().SendOnce(message); err != nil {
		c.peer.Logger().Info("send failed", "message", message.Label(), "error", err)
	}
}

func (s *Server) ack(c *conn, message wire.Message, extra map[string]wire.Value) {
	ackID, ok := message.AckID()
	if !ok {
		return
	}
	if err := c.peer.Channel().SendAck(ackID, extra); err != nil {
		c.peer.Logger().Info("ack failed", "message", message.Label(), "error", err)
	}
}
