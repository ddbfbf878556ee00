// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/bureau-foundation/fuzzfarm/lib/dispatch"
	"github.com/bureau-foundation/fuzzfarm/lib/eventloop"
	"github.com/bureau-foundation/fuzzfarm/lib/fuzzproto"
	"github.com/bureau-foundation/fuzzfarm/lib/peer"
	"github.com/bureau-foundation/fuzzfarm/lib/wire"
	"github.com/bureau-foundation/fuzzfarm/lib/workpool"
	"github.com/bureau-foundation/fuzzfarm/transport"
)

// Stats counts what the server has persisted and dispatched.
type Stats struct {
	Templates uint64 `json:"templates"`
	Results   uint64 `json:"results"`
	Crashes   uint64 `json:"crashes"`
}

// Server is an analysis server. New binds the trace listener; Run
// consumes the fuzz server's feed until ctx ends or the fuzz server
// says server_bye.
type Server struct {
	config   Config
	logger   *slog.Logger
	listener *transport.TCPListener
	loop     *eventloop.Loop
	pool     *workpool.Pool
	upstream *peer.Peer
	traces   *dispatch.Exchange[wire.Message]

	templatesStored atomic.Uint64
	resultsStored   atomic.Uint64
	crashesQueued   atomic.Uint64

	// Loop-owned. storing holds the ack ids of feed messages on the
	// worker pool; busy counts every store in flight.
	workers   map[string]*worker
	templates *templateCache
	storing   map[uint64]bool
	busy      int
}

// worker is one connected trace worker.
type worker struct {
	peer *peer.Peer
}

func (w *worker) channelOpen() bool {
	return !w.peer.Channel().Closed()
}

// New validates config and binds the trace worker listener.
func New(ctx context.Context, config Config) (*Server, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("analysis server config: %w", err)
	}
	config.applyDefaults()

	listener, err := transport.NewTCPListener(ctx, config.ListenAddress, transport.ListenOptions{ReusePort: config.ReusePort})
	if err != nil {
		return nil, fmt.Errorf("binding analysis server: %w", err)
	}

	logger := config.Logger.With("component", "AnalysisServer")
	s := &Server{
		config:    config,
		logger:    logger,
		listener:  listener,
		loop:      eventloop.New(),
		pool:      workpool.New(config.Workers, config.Workers*4, logger),
		traces:    dispatch.New[wire.Message]("trace-jobs", 0, logger),
		workers:   make(map[string]*worker),
		templates: newTemplateCache(),
		storing:   make(map[uint64]bool),
	}
	s.upstream = peer.New(peer.Config{
		Dial: func(ctx context.Context) (net.Conn, error) {
			return config.Dialer.DialContext(ctx, config.FuzzServerAddress)
		},
		Address:      config.FuzzServerAddress,
		Poster:       s.loop,
		Clock:        config.Clock,
		PollInterval: config.PollInterval,
		Counter:      config.Counter,
		Logger:       logger,
		Debug:        config.Debug,
		OnConnect:    s.upstreamConnected,
	})
	s.routeUpstream()
	return s, nil
}

// Address returns the bound trace worker address.
func (s *Server) Address() string {
	return s.listener.Address()
}

// Stats returns the persistence and dispatch counters. Safe from any
// goroutine.
func (s *Server) Stats() Stats {
	return Stats{
		Templates: s.templatesStored.Load(),
		Results:   s.resultsStored.Load(),
		Crashes:   s.crashesQueued.Load(),
	}
}

// Run serves trace workers and consumes the fuzz server's feed. A
// server_bye and the end of ctx are both a clean stop and return nil.
func (s *Server) Run(ctx context.Context) error {
	serveCtx, stopServing := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() {
		served <- s.listener.Serve(serveCtx, s.accept)
	}()

	s.logger.Info("listening for trace workers", "address", s.Address(), "fuzz_server", s.config.FuzzServerAddress)
	s.loop.Post(func() {
		s.upstream.Start(ctx)
		// Doubles as the dial retry until the first connection.
		s.idle()
	})
	s.loop.Run(ctx)

	stopServing()
	serveErr := <-served

	s.upstream.Close()
	for _, w := range s.workers {
		w.peer.Close()
	}
	s.pool.Close()

	stats := s.Stats()
	traceStats := s.traces.Stats()
	s.logger.Info("final status",
		"templates", stats.Templates,
		"results", stats.Results,
		"crashes", stats.Crashes,
		"trace_backlog", traceStats.Backlog,
		"cached_templates", s.templates.len(),
	)
	if serveErr != nil {
		return fmt.Errorf("accepting trace workers: %w", serveErr)
	}
	return nil
}

func (s *Server) upstreamConnected() {
	s.logger.Info("connected to fuzz server")
	s.idle()
}

// idle announces readiness for the next feed message, unless a store
// is still running.
func (s *Server) idle() {
	if s.busy > 0 {
		return
	}
	heartbeat := wire.New(fuzzproto.VerbClientReady).
		WithString(fuzzproto.FieldClientType, fuzzproto.ClientAnalysis)
	if err := s.upstream.Channel().StartIdle(heartbeat); err != nil {
		s.logger.Debug("heartbeat not delivered", "error", err)
	}
}

func (s *Server) accept(ctx context.Context, netConn net.Conn) {
	if !s.loop.Post(func() { s.attach(ctx, netConn) }) {
		netConn.Close()
	}
}

func (s *Server) attach(ctx context.Context, netConn net.Conn) {
	w := &worker{}
	w.peer = peer.New(peer.Config{
		Conn:         netConn,
		Poster:       s.loop,
		Clock:        s.config.Clock,
		PollInterval: s.config.PollInterval,
		Counter:      s.config.Counter,
		Logger:       s.logger,
		Debug:        s.config.Debug,
		OnDisconnect: func(err error) { s.detach(w) },
	})
	s.routeWorker(w)
	s.workers[w.peer.Key()] = w
	w.peer.Logger().Info("trace worker connected")
	w.peer.Start(ctx)
}

func (s *Server) detach(w *worker) {
	key := w.peer.Key()
	delete(s.workers, key)
	withdrawn := s.traces.Withdraw(key)
	w.peer.Logger().Info("trace worker gone", "withdrawn_demands", withdrawn)
}

func (s *Server) ackUpstream(message wire.Message) {
	ackID, ok := message.AckID()
	if !ok {
		return
	}
	if err := s.upstream.Channel().SendAck(ackID, nil); err != nil {
		s.logger.Info("ack to fuzz server failed", "message", message.Label(), "error", err)
	}
}

func (s *Server) ackWorker(w *worker, message wire.Message, extra map[string]wire.Value) {
	ackID, ok := message.AckID()
	if !ok {
		return
	}
	if err := w.peer.Channel().SendAck(ackID, extra); err != nil {
		w.peer.Logger().Info("ack failed", "message", message.Label(), "error", err)
	}
}
