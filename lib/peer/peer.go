// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/bureau-foundation/fuzzfarm/lib/clock"
	"github.com/bureau-foundation/fuzzfarm/lib/eventloop"
	"github.com/bureau-foundation/fuzzfarm/lib/fuzzproto"
	"github.com/bureau-foundation/fuzzfarm/lib/netstring"
	"github.com/bureau-foundation/fuzzfarm/lib/reliable"
	"github.com/bureau-foundation/fuzzfarm/lib/wire"
	"github.com/bureau-foundation/fuzzfarm/transport"
)

// DefaultWriteTimeout bounds one frame write on a connection's writer
// goroutine.
const DefaultWriteTimeout = 10 * time.Second

// WriteQueueSize is how many frames may wait for the writer goroutine
// before a send fails and the connection is dropped.
const WriteQueueSize = 256

const readBufferSize = 64 << 10

// ErrReconnecting is returned by sends while a redial is in progress.
var ErrReconnecting = errors.New("peer: reconnecting")

// ErrWriteQueueFull is returned by a send to a peer that has stopped
// reading for long enough to fill its write queue.
var ErrWriteQueueFull = errors.New("peer: write queue full")

// DialFunc opens a fresh connection for an outbound peer.
type DialFunc func(ctx context.Context) (net.Conn, error)

// Config holds Peer dependencies. Poster, Clock and PollInterval are
// required, along with exactly one of Conn (accepted peers) and Dial
// (outbound peers).
type Config struct {
	Conn net.Conn
	Dial DialFunc

	// Address names the peer in logs and as its dispatch key. Defaults
	// to Conn's remote address.
	Address string

	Poster       eventloop.Poster
	Clock        clock.Clock
	PollInterval time.Duration
	Counter      *reliable.AckCounter

	Logger       *slog.Logger
	Debug        bool
	MaxFrameSize int
	WriteTimeout time.Duration

	// OnConnect runs on the loop each time an outbound peer's dial
	// succeeds.
	OnConnect func()

	// OnDisconnect runs on the loop when the connection breaks. For
	// accepted peers this is final and the channel is already closed.
	OnDisconnect func(err error)
}

// Peer is one protocol connection.
type Peer struct {
	address      string
	dial         DialFunc
	poster       eventloop.Poster
	logger       *slog.Logger
	debug        bool
	writeTimeout time.Duration
	onConnect    func()
	onDisconnect func(error)

	router  *fuzzproto.Router
	channel *reliable.Channel
	decoder *netstring.Decoder

	// Loop-owned connection state. generation increments whenever conn
	// is replaced, so posts from a stale reader are ignored. outbox
	// feeds conn's writer goroutine and is closed with it.
	ctx        context.Context
	conn       net.Conn
	outbox     chan []byte
	generation uint64
	dialing    bool
	closed     bool
}

// New returns a Peer. Register handlers on Router, then call Start.
func New(config Config) *Peer {
	if (config.Conn == nil) == (config.Dial == nil) {
		panic("peer.New: exactly one of Conn and Dial is required")
	}
	address := config.Address
	if address == "" && config.Conn != nil {
		address = config.Conn.RemoteAddr().String()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("peer", address)
	maxFrame := config.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = netstring.DefaultMaxFrameSize
	}
	writeTimeout := config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	p := &Peer{
		address:      address,
		dial:         config.Dial,
		poster:       config.Poster,
		logger:       logger,
		debug:        config.Debug,
		writeTimeout: writeTimeout,
		onConnect:    config.OnConnect,
		onDisconnect: config.OnDisconnect,
		router:       fuzzproto.NewRouter(),
		decoder:      netstring.NewDecoder(maxFrame),
		conn:         config.Conn,
	}
	channelConfig := reliable.Config{
		Link:         link{p},
		Poster:       config.Poster,
		Clock:        config.Clock,
		PollInterval: config.PollInterval,
		Counter:      config.Counter,
		Logger:       logger,
	}
	if config.Debug {
		channelConfig.Trace = func(message wire.Message) {
			p.logger.Debug("OUT", "message", message.Label())
		}
	}
	p.channel = reliable.NewChannel(channelConfig)
	if p.conn != nil {
		p.outbox = p.startWriter(p.conn)
	}
	return p
}

// Key identifies the peer in dispatch exchanges and logs.
func (p *Peer) Key() string { return p.address }

// Router is where roles register verb handlers before Start.
func (p *Peer) Router() *fuzzproto.Router { return p.router }

// Channel is the peer's reliable-delivery state. Loop only.
func (p *Peer) Channel() *reliable.Channel { return p.channel }

// Logger returns the peer-tagged logger.
func (p *Peer) Logger() *slog.Logger { return p.logger }

// Start begins reading, or for an outbound peer without a connection,
// begins dialing. Call on the loop. ctx bounds every dial.
func (p *Peer) Start(ctx context.Context) {
	p.ctx = ctx
	if p.conn != nil {
		p.startReader(p.conn)
		return
	}
	p.redial()
}

// Connected reports whether the peer currently has a socket. Loop
// only.
func (p *Peer) Connected() bool {
	return p.conn != nil
}

// Close shuts the connection and the channel. Loop only.
func (p *Peer) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.channel.Close()
	p.dropConn()
}

func (p *Peer) startReader(conn net.Conn) {
	generation := p.generation
	go func() {
		buffer := make([]byte, readBufferSize)
		for {
			n, err := conn.Read(buffer)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buffer[:n])
				if !p.poster.Post(func() { p.receive(generation, chunk) }) {
					return
				}
			}
			if err != nil {
				p.poster.Post(func() { p.readFailed(generation, err) })
				return
			}
		}
	}()
}

// startWriter runs conn's writes off the loop, so a peer that stops
// reading stalls only itself. The writer owns closing conn: once
// frames is closed it flushes what is queued, then closes. A failed
// write closes conn early, which the reader reports as a disconnect.
func (p *Peer) startWriter(conn net.Conn) chan []byte {
	frames := make(chan []byte, WriteQueueSize)
	timeout := p.writeTimeout
	go func() {
		defer conn.Close()
		for frame := range frames {
			err := conn.SetWriteDeadline(time.Now().Add(timeout))
			if err == nil {
				_, err = conn.Write(frame)
			}
			if err != nil {
				p.logger.Info("write failed, dropping connection",
					"error", &transport.ConnectionError{Op: "write", Address: p.address, Err: err})
				return
			}
		}
	}()
	return frames
}

func (p *Peer) receive(generation uint64, chunk []byte) {
	if generation != p.generation || p.closed {
		return
	}
	frames, err := p.decoder.Feed(chunk)
	for _, payload := range frames {
		p.handleFrame(payload)
	}
	if err != nil {
		p.logger.Warn("dropping malformed frame data", "error", err)
	}
}

func (p *Peer) handleFrame(payload []byte) {
	message, err := wire.Unmarshal(payload)
	if err != nil {
		p.logger.Warn("dropping unparseable message", "error", err)
		return
	}
	if p.debug {
		p.logger.Debug("IN", "message", message.Label())
	}

	p.channel.CancelIdle()
	if err := p.router.Dispatch(message); err != nil {
		var verbErr *fuzzproto.UnhandledVerbError
		if errors.As(err, &verbErr) {
			p.logger.Warn("unhandled verb", "verb", verbErr.Verb)
			return
		}
		p.logger.Warn("handler failed", "message", message.Label(), "error", err)
	}
}

func (p *Peer) readFailed(generation uint64, err error) {
	if generation != p.generation || p.closed {
		return
	}
	connErr := &transport.ConnectionError{Op: "read", Address: p.address, Err: err}
	p.dropConn()
	if p.dial == nil {
		p.logger.Info("connection closed", "error", connErr)
		p.closed = true
		p.channel.Close()
	} else {
		p.logger.Info("connection lost, reconnecting on next send", "error", connErr)
	}
	if p.onDisconnect != nil {
		p.onDisconnect(connErr)
	}
}

func (p *Peer) dropConn() {
	if p.conn == nil {
		return
	}
	close(p.outbox)
	p.outbox = nil
	p.conn = nil
	p.generation++
	p.decoder.Reset()
}

// redial starts a background dial unless one is already running.
func (p *Peer) redial() {
	if p.dialing || p.closed || p.dial == nil {
		return
	}
	ctx := p.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	p.dialing = true
	go func() {
		conn, err := p.dial(ctx)
		if !p.poster.Post(func() { p.dialed(conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

func (p *Peer) dialed(conn net.Conn, err error) {
	p.dialing = false
	if err != nil {
		p.logger.Info("reconnect failed", "error", err)
		return
	}
	if p.closed {
		conn.Close()
		return
	}
	p.dropConn()
	p.conn = conn
	p.outbox = p.startWriter(conn)
	p.logger.Info("connected")
	p.startReader(conn)
	if p.onConnect != nil {
		p.onConnect()
	}
}

// link adapts the Peer's socket to reliable.Link.
type link struct{ p *Peer }

func (l link) Connected() bool { return l.p.conn != nil }

func (l link) Reconnect() error {
	if l.p.dial == nil {
		return &transport.ConnectionError{Op: "write", Address: l.p.address, Err: net.ErrClosed}
	}
	l.p.redial()
	return &transport.ConnectionError{Op: "write", Address: l.p.address, Err: ErrReconnecting}
}

// Write queues frame for the writer goroutine and never blocks.
func (l link) Write(frame []byte) error {
	p := l.p
	select {
	case p.outbox <- frame:
		return nil
	default:
		// Closing makes the reader fail and report the break through
		// the normal read path.
		p.conn.Close()
		return &transport.ConnectionError{Op: "write", Address: p.address, Err: ErrWriteQueueFull}
	}
}
