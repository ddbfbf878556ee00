// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package production

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/fuzzfarm/lib/clock"
	"github.com/bureau-foundation/fuzzfarm/lib/eventloop"
	"github.com/bureau-foundation/fuzzfarm/lib/fuzzproto"
	"github.com/bureau-foundation/fuzzfarm/lib/peer"
	"github.com/bureau-foundation/fuzzfarm/lib/reliable"
	"github.com/bureau-foundation/fuzzfarm/lib/templatehash"
	"github.com/bureau-foundation/fuzzfarm/lib/wire"
	"github.com/bureau-foundation/fuzzfarm/transport"
)

// State is the client's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateStarted
	StateIdle
	StateAwaitingAck
	StateDone
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStarted:
		return "started"
	case StateIdle:
		return "idle"
	case StateAwaitingAck:
		return "awaiting-ack"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config describes one production client.
type Config struct {
	ServerAddress string
	Dialer        transport.Dialer

	StationID string
	Queue     string
	Template  []byte
	Generator Generator

	PollInterval time.Duration
	Clock        clock.Clock
	Counter      *reliable.AckCounter
	Logger       *slog.Logger
	Debug        bool
}

func (c Config) validate() error {
	var errs []error
	if c.ServerAddress == "" {
		errs = append(errs, errors.New("server address is required"))
	}
	if c.StationID == "" {
		errs = append(errs, errors.New("station id is required"))
	}
	if c.Generator == nil {
		errs = append(errs, errors.New("generator is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	return errors.Join(errs...)
}

// Client is a production client. Run drives it to completion.
type Client struct {
	config       Config
	logger       *slog.Logger
	templateCRC  uint32
	templateHash string

	state atomic.Int32
	sent  atomic.Uint64

	// Loop-owned.
	loop      *eventloop.Loop
	peer      *peer.Peer
	connected bool
	caseID    uint64
	exhausted bool
	byeSent   bool
}

// New validates config and returns a Client.
func New(config Config) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("production client config: %w", err)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Dialer == nil {
		config.Dialer = &transport.TCPDialer{Timeout: config.PollInterval}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		config:       config,
		logger:       logger.With("component", "ProdClient", "station_id", config.StationID),
		templateCRC:  crc32.ChecksumIEEE(config.Template),
		templateHash: templatehash.Sum(config.Template).String(),
	}, nil
}

// State returns the current lifecycle state. Safe from any goroutine.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Sent returns how many test cases have been sent.
func (c *Client) Sent() uint64 {
	return c.sent.Load()
}

// Run connects to the server and feeds it until the generator is
// exhausted and the bye has settled, or the server says server_bye.
// Both return nil. If ctx ends first, Run returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	c.loop = eventloop.New()
	c.peer = peer.New(peer.Config{
		Dial: func(ctx context.Context) (net.Conn, error) {
			return c.config.Dialer.DialContext(ctx, c.config.ServerAddress)
		},
		Address:      c.config.ServerAddress,
		Poster:       c.loop,
		Clock:        c.config.Clock,
		PollInterval: c.config.PollInterval,
		Counter:      c.config.Counter,
		Logger:       c.logger,
		Debug:        c.config.Debug,
		OnConnect:    c.handleConnect,
	})

	router := c.peer.Router()
	router.Handle(fuzzproto.VerbAckMsg, c.handleAck)
	router.Handle(fuzzproto.VerbReset, c.handleReset)
	router.Handle(fuzzproto.VerbServerReady, c.handleServerReady)
	router.Handle(fuzzproto.VerbServerBye, c.handleServerBye)

	c.logger.Info("connecting", "server", c.config.ServerAddress, "template_hash", c.templateHash)
	c.loop.Post(func() {
		c.peer.Start(ctx)
		// The heartbeat doubles as the dial retry until the first
		// connection is up.
		c.idle()
	})
	c.loop.Run(ctx)
	c.peer.Close()

	if c.State() == StateDone {
		return nil
	}
	return ctx.Err()
}

func (c *Client) setState(state State) {
	c.state.Store(int32(state))
}

func (c *Client) handleConnect() {
	if c.connected {
		c.logger.Info("reconnected to server")
		return
	}
	c.connected = true
	c.logger.Info("connected to server")
	c.sendStartup()
	c.idle()
}

func (c *Client) sendStartup() {
	startup := wire.New(fuzzproto.VerbClientStartup).
		WithString(fuzzproto.FieldClientType, fuzzproto.ClientProduction).
		WithBytes(fuzzproto.FieldTemplate, c.config.Template).
		WithString(fuzzproto.FieldEncoding, fuzzproto.EncodingBase64).
		WithInt(fuzzproto.FieldCRC32, int64(c.templateCRC)).
		WithString(fuzzproto.FieldStationID, c.config.StationID).
		WithString(fuzzproto.FieldQueue, c.config.Queue).
		WithString(fuzzproto.FieldTemplateHash, c.templateHash).
		WithString(fuzzproto.FieldData, "")
	c.sendTracked(startup, reliable.Resend())
	if c.State() < StateStarted {
		c.setState(StateStarted)
	}
}

func (c *Client) heartbeat() wire.Message {
	return wire.New(fuzzproto.VerbClientReady).
		WithString(fuzzproto.FieldClientType, fuzzproto.ClientProduction).
		WithString(fuzzproto.FieldStationID, c.config.StationID).
		WithString(fuzzproto.FieldQueue, c.config.Queue)
}

func (c *Client) idle() {
	if c.State() == StateDone {
		return
	}
	if err := c.peer.Channel().StartIdle(c.heartbeat()); err != nil {
		c.logger.Debug("heartbeat not delivered", "error", err)
	}
	if c.connected && !c.byeSent {
		c.setState(StateIdle)
	}
}

func (c *Client) sendTracked(message wire.Message, policy reliable.Policy) {
	if _, err := c.peer.Channel().SendTracked(message, policy); err != nil {
		c.logger.Info("send failed, will retry on timeout", "verb", message.Verb(), "error", err)
	}
}

func (c *Client) handleAck(message wire.Message) error {
	c.peer.Channel().HandleAck(message)
	if c.State() == StateDone {
		return nil
	}
	if c.exhausted && !c.byeSent {
		c.trySendBye()
	}
	if !c.byeSent {
		c.idle()
	}
	return nil
}

func (c *Client) handleReset(wire.Message) error {
	if c.byeSent {
		return nil
	}
	c.logger.Info("server asked for a reset, resending startup")
	c.sendStartup()
	c.idle()
	return nil
}

func (c *Client) handleServerReady(wire.Message) error {
	if c.byeSent {
		return nil
	}
	if !c.exhausted {
		testCase, ok := c.config.Generator.Next()
		if ok {
			c.sendCase(testCase)
			c.idle()
			return nil
		}
		c.exhausted = true
		c.logger.Info("generator exhausted", "sent", c.caseID)
	}
	if !c.trySendBye() {
		c.idle()
	}
	return nil
}

func (c *Client) sendCase(testCase []byte) {
	c.caseID++
	message := wire.New(fuzzproto.VerbNewTestCase).
		WithString(fuzzproto.FieldStationID, c.config.StationID).
		WithInt(fuzzproto.FieldID, int64(c.caseID)).
		WithInt(fuzzproto.FieldCRC32, int64(crc32.ChecksumIEEE(testCase))).
		WithString(fuzzproto.FieldEncoding, fuzzproto.EncodingBase64).
		WithBytes(fuzzproto.FieldData, testCase).
		WithString(fuzzproto.FieldQueue, c.config.Queue).
		WithString(fuzzproto.FieldTemplateHash, c.templateHash)
	c.sendTracked(message, reliable.Resend())
	c.sent.Add(1)
}

// trySendBye sends client_bye once every test case has been acked.
func (c *Client) trySendBye() bool {
	if c.peer.Channel().Pending() > 0 {
		return false
	}
	c.byeSent = true
	c.peer.Channel().CancelIdle()
	c.setState(StateAwaitingAck)
	bye := wire.New(fuzzproto.VerbClientBye).
		WithString(fuzzproto.FieldClientType, fuzzproto.ClientProduction).
		WithString(fuzzproto.FieldStationID, c.config.StationID).
		WithString(fuzzproto.FieldQueue, c.config.Queue).
		WithString(fuzzproto.FieldData, "")
	c.sendTracked(bye, reliable.Settle(func(acked bool) {
		if !acked {
			c.logger.Warn("client_bye was not acked, exiting anyway")
		}
		c.finish()
	}))
	return true
}

func (c *Client) handleServerBye(wire.Message) error {
	c.logger.Info("got server_bye")
	c.finish()
	return nil
}

func (c *Client) finish() {
	if c.State() == StateDone {
		return
	}
	c.setState(StateDone)
	c.peer.Channel().CancelIdle()
	c.logger.Info("all done, exiting", "sent", c.caseID)
	c.loop.Stop()
}
