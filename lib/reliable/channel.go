// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reliable

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/fuzzfarm/lib/clock"
	"github.com/bureau-foundation/fuzzfarm/lib/eventloop"
	"github.com/bureau-foundation/fuzzfarm/lib/netstring"
	"github.com/bureau-foundation/fuzzfarm/lib/wire"
)

// VerbAck is the verb of acknowledgement messages.
const VerbAck = "ack_msg"

// ErrClosed is returned by sends on a closed Channel.
var ErrClosed = errors.New("reliable: channel closed")

// Link is the byte transport under a Channel.
type Link interface {
	// Connected reports whether Write can be attempted.
	Connected() bool

	// Reconnect re-establishes a dropped connection. Links that cannot
	// redial, such as accepted server connections, return an error.
	Reconnect() error

	// Write sends one encoded frame.
	Write(frame []byte) error
}

// Config holds Channel dependencies. Link, Poster, Clock and
// PollInterval are required.
type Config struct {
	Link         Link
	Poster       eventloop.Poster
	Clock        clock.Clock
	PollInterval time.Duration

	// Counter allocates ack ids. Channels that may carry each other's
	// requeued messages must share one. Nil gets a private counter.
	Counter *AckCounter

	Logger *slog.Logger

	// Trace, when set, sees every message just before it is written.
	Trace func(wire.Message)
}

// Channel is one connection's reliable-delivery state.
type Channel struct {
	link     Link
	poster   eventloop.Poster
	clock    clock.Clock
	interval time.Duration
	counter  *AckCounter
	logger   *slog.Logger
	trace    func(wire.Message)

	pending map[uint64]*PendingAck
	idle    *idleWait
	closed  bool
}

type idleWait struct {
	message wire.Message
	stop    func() bool
}

// NewChannel returns a Channel over config.Link.
func NewChannel(config Config) *Channel {
	if config.Link == nil || config.Poster == nil || config.Clock == nil {
		panic("reliable.NewChannel: Link, Poster and Clock are required")
	}
	if config.PollInterval <= 0 {
		panic(fmt.Sprintf("reliable.NewChannel: poll interval must be positive, got %s", config.PollInterval))
	}
	counter := config.Counter
	if counter == nil {
		counter = NewAckCounter()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Channel{
		link:     config.Link,
		poster:   config.Poster,
		clock:    config.Clock,
		interval: config.PollInterval,
		counter:  counter,
		logger:   logger,
		trace:    config.Trace,
		pending:  make(map[uint64]*PendingAck),
	}
}

// SendOnce writes message without tracking it.
func (c *Channel) SendOnce(message wire.Message) error {
	return c.transmit(message)
}

// SendAck acknowledges ackID. Extra fields ride along on the ack, as
// when a template_request is answered with the template itself.
func (c *Channel) SendAck(ackID uint64, extra map[string]wire.Value) error {
	ack := wire.New(VerbAck).WithAckID(ackID)
	for key, value := range extra {
		ack = ack.With(key, value)
	}
	return c.SendOnce(ack)
}

// SendTracked writes message and waits one poll interval for its ack.
// The message keeps an ack_id it already carries; otherwise a fresh
// one is assigned. It returns the ack id used.
//
// The PendingAck is registered even when the write fails, so a
// message sent into a dead connection still reaches its policy when
// the timer fires. The write error is returned for logging only.
func (c *Channel) SendTracked(message wire.Message, policy Policy) (uint64, error) {
	if c.closed {
		return 0, ErrClosed
	}
	ackID, ok := message.AckID()
	if !ok {
		ackID = c.counter.Next()
		message = message.WithAckID(ackID)
	}
	if previous, exists := c.pending[ackID]; exists {
		// A requeued message delivered back to the channel that
		// already tracks it replaces the older wait.
		previous.stop()
		delete(c.pending, ackID)
	}

	pending := &PendingAck{
		AckID:    ackID,
		Message:  message,
		Deadline: c.clock.Now().Add(c.interval),
		policy:   policy,
	}
	c.pending[ackID] = pending
	timer := c.clock.AfterFunc(c.interval, func() {
		c.poster.Post(func() { c.expire(pending) })
	})
	pending.stop = timer.Stop

	return ackID, c.transmit(message)
}

// HandleAck resolves the PendingAck named by ack's ack_id and returns
// the message it was tracking. An ack with no matching PendingAck is
// a stale duplicate and returns false.
func (c *Channel) HandleAck(ack wire.Message) (wire.Message, bool) {
	ackID, ok := ack.AckID()
	if !ok {
		c.logger.Debug("ack without ack_id dropped")
		return wire.Message{}, false
	}
	pending, exists := c.pending[ackID]
	if !exists {
		c.logger.Debug("ack for unknown id dropped", "ack_id", ackID)
		return wire.Message{}, false
	}
	delete(c.pending, ackID)
	pending.stop()
	c.logger.Debug("acked", "message", pending.Message.Label())
	if pending.policy.kind == policySettle {
		pending.policy.settle(true)
	}
	return pending.Message, true
}

// expire runs on the loop when a PendingAck's timer fires.
func (c *Channel) expire(pending *PendingAck) {
	if c.pending[pending.AckID] != pending {
		// Acked, or replaced by a newer send of the same id, after
		// the timer had already fired.
		return
	}
	delete(c.pending, pending.AckID)

	timeout := &TimeoutError{
		Verb:     pending.Message.Verb(),
		AckID:    pending.AckID,
		Interval: c.interval,
		Policy:   pending.policy.String(),
	}

	switch pending.policy.kind {
	case policyResend:
		if c.closed {
			c.logger.Info("dropping message for closed connection", "error", timeout)
			return
		}
		c.logger.Info("timed out, resending", "error", timeout)
		if _, err := c.SendTracked(pending.Message, pending.policy); err != nil {
			c.logger.Warn("resend failed", "message", pending.Message.Label(), "error", err)
		}
	case policyRequeue:
		c.logger.Info("timed out, putting it back on the queue", "error", timeout)
		pending.policy.requeue(pending.Message)
	case policySettle:
		c.logger.Info("timed out, giving up", "error", timeout)
		pending.policy.settle(false)
	}
}

// StartIdle sends heartbeat now and again every poll interval until
// CancelIdle, replacing any idle wait already running.
func (c *Channel) StartIdle(heartbeat wire.Message) error {
	c.CancelIdle()
	if c.closed {
		return ErrClosed
	}
	wait := &idleWait{message: heartbeat}
	c.idle = wait
	timer := c.clock.AfterFunc(c.interval, func() {
		c.poster.Post(func() { c.idleExpired(wait) })
	})
	wait.stop = timer.Stop
	return c.transmit(heartbeat)
}

// CancelIdle stops the idle wait, if one is running.
func (c *Channel) CancelIdle() {
	if c.idle == nil {
		return
	}
	c.idle.stop()
	c.idle = nil
}

func (c *Channel) idleExpired(wait *idleWait) {
	if c.idle != wait {
		return
	}
	c.logger.Debug("idle wait expired, sending heartbeat again", "message", wait.message.Label())
	if err := c.StartIdle(wait.message); err != nil {
		c.logger.Warn("heartbeat failed", "message", wait.message.Label(), "error", err)
	}
}

// Idle reports whether an idle wait is running.
func (c *Channel) Idle() bool {
	return c.idle != nil
}

// Pending returns the number of outstanding PendingAcks.
func (c *Channel) Pending() int {
	return len(c.pending)
}

// PendingAck returns the outstanding PendingAck for ackID.
func (c *Channel) PendingAck(ackID uint64) (*PendingAck, bool) {
	pending, ok := c.pending[ackID]
	return pending, ok
}

// Close stops the idle wait and refuses further sends. Outstanding
// PendingAcks keep their timers: requeued messages still go back to
// their backlog, settle callbacks still run, and resends are dropped.
func (c *Channel) Close() {
	c.CancelIdle()
	c.closed = true
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	return c.closed
}

func (c *Channel) transmit(message wire.Message) error {
	if c.closed {
		return ErrClosed
	}
	if !c.link.Connected() {
		if err := c.link.Reconnect(); err != nil {
			return fmt.Errorf("reconnecting before %s: %w", message.Label(), err)
		}
	}
	payload, err := wire.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", message.Label(), err)
	}
	if c.trace != nil {
		c.trace(message)
	}
	if err := c.link.Write(netstring.Encode(payload)); err != nil {
		return fmt.Errorf("writing %s: %w", message.Label(), err)
	}
	return nil
}
