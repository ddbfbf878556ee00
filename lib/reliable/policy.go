// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reliable

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/fuzzfarm/lib/wire"
)

type policyKind int

const (
	policyResend policyKind = iota
	policyRequeue
	policySettle
)

// Policy is what a tracked send does when its ack does not arrive in
// time.
type Policy struct {
	kind    policyKind
	requeue func(wire.Message)
	settle  func(acked bool)
}

// Resend retransmits the identical message, same ack_id included, on
// the same channel and waits again. Use it when delivery to this
// particular peer matters.
func Resend() Policy {
	return Policy{kind: policyResend}
}

// Requeue passes the message, ack_id included, to submit and stops
// tracking it on this channel. Use it when any ready worker may take
// the message instead.
func Requeue(submit func(wire.Message)) Policy {
	if submit == nil {
		panic("reliable.Requeue: nil submit function")
	}
	return Policy{kind: policyRequeue, requeue: submit}
}

// Settle calls done exactly once: with true when the ack arrives, or
// with false when the first timeout fires. Nothing is retried.
func Settle(done func(acked bool)) Policy {
	if done == nil {
		panic("reliable.Settle: nil done function")
	}
	return Policy{kind: policySettle, settle: done}
}

func (p Policy) String() string {
	switch p.kind {
	case policyResend:
		return "resend"
	case policyRequeue:
		return "requeue"
	case policySettle:
		return "settle"
	default:
		return fmt.Sprintf("policy(%d)", int(p.kind))
	}
}

// PendingAck is a sent message waiting for its ack.
type PendingAck struct {
	AckID    uint64
	Message  wire.Message
	Deadline time.Time

	policy Policy
	stop   func() bool
}

// TimeoutError describes a tracked send whose ack did not arrive
// within the poll interval. It is logged when the timeout policy
// fires; it is never returned to a sender.
type TimeoutError struct {
	Verb     string
	AckID    uint64
	Interval time.Duration
	Policy   string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no ack for %s:%d within %s (policy %s)", e.Verb, e.AckID, e.Interval, e.Policy)
}
