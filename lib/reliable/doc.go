// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package reliable adds acknowledgement tracking, timeout-driven
// retry and idle heartbeating on top of one framed connection.
//
// A [Channel] has three ways to send:
//
//   - [Channel.SendOnce] writes a message and forgets it. Acks go out
//     this way so that an ack never itself waits for an ack.
//   - [Channel.SendTracked] stamps an ack_id (unless the message already
//     carries one), writes the message and registers a [PendingAck]
//     that expires one poll interval later. On expiry the [Policy]
//     decides what happens: [Resend] retransmits on the same channel,
//     [Requeue] hands the message back to a backlog for whichever
//     worker is ready next, and [Settle] reports the outcome once and
//     gives up.
//   - [Channel.StartIdle] sends a heartbeat and re-sends it every poll
//     interval until [Channel.CancelIdle]. At most one idle wait exists
//     per channel.
//
// A PendingAck is removed exactly once, either by [Channel.HandleAck]
// or by its timer. Timer callbacks are posted to the channel's
// [eventloop.Poster] and re-check that the PendingAck they were armed
// for is still the registered one, so an ack arriving while the timer
// is firing resolves the race on the loop goroutine.
//
// Acks for ids with no PendingAck are normal under retry and are
// dropped with a debug log.
//
// Ack ids come from an [AckCounter]. Messages requeued from one
// channel keep their ack_id when they are delivered on another, so
// every channel in a process must share a counter.
//
// Every Channel method must be called on the loop goroutine.
package reliable
