// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuzzserver is the distribution hub of the fuzzing fleet.
//
// Production clients connect and push test cases. Each accepted case
// gets a result id from the [results.Tracker] and enters the test-case
// exchange, where execution agents pick it up by announcing they are
// ready. An agent reports the outcome of its previous case inside its
// next client_ready, as result "id:status". Every outcome is forwarded
// to the analysis feed as a test_result (crashes carry the test case
// data), along with each previously unseen template as a new_template.
// An analysis server drains the feed by announcing itself ready on it.
//
// All connection state lives on one [eventloop.Loop]. The only
// blocking step, waiting for room in the bounded test-case backlog,
// runs on a [workpool.Pool] and reports back to the loop through a
// future.
//
// Work handed to a peer is tracked with the requeue policy: if the
// peer does not ack within one poll interval the item goes back on its
// exchange for the next ready peer. Cases an agent acked but never
// reported on are requeued when that agent disconnects.
package fuzzserver
