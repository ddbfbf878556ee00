// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package analysis implements the analysis server: the consumer of the
// fuzz server's feed and the dispatcher of trace jobs.
//
// Upstream, the server keeps one outbound connection to the fuzz
// server, identifying as client_type analysis and idling with
// client_ready. Each new_template and test_result it receives is
// persisted through a [resultdb.Store] on the worker pool and acked
// only once stored, so a failed write is redelivered by the fuzz
// server's requeue. Crash results become new_trace_job messages on the
// trace exchange.
//
// Downstream, trace workers connect to the server's listener and take
// trace jobs the same way fuzz agents take test cases: client_ready
// announces demand, the job is sent tracked, and an unacked job goes
// back on the exchange. A worker's template_request is answered from
// an in-memory template cache that falls back to the store.
package analysis
