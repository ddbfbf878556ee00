// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuzzproto names the verbs and fields of the fleet protocol
// and routes inbound messages to handlers.
//
// A [Router] is an explicit verb-to-handler table filled in before a
// connection starts reading. A verb with no handler is protocol-legal,
// since peers may introduce verbs at will, so Dispatch reports it as an
// [UnhandledVerbError] for the caller to log; the connection carries on.
//
// Producers, agents, trace workers and the analysis server announce
// what they are with the client_type field ([ClientProduction],
// [ClientFuzz], [ClientTrace], [ClientAnalysis]).
package fuzzproto
