// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Fuzzfarm-server is the fuzz server: it takes test cases from
// production clients, hands them to fuzz agents, tracks every result,
// and feeds templates and results to the analysis server.
//
// SIGHUP asks every connected producer to resend its startup. SIGINT
// and SIGTERM stop the server; the final result snapshot is logged and
// written to the work directory.
package main
