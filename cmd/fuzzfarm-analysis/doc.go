// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Fuzzfarm-analysis is the analysis server: it consumes templates and
// results from the fuzz server, stores them in a SQLite result
// database, and hands crash trace jobs to connected trace workers.
package main
