// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by the fuzzfarm
// binaries: fatal error reporting before or after the structured
// logger exists, and the shutdown context every binary runs under.
package process
