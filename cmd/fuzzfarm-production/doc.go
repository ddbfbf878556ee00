// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Fuzzfarm-production is a production client: it registers a template
// with the fuzz server and feeds it generated test cases until the
// generator runs out.
//
// By default the cases come from a byte sweep over the template. With
// --cases, every regular file in a directory is sent once in name
// order instead.
package main
