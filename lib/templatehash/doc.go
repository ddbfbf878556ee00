// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package templatehash names templates by content.
//
// A template's hash is the BLAKE3 keyed digest of its bytes under a
// fixed domain key, carried on the wire as 64 lowercase hex characters
// in the template_hash field. Producers compute it once at startup;
// the fuzz server and analysis server use it as the key of their
// template tables and of the result database.
package templatehash
