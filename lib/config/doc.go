// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads fuzzfarm configuration.
//
// Configuration comes from at most one file, named by the --config flag
// or the FUZZFARM_CONFIG environment variable. Files ending in .json or
// .jsonc are JSON with comments and trailing commas; anything else is
// YAML. With no file, [Default] applies.
//
// The file holds shared settings (poll interval, work directory, debug)
// and one section per role: production, server, analysis. A role
// section may override any shared setting for that role; [Config.Role]
// resolves the merged view. Command-line flags are applied by each
// binary after loading and take precedence over the file.
//
// Path fields are expanded after loading: ${HOME} and ${VAR:-default}
// patterns are substituted from the environment.
//
// [EnsureWorkDir] creates a missing work directory after an
// interactive confirmation, or when the caller passes create=true.
package config
