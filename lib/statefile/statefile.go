// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statefile writes and reads small CBOR state files atomically.
//
// The fuzz server records its final tracker snapshot in the work
// directory on shutdown so an operator (or the next run) can see how
// the previous campaign ended. Write goes through a temporary file in
// the same directory, fsync, and rename, so readers never see a
// partial file.
package statefile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/fuzzfarm/lib/codec"
)

// Write atomically writes v as CBOR to path. The file is created with
// mode 0600. The parent directory must already exist.
func Write(path string, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding state for %s: %w", path, err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary state file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}

	// Sync the parent so the rename survives power loss.
	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

// Read decodes the CBOR state file at path into v. When the file does
// not exist the returned error wraps os.ErrNotExist.
func Read(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing state file %s: %w", path, err)
	}
	return nil
}
