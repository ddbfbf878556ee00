// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package templatehash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// domainKey separates template hashes from any other BLAKE3 use of the
// same bytes. Changing it renames every stored template.
var domainKey = [32]byte{
	'f', 'u', 'z', 'z', 'f', 'a', 'r', 'm', '.', 't', 'e', 'm', 'p', 'l', 'a', 't',
	'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

func newHasher() *blake3.Hasher {
	hasher, err := blake3.NewKeyed(domainKey[:])
	if err != nil {
		panic("templatehash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

// Sum hashes a template held in memory.
func Sum(template []byte) Hash {
	hasher := newHasher()
	hasher.Write(template)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// File hashes the template at path without loading it whole.
func File(path string) (Hash, error) {
	file, err := os.Open(path)
	if err != nil {
		return Hash{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := newHasher()
	if _, err := io.Copy(hasher, file); err != nil {
		return Hash{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash, nil
}

// String returns the lowercase hex form used on the wire.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Parse decodes the wire form of a hash.
func Parse(text string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return hash, fmt.Errorf("parsing template hash: %w", err)
	}
	if len(decoded) != len(hash) {
		return hash, fmt.Errorf("template hash is %d bytes, want %d", len(decoded), len(hash))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// Matches reports whether template hashes to text.
func Matches(template []byte, text string) bool {
	hash, err := Parse(text)
	return err == nil && hash == Sum(template)
}
