// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analysis

// templateCache maps template hashes to template blobs. Entries are
// never evicted. Loop only.
type templateCache struct {
	entries map[string][]byte
	hits    uint64
	misses  uint64
}

func newTemplateCache() *templateCache {
	return &templateCache{entries: make(map[string][]byte)}
}

func (c *templateCache) get(hash string) ([]byte, bool) {
	template, ok := c.entries[hash]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return template, ok
}

func (c *templateCache) put(hash string, template []byte) {
	if _, exists := c.entries[hash]; !exists {
		c.entries[hash] = template
	}
}

func (c *templateCache) len() int { return len(c.entries) }
