// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reliable

import "sync/atomic"

// AckCounter allocates ack ids. Ids start at 1 and increase by one per
// call, so no two calls on the same counter return the same id.
type AckCounter struct {
	last atomic.Uint64
}

// NewAckCounter returns a counter whose first id is 1.
func NewAckCounter() *AckCounter {
	return &AckCounter{}
}

// Next returns a fresh ack id. Safe for concurrent use.
func (c *AckCounter) Next() uint64 {
	return c.last.Add(1)
}
