// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resultdb

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bureau-foundation/fuzzfarm/lib/results"
)

// ErrTemplateNotFound is returned by GetTemplate for an unknown hash.
var ErrTemplateNotFound = errors.New("resultdb: template not found")

// Result is one test_result as stored.
type Result struct {
	ID           uint64
	Status       results.Status
	StationID    string
	Queue        string
	TemplateHash string
	CRC32        uint32

	// Data is the test case. Only crashes carry it.
	Data []byte

	// Extra holds every field the fleet does not interpret, such as
	// the agent's exception details.
	Extra map[string]any

	Received time.Time
}

// Store persists templates and results. Implementations are safe for
// concurrent use; every method may block on I/O.
type Store interface {
	GetTemplate(ctx context.Context, hash string) ([]byte, error)

	// StoreTemplate records template under hash. Storing a hash again
	// is a no-op.
	StoreTemplate(ctx context.Context, hash string, template []byte) error

	StoreResult(ctx context.Context, result Result) error
}

// Memory is an in-process Store.
type Memory struct {
	mu        sync.Mutex
	templates map[string][]byte
	results   []Result
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{templates: make(map[string][]byte)}
}

func (m *Memory) GetTemplate(ctx context.Context, hash string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	template, ok := m.templates[hash]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return template, nil
}

func (m *Memory) StoreTemplate(ctx context.Context, hash string, template []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.templates[hash]; !exists {
		m.templates[hash] = append([]byte(nil), template...)
	}
	return nil
}

func (m *Memory) StoreResult(ctx context.Context, result Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	return nil
}

// Results returns a copy of every stored result in arrival order.
func (m *Memory) Results() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Result(nil), m.results...)
}
