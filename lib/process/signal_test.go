// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/bureau-foundation/fuzzfarm/lib/testutil"
)

func TestOnHangup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := make(chan struct{}, 1)
	OnHangup(ctx, func() {
		select {
		case called <- struct{}{}:
		default:
		}
	})
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("sending SIGHUP: %v", err)
	}
	testutil.RequireReceive(t, called, 5*time.Second, "waiting for the hangup callback")
}
