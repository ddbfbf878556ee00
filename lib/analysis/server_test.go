// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/fuzzfarm/lib/fuzzproto"
	"github.com/bureau-foundation/fuzzfarm/lib/resultdb"
	"github.com/bureau-foundation/fuzzfarm/lib/results"
	"github.com/bureau-foundation/fuzzfarm/lib/testutil"
	"github.com/bureau-foundation/fuzzfarm/lib/wire"
)

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(context.Background(), Config{Workers: -1})
	if err == nil {
		t.Fatal("New accepted an invalid config")
	}
	for _, want := range []string{"fuzz server address", "listen address", "poll interval", "workers", "store"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestNewTemplateStoredThenAcked(t *testing.T) {
	h := startAnalysis(t, nil)
	h.feed(t, newTemplateMessage())

	stored, err := h.store.GetTemplate(context.Background(), testTemplateHash())
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	if !bytes.Equal(stored, testTemplate) {
		t.Errorf("stored template = %q, want %q", stored, testTemplate)
	}
	if got := h.server.Stats().Templates; got != 1 {
		t.Errorf("Stats().Templates = %d, want 1", got)
	}
}

func TestTemplateWithWrongHashDropped(t *testing.T) {
	h := startAnalysis(t, nil)
	message := newTemplateMessage().WithString(fuzzproto.FieldTemplateHash, strings.Repeat("0", 64))
	h.feed(t, message)

	if got := h.server.Stats().Templates; got != 0 {
		t.Errorf("Stats().Templates = %d, want 0", got)
	}
}

func TestCrashBecomesTraceJob(t *testing.T) {
	h := startAnalysis(t, nil)
	worker := h.dialWorker(t)
	worker.ready()

	crash := testResultMessage(7, "CRASH", []byte("crashing input")).
		WithString("exception", "0xc0000005")
	h.feed(t, crash)

	job := worker.expect(fuzzproto.VerbNewTraceJob)
	if id, _ := job.Int(fuzzproto.FieldID); id != 7 {
		t.Errorf("trace job id = %d, want 7", id)
	}
	if data, err := job.Bytes(fuzzproto.FieldData); err != nil || string(data) != "crashing input" {
		t.Errorf("trace job data = %q, %v", data, err)
	}
	if job.String("exception") != "0xc0000005" {
		t.Errorf("trace job exception = %q", job.String("exception"))
	}
	if _, ok := job.AckID(); !ok {
		t.Fatal("trace job is not tracked")
	}
	worker.ack(job)

	stored := h.store.(*resultdb.Memory).Results()
	if len(stored) != 1 {
		t.Fatalf("stored %d results, want 1", len(stored))
	}
	if stored[0].Status != results.StatusCrash || string(stored[0].Data) != "crashing input" {
		t.Errorf("stored result = %+v", stored[0])
	}
	if stored[0].Extra["exception"] != "0xc0000005" {
		t.Errorf("stored Extra = %v", stored[0].Extra)
	}
	if got := h.server.Stats(); got.Results != 1 || got.Crashes != 1 {
		t.Errorf("Stats() = %+v, want 1 result and 1 crash", got)
	}
}

func TestNonCrashResultIsOnlyStored(t *testing.T) {
	h := startAnalysis(t, nil)
	h.feed(t, testResultMessage(3, "fail", nil))

	stored := h.store.(*resultdb.Memory).Results()
	if len(stored) != 1 || stored[0].ID != 3 || stored[0].Status != results.StatusFail {
		t.Fatalf("stored = %+v, want one FAIL for id 3", stored)
	}
	if backlog := h.server.traces.Backlog(); backlog != 0 {
		t.Errorf("trace backlog = %d, want 0", backlog)
	}
}

func TestResultFieldFallback(t *testing.T) {
	h := startAnalysis(t, nil)
	h.feed(t, wire.New(fuzzproto.VerbTestResult).WithString(fuzzproto.FieldResult, "12:hang"))

	stored := h.store.(*resultdb.Memory).Results()
	if len(stored) != 1 || stored[0].ID != 12 || stored[0].Status != results.StatusHang {
		t.Fatalf("stored = %+v, want one HANG for id 12", stored)
	}
}

func TestUnreadableResultAckedAndDropped(t *testing.T) {
	h := startAnalysis(t, nil)
	h.feed(t, wire.New(fuzzproto.VerbTestResult).WithString(fuzzproto.FieldStatus, "CRASH"))

	if stored := h.store.(*resultdb.Memory).Results(); len(stored) != 0 {
		t.Errorf("stored %d results from a message with no id", len(stored))
	}
}

func TestCorruptCrashDataAckedAndDropped(t *testing.T) {
	h := startAnalysis(t, nil)
	crash := testResultMessage(4, "CRASH", []byte("payload")).WithInt(fuzzproto.FieldCRC32, 1)
	h.feed(t, crash)

	if stored := h.store.(*resultdb.Memory).Results(); len(stored) != 0 {
		t.Errorf("stored %d results with a bad checksum", len(stored))
	}
}

// failingStore refuses every write.
type failingStore struct {
	*resultdb.Memory
}

var errDiskFull = errors.New("disk full")

func (failingStore) StoreResult(context.Context, resultdb.Result) error { return errDiskFull }

func TestStoreFailureLeavesResultUnacked(t *testing.T) {
	h := startAnalysis(t, failingStore{resultdb.NewMemory()})
	h.upstream.sendTracked(testResultMessage(5, "SUCCESS", nil))

	// Without an ack the next thing the fuzz server hears is the
	// heartbeat, so the result is redelivered by its requeue.
	h.upstream.expect(fuzzproto.VerbClientReady)
	if got := h.server.Stats().Results; got != 0 {
		t.Errorf("Stats().Results = %d, want 0", got)
	}
}

func TestTemplateRequestServedFromCache(t *testing.T) {
	h := startAnalysis(t, nil)
	h.feed(t, newTemplateMessage())

	worker := h.dialWorker(t)
	ack := worker.expectAck(worker.sendTracked(wire.New(fuzzproto.VerbTemplateRequest).
		WithString(fuzzproto.FieldTemplateHash, testTemplateHash())))
	template, err := ack.Bytes(fuzzproto.FieldTemplate)
	if err != nil || !bytes.Equal(template, testTemplate) {
		t.Errorf("ack template = %q, %v", template, err)
	}
}

func TestTemplateRequestFallsBackToStore(t *testing.T) {
	store := resultdb.NewMemory()
	if err := store.StoreTemplate(context.Background(), testTemplateHash(), testTemplate); err != nil {
		t.Fatalf("StoreTemplate: %v", err)
	}
	h := startAnalysis(t, store)
	worker := h.dialWorker(t)

	for range 2 {
		ack := worker.expectAck(worker.sendTracked(wire.New(fuzzproto.VerbTemplateRequest).
			WithString(fuzzproto.FieldTemplateHash, testTemplateHash())))
		template, err := ack.Bytes(fuzzproto.FieldTemplate)
		if err != nil || !bytes.Equal(template, testTemplate) {
			t.Errorf("ack template = %q, %v", template, err)
		}
	}

	done := make(chan struct{})
	h.server.loop.Post(func() {
		if h.server.templates.hits != 1 || h.server.templates.misses != 1 {
			t.Errorf("cache hits=%d misses=%d, want 1 and 1", h.server.templates.hits, h.server.templates.misses)
		}
		close(done)
	})
	testutil.RequireClosed(t, done, waitTimeout, "cache check")
}

func TestUnknownTemplateGetsBareAck(t *testing.T) {
	h := startAnalysis(t, nil)
	worker := h.dialWorker(t)
	ack := worker.expectAck(worker.sendTracked(wire.New(fuzzproto.VerbTemplateRequest).
		WithString(fuzzproto.FieldTemplateHash, "unknown")))
	if ack.Has(fuzzproto.FieldTemplate) {
		t.Error("ack for an unknown template carries a template")
	}
}

func TestUnackedTraceJobRequeued(t *testing.T) {
	h := startAnalysis(t, nil)
	first := h.dialWorker(t)
	first.ready()
	h.feed(t, testResultMessage(9, "CRASH", []byte("boom")))

	job := first.expect(fuzzproto.VerbNewTraceJob)
	ackID, _ := job.AckID()

	second := h.dialWorker(t)
	second.ready()
	h.fake.Advance(pollInterval)

	requeued := second.expect(fuzzproto.VerbNewTraceJob)
	if got, _ := requeued.AckID(); got != ackID {
		t.Errorf("requeued ack_id = %d, want %d", got, ackID)
	}
	if id, _ := requeued.Int(fuzzproto.FieldID); id != 9 {
		t.Errorf("requeued id = %d, want 9", id)
	}
}

func TestQueuedJobGoesToNextReadyWorker(t *testing.T) {
	h := startAnalysis(t, nil)
	h.feed(t, testResultMessage(2, "CRASH", []byte("boom")))
	if backlog := h.server.traces.Backlog(); backlog != 1 {
		t.Fatalf("trace backlog = %d, want 1", backlog)
	}

	worker := h.dialWorker(t)
	worker.send(wire.New(fuzzproto.VerbClientReady))
	job := worker.expect(fuzzproto.VerbNewTraceJob)
	if id, _ := job.Int(fuzzproto.FieldID); id != 2 {
		t.Errorf("trace job id = %d, want 2", id)
	}
}

func TestWorkerDisconnectWithdrawsDemand(t *testing.T) {
	h := startAnalysis(t, nil)
	worker := h.dialWorker(t)
	worker.ready()
	if waiting := h.server.traces.Stats().Waiting; waiting != 1 {
		t.Fatalf("waiting demands = %d, want 1", waiting)
	}

	worker.conn.Close()
	testutil.WaitFor(t, waitTimeout, func() bool {
		return h.server.traces.Stats().Waiting == 0
	}, "demand withdrawn after disconnect")
}

func TestWorkerByeWithdrawsDemand(t *testing.T) {
	h := startAnalysis(t, nil)
	worker := h.dialWorker(t)
	worker.ready()
	worker.expectAck(worker.sendTracked(wire.New(fuzzproto.VerbClientBye)))

	if waiting := h.server.traces.Stats().Waiting; waiting != 0 {
		t.Errorf("waiting demands = %d after bye, want 0", waiting)
	}
}

func TestServerByeStops(t *testing.T) {
	h := startAnalysis(t, nil)
	h.upstream.send(wire.New(fuzzproto.VerbServerBye))

	if err := testutil.RequireReceive(t, h.result, waitTimeout, "waiting for Run to return"); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestHeartbeatRepeatsWhileIdle(t *testing.T) {
	h := startAnalysis(t, nil)
	h.fake.Advance(pollInterval)
	h.upstream.expect(fuzzproto.VerbClientReady)
	h.fake.Advance(pollInterval + time.Second)
	h.upstream.expect(fuzzproto.VerbClientReady)
}
