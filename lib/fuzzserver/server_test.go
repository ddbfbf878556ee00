// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzserver

import (
	"bytes"
	"context"
	"hash/crc32"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/fuzzfarm/lib/fuzzproto"
	"github.com/bureau-foundation/fuzzfarm/lib/results"
	"github.com/bureau-foundation/fuzzfarm/lib/statefile"
	"github.com/bureau-foundation/fuzzfarm/lib/templatehash"
	"github.com/bureau-foundation/fuzzfarm/lib/testutil"
	"github.com/bureau-foundation/fuzzfarm/lib/wire"
)

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(context.Background(), Config{PollInterval: -time.Second, Workers: -1})
	if err == nil {
		t.Fatal("New accepted an invalid config")
	}
	for _, want := range []string{"listen address", "poll interval", "workers"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestProducerStartupAckedThenReady(t *testing.T) {
	server, _, _ := startServer(t, nil)
	startProducer(t, server, "station-1")

	if status, ok := server.Tracker().Status(1); ok {
		t.Errorf("id 1 exists (%s) before any test case", status)
	}
}

func TestCaseReachesAgentAndResultIsForwarded(t *testing.T) {
	server, _, _ := startServer(t, nil)
	producer := startProducer(t, server, "station-1")
	producer.pushCase("station-1", 1, []byte("case-a"))

	if status, _ := server.Tracker().Status(1); status != results.StatusCheckedOut {
		t.Fatalf("id 1 = %q after enqueue, want CHECKED_OUT", status)
	}

	agent := dialPeer(t, server)
	agent.send(agentReady(""))
	delivered := agent.expect(fuzzproto.VerbNewTestCase)
	if id, _ := delivered.Int(fuzzproto.FieldID); id != 1 {
		t.Errorf("delivered id = %d, want 1", id)
	}
	if data, err := delivered.Bytes(fuzzproto.FieldData); err != nil || !bytes.Equal(data, []byte("case-a")) {
		t.Errorf("delivered data = %q, %v", data, err)
	}
	if delivered.String(fuzzproto.FieldTemplateHash) != testTemplateHash() {
		t.Errorf("delivered template_hash = %q", delivered.String(fuzzproto.FieldTemplateHash))
	}
	if _, ok := delivered.AckID(); !ok {
		t.Fatal("delivery is not tracked")
	}
	agent.ack(delivered)
	agent.send(agentReady("1:crash").WithString("exception", "0xc0000005"))
	agent.sync()

	if status, _ := server.Tracker().Status(1); status != results.StatusCrash {
		t.Errorf("id 1 = %q, want CRASH", status)
	}

	analysis := dialPeer(t, server)
	analysis.send(analysisReady())
	newTemplate := analysis.expect(fuzzproto.VerbNewTemplate)
	template, err := newTemplate.Bytes(fuzzproto.FieldTemplate)
	if err != nil || !templatehash.Matches(template, newTemplate.String(fuzzproto.FieldTemplateHash)) {
		t.Errorf("new_template carries %q (hash %s), %v", template, newTemplate.String(fuzzproto.FieldTemplateHash), err)
	}
	analysis.ack(newTemplate)

	analysis.send(analysisReady())
	result := analysis.expect(fuzzproto.VerbTestResult)
	if result.String(fuzzproto.FieldStatus) != string(results.StatusCrash) ||
		result.String(fuzzproto.FieldResult) != "1:CRASH" {
		t.Errorf("test_result = %s status %q result %q", result.Label(),
			result.String(fuzzproto.FieldStatus), result.String(fuzzproto.FieldResult))
	}
	if data, err := result.Bytes(fuzzproto.FieldData); err != nil || !bytes.Equal(data, []byte("case-a")) {
		t.Errorf("crash result data = %q, %v", data, err)
	}
	if result.String("exception") != "0xc0000005" {
		t.Errorf("unknown agent field not passed through: %q", result.String("exception"))
	}
	if result.String(fuzzproto.FieldStationID) != "station-1" {
		t.Errorf("station_id = %q", result.String(fuzzproto.FieldStationID))
	}
}

func TestNonCrashResultCarriesNoData(t *testing.T) {
	server, _, _ := startServer(t, nil)
	producer := startProducer(t, server, "station-1")
	producer.pushCase("station-1", 1, []byte("case-a"))

	agent := dialPeer(t, server)
	agent.send(agentReady(""))
	agent.ack(agent.expect(fuzzproto.VerbNewTestCase))
	agent.send(agentReady("1:SUCCESS"))
	agent.sync()

	analysis := dialPeer(t, server)
	analysis.send(analysisReady())
	analysis.ack(analysis.expect(fuzzproto.VerbNewTemplate))
	analysis.send(analysisReady())
	result := analysis.expect(fuzzproto.VerbTestResult)
	if result.Has(fuzzproto.FieldData) {
		t.Error("SUCCESS result carries the test case")
	}
}

func TestDuplicateResultRejected(t *testing.T) {
	server, _, _ := startServer(t, nil)
	producer := startProducer(t, server, "station-1")
	producer.pushCase("station-1", 1, []byte("case-a"))

	agent := dialPeer(t, server)
	agent.send(agentReady(""))
	agent.ack(agent.expect(fuzzproto.VerbNewTestCase))
	agent.send(agentReady("1:HANG"))
	agent.sync()
	agent.send(agentReady("1:SUCCESS"))
	agent.send(agentReady("99:SUCCESS"))
	agent.sync()

	if status, _ := server.Tracker().Status(1); status != results.StatusHang {
		t.Errorf("id 1 = %q, want the first result HANG", status)
	}
	if snapshot := server.Tracker().Snapshot(); snapshot.Total() != snapshot.Issued || snapshot.Issued != 1 {
		t.Errorf("snapshot %+v", snapshot)
	}
}

func TestTestCaseWithoutStartupGetsReset(t *testing.T) {
	server, _, _ := startServer(t, nil)
	producer := dialPeer(t, server)

	producer.send(wire.New(fuzzproto.VerbClientReady).
		WithString(fuzzproto.FieldClientType, fuzzproto.ClientProduction))
	producer.expect(fuzzproto.VerbReset)

	producer.sendTracked(testCaseMessage("station-1", 1, []byte("orphan")))
	producer.expect(fuzzproto.VerbReset)

	if issued := server.Tracker().Snapshot().Issued; issued != 0 {
		t.Errorf("issued = %d, want 0", issued)
	}
}

func TestResentCaseIsNotEnqueuedTwice(t *testing.T) {
	server, _, _ := startServer(t, nil)
	producer := startProducer(t, server, "station-1")

	message := testCaseMessage("station-1", 7, []byte("once")).WithAckID(50)
	producer.send(message)
	producer.expectAck(50)
	producer.expect(fuzzproto.VerbServerReady)

	producer.send(message)
	producer.expectAck(50)
	producer.expect(fuzzproto.VerbServerReady)

	if issued := server.Tracker().Snapshot().Issued; issued != 1 {
		t.Errorf("issued = %d, want 1", issued)
	}
}

func TestChecksumMismatchIsAckedAndDropped(t *testing.T) {
	server, _, _ := startServer(t, nil)
	producer := startProducer(t, server, "station-1")

	corrupt := testCaseMessage("station-1", 1, []byte("payload")).WithInt(fuzzproto.FieldCRC32, 12345)
	producer.expectAck(producer.sendTracked(corrupt))
	producer.expect(fuzzproto.VerbServerReady)

	if issued := server.Tracker().Snapshot().Issued; issued != 0 {
		t.Errorf("issued = %d, want 0", issued)
	}
}

func TestUnackedDeliveryIsRequeued(t *testing.T) {
	server, fake, _ := startServer(t, nil)
	producer := startProducer(t, server, "station-1")
	producer.pushCase("station-1", 1, []byte("case-a"))

	first := dialPeer(t, server)
	first.send(agentReady(""))
	original := first.expect(fuzzproto.VerbNewTestCase)
	originalAck, _ := original.AckID()

	second := dialPeer(t, server)
	second.send(agentReady(""))
	second.sync()

	fake.Advance(pollInterval)
	redelivered := second.expect(fuzzproto.VerbNewTestCase)
	if ackID, _ := redelivered.AckID(); ackID != originalAck {
		t.Errorf("requeued ack_id = %d, want %d", ackID, originalAck)
	}
	if id, _ := redelivered.Int(fuzzproto.FieldID); id != 1 {
		t.Errorf("requeued id = %d, want 1", id)
	}

	// The first agent's late ack is stale and changes nothing.
	first.ack(original)
	second.ack(redelivered)
	second.send(agentReady("1:FAIL"))
	second.sync()
	if status, _ := server.Tracker().Status(1); status != results.StatusFail {
		t.Errorf("id 1 = %q, want FAIL", status)
	}
}

func TestDisconnectRequeuesAckedCase(t *testing.T) {
	server, _, _ := startServer(t, nil)
	producer := startProducer(t, server, "station-1")
	producer.pushCase("station-1", 1, []byte("case-a"))

	lost := dialPeer(t, server)
	lost.send(agentReady(""))
	lost.ack(lost.expect(fuzzproto.VerbNewTestCase))
	lost.sync()
	lost.conn.Close()

	replacement := dialPeer(t, server)
	replacement.send(agentReady(""))
	delivered := replacement.expect(fuzzproto.VerbNewTestCase)
	if id, _ := delivered.Int(fuzzproto.FieldID); id != 1 {
		t.Errorf("requeued id = %d, want 1", id)
	}
	if status, _ := server.Tracker().Status(1); status != results.StatusCheckedOut {
		t.Errorf("id 1 = %q, want still CHECKED_OUT", status)
	}
}

func TestTemplateRequestAnsweredWithTemplate(t *testing.T) {
	server, _, _ := startServer(t, nil)
	startProducer(t, server, "station-1")

	agent := dialPeer(t, server)
	ackID := agent.sendTracked(wire.New(fuzzproto.VerbTemplateRequest).
		WithString(fuzzproto.FieldTemplateHash, testTemplateHash()))
	ack := agent.expectAck(ackID)
	template, err := ack.Bytes(fuzzproto.FieldTemplate)
	if err != nil || !bytes.Equal(template, testTemplate) {
		t.Errorf("template = %q, %v", template, err)
	}

	missing := agent.sendTracked(wire.New(fuzzproto.VerbTemplateRequest).
		WithString(fuzzproto.FieldTemplateHash, "00"))
	if agent.expectAck(missing).Has(fuzzproto.FieldTemplate) {
		t.Error("unknown template answered with data")
	}
}

func TestUnknownVerbKeepsConnection(t *testing.T) {
	server, _, _ := startServer(t, nil)
	producer := dialPeer(t, server)
	producer.send(wire.New("teleport").WithString("where", "mars"))
	producer.expectAck(producer.sendTracked(startupMessage("station-1")))
	producer.expect(fuzzproto.VerbServerReady)
}

func TestResetProducers(t *testing.T) {
	server, _, _ := startServer(t, nil)
	producer := startProducer(t, server, "station-1")

	server.ResetProducers()
	producer.expect(fuzzproto.VerbReset)

	producer.expectAck(producer.sendTracked(startupMessage("station-1")))
	producer.expect(fuzzproto.VerbServerReady)
}

func TestHeartbeatAnsweredOnlyWhenReadyIsOwed(t *testing.T) {
	server, _, _ := startServer(t, nil)
	producer := startProducer(t, server, "station-1")

	heartbeat := wire.New(fuzzproto.VerbClientReady).
		WithString(fuzzproto.FieldClientType, fuzzproto.ClientProduction)
	producer.send(heartbeat)
	producer.sync()

	var readySent bool
	onLoop(t, server, func() {
		for _, c := range server.conns {
			if c.kind == fuzzproto.ClientProduction {
				readySent = c.readySent
			}
		}
	})
	if !readySent {
		t.Error("server_ready not recorded as outstanding")
	}
}

func TestDrainsAndWritesState(t *testing.T) {
	var workDir string
	server, fake, done := startServer(t, func(config *Config) {
		config.ExitWhenDrained = true
		config.GraceDelay = 3 * time.Second
		workDir = config.WorkDir
	})
	producer := startProducer(t, server, "station-1")
	producer.pushCase("station-1", 1, []byte("case-a"))

	agent := dialPeer(t, server)
	agent.send(agentReady(""))
	agent.ack(agent.expect(fuzzproto.VerbNewTestCase))
	agent.send(agentReady("1:SUCCESS"))
	agent.sync()

	producer.expectAck(producer.sendTracked(wire.New(fuzzproto.VerbClientBye).
		WithString(fuzzproto.FieldClientType, fuzzproto.ClientProduction).
		WithString(fuzzproto.FieldStationID, "station-1")))
	producer.expect(fuzzproto.VerbServerBye)
	agent.expect(fuzzproto.VerbServerBye)

	fake.Advance(3 * time.Second)
	if err := testutil.RequireReceive(t, done, waitTimeout, "server exit"); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}

	var snapshot results.Snapshot
	if err := statefile.Read(filepath.Join(workDir, StateFileName), &snapshot); err != nil {
		t.Fatalf("reading final state: %v", err)
	}
	if snapshot.Success != 1 || snapshot.Issued != 1 || snapshot.CheckedOut != 0 {
		t.Errorf("final snapshot %+v", snapshot)
	}
}

func TestShutdownWritesStateWithoutDraining(t *testing.T) {
	workDir := testutil.WorkDir(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server, err := New(ctx, Config{
		ListenAddress: "127.0.0.1:0",
		PollInterval:  pollInterval,
		WorkDir:       workDir,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	startProducer(t, server, "station-1").pushCase("station-1", 1, []byte("case-a"))
	cancel()
	if err := testutil.RequireReceive(t, done, waitTimeout, "server exit"); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}

	var snapshot results.Snapshot
	if err := statefile.Read(filepath.Join(workDir, StateFileName), &snapshot); err != nil {
		t.Fatalf("reading final state: %v", err)
	}
	if snapshot.CheckedOut != 1 || snapshot.Issued != 1 {
		t.Errorf("final snapshot %+v, want one case without a result", snapshot)
	}
}

// forwardedResult connects an analysis peer and returns the first
// test_result on the feed, after acking the template.
func forwardedResult(t *testing.T, s *Server) wire.Message {
	t.Helper()
	analysis := dialPeer(t, s)
	analysis.send(analysisReady())
	analysis.ack(analysis.expect(fuzzproto.VerbNewTemplate))
	analysis.send(analysisReady())
	result := analysis.expect(fuzzproto.VerbTestResult)
	analysis.ack(result)
	return result
}

func requireCrashCase(t *testing.T, result wire.Message, want []byte) {
	t.Helper()
	if result.String(fuzzproto.FieldResult) != "1:CRASH" {
		t.Fatalf("test_result result = %q, want 1:CRASH", result.String(fuzzproto.FieldResult))
	}
	if data, err := result.Bytes(fuzzproto.FieldData); err != nil || !bytes.Equal(data, want) {
		t.Errorf("crash data = %q, %v; want %q", data, err, want)
	}
	if got, _ := result.Int(fuzzproto.FieldCRC32); uint32(got) != crc32.ChecksumIEEE(want) {
		t.Errorf("crc32 = %08x", got)
	}
	if result.String(fuzzproto.FieldTemplateHash) != testTemplateHash() {
		t.Errorf("template_hash = %q", result.String(fuzzproto.FieldTemplateHash))
	}
	if result.String(fuzzproto.FieldStationID) != "station-1" || result.String(fuzzproto.FieldQueue) != "bulk" {
		t.Errorf("station_id = %q, queue = %q",
			result.String(fuzzproto.FieldStationID), result.String(fuzzproto.FieldQueue))
	}
}

func TestCrashReportedAfterReconnectKeepsTestCase(t *testing.T) {
	server, _, _ := startServer(t, nil)
	producer := startProducer(t, server, "station-1")
	producer.pushCase("station-1", 1, []byte("case-a"))

	lost := dialPeer(t, server)
	lost.send(agentReady(""))
	lost.ack(lost.expect(fuzzproto.VerbNewTestCase))
	lost.sync()
	lost.conn.Close()
	testutil.WaitFor(t, waitTimeout, func() bool { return server.cases.Backlog() == 1 },
		"acked case requeued after disconnect")

	// The same agent comes back and reports the case it was running.
	// The requeued copy must not be handed back to it before the
	// sync's ack.
	reconnected := dialPeer(t, server)
	reconnected.send(agentReady("1:CRASH"))
	reconnected.sync()

	if status, _ := server.Tracker().Status(1); status != results.StatusCrash {
		t.Errorf("id 1 = %q, want CRASH", status)
	}
	if backlog := server.cases.Backlog(); backlog != 0 {
		t.Errorf("backlog = %d after the requeued case finished, want 0", backlog)
	}
	requireCrashCase(t, forwardedResult(t, server), []byte("case-a"))
}

func TestLateAckedCrashKeepsTestCaseAndIsNotRedelivered(t *testing.T) {
	server, fake, _ := startServer(t, nil)
	producer := startProducer(t, server, "station-1")
	producer.pushCase("station-1", 1, []byte("case-a"))

	agent := dialPeer(t, server)
	agent.send(agentReady(""))
	delivered := agent.expect(fuzzproto.VerbNewTestCase)
	agent.sync()

	fake.Advance(pollInterval)
	testutil.WaitFor(t, waitTimeout, func() bool { return server.cases.Backlog() == 1 },
		"unacked delivery requeued")

	agent.ack(delivered)
	agent.send(agentReady("1:CRASH"))
	agent.sync()

	if backlog := server.cases.Backlog(); backlog != 0 {
		t.Errorf("backlog = %d after the case finished, want 0", backlog)
	}
	requireCrashCase(t, forwardedResult(t, server), []byte("case-a"))
}

func TestUndecodableTestCaseIsAckedAndDropped(t *testing.T) {
	server, _, _ := startServer(t, nil)
	producer := startProducer(t, server, "station-1")

	garbled := testCaseMessage("station-1", 1, []byte("payload")).
		WithString(fuzzproto.FieldData, "%%% not base64 %%%")
	producer.expectAck(producer.sendTracked(garbled))
	producer.expect(fuzzproto.VerbServerReady)

	if issued := server.Tracker().Snapshot().Issued; issued != 0 {
		t.Errorf("issued = %d, want 0", issued)
	}
}

func TestDrainWaitsForAnalysisFeed(t *testing.T) {
	server, fake, done := startServer(t, func(config *Config) {
		config.ExitWhenDrained = true
		config.GraceDelay = 3 * time.Second
	})
	analysis := dialPeer(t, server)
	analysis.send(analysisReady())
	analysis.sync()

	producer := startProducer(t, server, "station-1")
	newTemplate := analysis.expect(fuzzproto.VerbNewTemplate)
	producer.pushCase("station-1", 1, []byte("case-a"))

	agent := dialPeer(t, server)
	agent.send(agentReady(""))
	agent.ack(agent.expect(fuzzproto.VerbNewTestCase))
	agent.send(agentReady("1:CRASH"))
	agent.sync()

	producer.expectAck(producer.sendTracked(wire.New(fuzzproto.VerbClientBye).
		WithString(fuzzproto.FieldClientType, fuzzproto.ClientProduction).
		WithString(fuzzproto.FieldStationID, "station-1")))
	// Still serving: the sync is answered before any server_bye.
	producer.sync()

	analysis.ack(newTemplate)
	analysis.sync()
	analysis.send(analysisReady())
	result := analysis.expect(fuzzproto.VerbTestResult)
	requireCrashCase(t, result, []byte("case-a"))
	producer.sync()

	analysis.ack(result)
	analysis.expect(fuzzproto.VerbServerBye)
	producer.expect(fuzzproto.VerbServerBye)

	fake.Advance(3 * time.Second)
	if err := testutil.RequireReceive(t, done, waitTimeout, "server exit"); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
}
