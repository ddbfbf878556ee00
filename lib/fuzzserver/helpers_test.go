// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzserver

import (
	"context"
	"hash/crc32"
	"net"
	"testing"
	"time"

	"github.com/bureau-foundation/fuzzfarm/lib/clock"
	"github.com/bureau-foundation/fuzzfarm/lib/fuzzproto"
	"github.com/bureau-foundation/fuzzfarm/lib/netstring"
	"github.com/bureau-foundation/fuzzfarm/lib/templatehash"
	"github.com/bureau-foundation/fuzzfarm/lib/testutil"
	"github.com/bureau-foundation/fuzzfarm/lib/wire"
)

const (
	waitTimeout  = 5 * time.Second
	pollInterval = 10 * time.Second
)

var testTemplate = []byte("TEMPLATE")

func testTemplateHash() string { return templatehash.Sum(testTemplate).String() }

// startServer runs a server on a loopback port with a fake clock.
// modify may adjust the config before New.
func startServer(t *testing.T, modify func(*Config)) (*Server, *clock.FakeClock, <-chan error) {
	t.Helper()
	fake := clock.Fake(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	config := Config{
		ListenAddress:  "127.0.0.1:0",
		PollInterval:   pollInterval,
		ReportInterval: time.Hour,
		WorkDir:        testutil.WorkDir(t),
		Clock:          fake,
	}
	if modify != nil {
		modify(&config)
	}
	ctx, cancel := context.WithCancel(context.Background())
	server, err := New(ctx, config)
	if err != nil {
		cancel()
		t.Fatalf("New: %v", err)
	}

	result := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		result <- server.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, exited, waitTimeout, "server exit")
	})
	return server, fake, result
}

// onLoop runs fn on the server's loop and waits for it.
func onLoop(t *testing.T, s *Server, fn func()) {
	t.Helper()
	done := make(chan struct{})
	if !s.loop.Post(func() { fn(); close(done) }) {
		t.Fatal("server loop already stopped")
	}
	testutil.RequireClosed(t, done, waitTimeout, "loop call")
}

// fakePeer is a hand-driven protocol client.
type fakePeer struct {
	t        *testing.T
	conn     net.Conn
	messages chan wire.Message
	nextAck  uint64
}

func dialPeer(t *testing.T, s *Server) *fakePeer {
	t.Helper()
	conn, err := net.Dial("tcp", s.Address())
	if err != nil {
		t.Fatalf("dialing server: %v", err)
	}
	p := &fakePeer{
		t:        t,
		conn:     conn,
		messages: make(chan wire.Message, 256),
		nextAck:  1000,
	}
	t.Cleanup(func() { conn.Close() })
	go func() {
		defer close(p.messages)
		decoder := netstring.NewDecoder(netstring.DefaultMaxFrameSize)
		buffer := make([]byte, 64<<10)
		for {
			n, err := conn.Read(buffer)
			if err != nil {
				return
			}
			frames, _ := decoder.Feed(buffer[:n])
			for _, payload := range frames {
				if message, err := wire.Unmarshal(payload); err == nil {
					p.messages <- message
				}
			}
		}
	}()
	return p
}

func (p *fakePeer) send(message wire.Message) {
	p.t.Helper()
	payload, err := wire.Marshal(message)
	if err != nil {
		p.t.Fatalf("Marshal: %v", err)
	}
	if _, err := p.conn.Write(netstring.Encode(payload)); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

// sendTracked attaches a fresh ack_id and sends.
func (p *fakePeer) sendTracked(message wire.Message) uint64 {
	p.t.Helper()
	p.nextAck++
	p.send(message.WithAckID(p.nextAck))
	return p.nextAck
}

func (p *fakePeer) expect(verb string) wire.Message {
	p.t.Helper()
	message := testutil.RequireReceive(p.t, p.messages, waitTimeout, "waiting for %s", verb)
	if message.Verb() != verb {
		p.t.Fatalf("got %s, want %s", message.Label(), verb)
	}
	return message
}

func (p *fakePeer) expectAck(ackID uint64) wire.Message {
	p.t.Helper()
	ack := p.expect(fuzzproto.VerbAckMsg)
	if got, _ := ack.AckID(); got != ackID {
		p.t.Fatalf("ack for %d, want %d", got, ackID)
	}
	return ack
}

func (p *fakePeer) ack(message wire.Message) {
	p.t.Helper()
	id, ok := message.AckID()
	if !ok {
		p.t.Fatalf("%s has no ack_id", message.Verb())
	}
	p.send(wire.New(fuzzproto.VerbAckMsg).WithAckID(id))
}

// sync round-trips a template_request, so everything this peer sent
// before it has been handled.
func (p *fakePeer) sync() {
	p.t.Helper()
	ackID := p.sendTracked(wire.New(fuzzproto.VerbTemplateRequest).
		WithString(fuzzproto.FieldTemplateHash, testTemplateHash()))
	p.expectAck(ackID)
}

func startupMessage(stationID string) wire.Message {
	return wire.New(fuzzproto.VerbClientStartup).
		WithString(fuzzproto.FieldClientType, fuzzproto.ClientProduction).
		WithBytes(fuzzproto.FieldTemplate, testTemplate).
		WithString(fuzzproto.FieldEncoding, fuzzproto.EncodingBase64).
		WithInt(fuzzproto.FieldCRC32, int64(crc32.ChecksumIEEE(testTemplate))).
		WithString(fuzzproto.FieldStationID, stationID).
		WithString(fuzzproto.FieldQueue, "bulk").
		WithString(fuzzproto.FieldTemplateHash, testTemplateHash())
}

func testCaseMessage(stationID string, id int64, data []byte) wire.Message {
	return wire.New(fuzzproto.VerbNewTestCase).
		WithString(fuzzproto.FieldStationID, stationID).
		WithInt(fuzzproto.FieldID, id).
		WithInt(fuzzproto.FieldCRC32, int64(crc32.ChecksumIEEE(data))).
		WithString(fuzzproto.FieldEncoding, fuzzproto.EncodingBase64).
		WithBytes(fuzzproto.FieldData, data).
		WithString(fuzzproto.FieldQueue, "bulk").
		WithString(fuzzproto.FieldTemplateHash, testTemplateHash())
}

// startProducer connects a producer and completes its startup.
func startProducer(t *testing.T, s *Server, stationID string) *fakePeer {
	t.Helper()
	producer := dialPeer(t, s)
	producer.expectAck(producer.sendTracked(startupMessage(stationID)))
	producer.expect(fuzzproto.VerbServerReady)
	return producer
}

// pushCase sends one test case and waits for it to be accepted.
func (p *fakePeer) pushCase(stationID string, id int64, data []byte) {
	p.t.Helper()
	p.expectAck(p.sendTracked(testCaseMessage(stationID, id, data)))
	p.expect(fuzzproto.VerbServerReady)
}

func agentReady(result string) wire.Message {
	message := wire.New(fuzzproto.VerbClientReady)
	if result != "" {
		message = message.WithString(fuzzproto.FieldResult, result)
	}
	return message
}

func analysisReady() wire.Message {
	return wire.New(fuzzproto.VerbClientReady).
		WithString(fuzzproto.FieldClientType, fuzzproto.ClientAnalysis)
}
