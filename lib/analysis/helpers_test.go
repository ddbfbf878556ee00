// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"context"
	"hash/crc32"
	"net"
	"testing"
	"time"

	"github.com/bureau-foundation/fuzzfarm/lib/clock"
	"github.com/bureau-foundation/fuzzfarm/lib/fuzzproto"
	"github.com/bureau-foundation/fuzzfarm/lib/netstring"
	"github.com/bureau-foundation/fuzzfarm/lib/resultdb"
	"github.com/bureau-foundation/fuzzfarm/lib/templatehash"
	"github.com/bureau-foundation/fuzzfarm/lib/testutil"
	"github.com/bureau-foundation/fuzzfarm/lib/wire"
)

const (
	waitTimeout  = 5 * time.Second
	pollInterval = 10 * time.Second
)

var testTemplate = []byte("<html>TEMPLATE</html>")

func testTemplateHash() string { return templatehash.Sum(testTemplate).String() }

type harness struct {
	server   *Server
	store    resultdb.Store
	fake     *clock.FakeClock
	upstream *fakePeer
	result   <-chan error
}

// startAnalysis runs an analysis server against a fake fuzz server and
// waits for its first client_ready.
func startAnalysis(t *testing.T, store resultdb.Store) *harness {
	t.Helper()
	if store == nil {
		store = resultdb.NewMemory()
	}
	fuzzServer := testutil.Listen(t)
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := fuzzServer.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	fake := clock.Fake(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	server, err := New(ctx, Config{
		FuzzServerAddress: fuzzServer.Addr().String(),
		ListenAddress:     "127.0.0.1:0",
		PollInterval:      pollInterval,
		Store:             store,
		Clock:             fake,
	})
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
		testutil.RequireClosed(t, exited, waitTimeout, "analysis server exit")
	})

	conn := testutil.RequireReceive(t, accepted, waitTimeout, "waiting for the analysis server to dial")
	upstream := newFakePeer(t, conn)
	ready := upstream.expect(fuzzproto.VerbClientReady)
	if kind := ready.String(fuzzproto.FieldClientType); kind != fuzzproto.ClientAnalysis {
		t.Fatalf("client_ready client_type = %q, want analysis", kind)
	}
	return &harness{server: server, store: store, fake: fake, upstream: upstream, result: result}
}

// fakePeer is a hand-driven protocol endpoint.
type fakePeer struct {
	t        *testing.T
	conn     net.Conn
	messages chan wire.Message
	nextAck  uint64
}

func newFakePeer(t *testing.T, conn net.Conn) *fakePeer {
	p := &fakePeer{
		t:        t,
		conn:     conn,
		messages: make(chan wire.Message, 256),
		nextAck:  5000,
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

// dialWorker connects a trace worker to the analysis server.
func (h *harness) dialWorker(t *testing.T) *fakePeer {
	t.Helper()
	conn, err := net.Dial("tcp", h.server.Address())
	if err != nil {
		t.Fatalf("dialing analysis server: %v", err)
	}
	worker := newFakePeer(t, conn)
	worker.expectAck(worker.sendTracked(wire.New(fuzzproto.VerbClientStartup).
		WithString(fuzzproto.FieldClientType, fuzzproto.ClientTrace)))
	return worker
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

// ready announces a trace worker and round-trips a template_request so
// the announcement has been handled.
func (p *fakePeer) ready() {
	p.t.Helper()
	p.send(wire.New(fuzzproto.VerbClientReady).WithString(fuzzproto.FieldClientType, fuzzproto.ClientTrace))
	p.expectAck(p.sendTracked(wire.New(fuzzproto.VerbTemplateRequest).
		WithString(fuzzproto.FieldTemplateHash, "sync")))
}

// feed sends a tracked feed message from the fake fuzz server and waits
// for the analysis server to ack it and ask for the next one.
func (h *harness) feed(t *testing.T, message wire.Message) {
	t.Helper()
	h.upstream.expectAck(h.upstream.sendTracked(message))
	h.upstream.expect(fuzzproto.VerbClientReady)
}

func newTemplateMessage() wire.Message {
	return wire.New(fuzzproto.VerbNewTemplate).
		WithString(fuzzproto.FieldTemplateHash, testTemplateHash()).
		WithString(fuzzproto.FieldEncoding, fuzzproto.EncodingBase64).
		WithBytes(fuzzproto.FieldTemplate, testTemplate).
		WithString(fuzzproto.FieldStationID, "station-1").
		WithString(fuzzproto.FieldQueue, "bulk")
}

func testResultMessage(id int64, status string, data []byte) wire.Message {
	message := wire.New(fuzzproto.VerbTestResult).
		WithInt(fuzzproto.FieldID, id).
		WithString(fuzzproto.FieldStatus, status).
		WithString(fuzzproto.FieldStationID, "station-1").
		WithString(fuzzproto.FieldQueue, "bulk").
		WithString(fuzzproto.FieldTemplateHash, testTemplateHash())
	if data != nil {
		message = message.
			WithInt(fuzzproto.FieldCRC32, int64(crc32.ChecksumIEEE(data))).
			WithString(fuzzproto.FieldEncoding, fuzzproto.EncodingBase64).
			WithBytes(fuzzproto.FieldData, data)
	}
	return message
}
