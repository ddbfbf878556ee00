// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/fuzzfarm/lib/fuzzproto"
	"github.com/bureau-foundation/fuzzfarm/lib/reliable"
	"github.com/bureau-foundation/fuzzfarm/lib/results"
	"github.com/bureau-foundation/fuzzfarm/lib/templatehash"
	"github.com/bureau-foundation/fuzzfarm/lib/wire"
	"github.com/bureau-foundation/fuzzfarm/lib/workpool"
)

func (s *Server) route(c *conn) {
	router := c.peer.Router()
	router.Handle(fuzzproto.VerbClientStartup, func(message wire.Message) error {
		return s.handleStartup(c, message)
	})
	router.Handle(fuzzproto.VerbClientReady, func(message wire.Message) error {
		return s.handleReady(c, message)
	})
	router.Handle(fuzzproto.VerbNewTestCase, func(message wire.Message) error {
		return s.handleTestCase(c, message)
	})
	router.Handle(fuzzproto.VerbClientBye, func(message wire.Message) error {
		return s.handleBye(c, message)
	})
	router.Handle(fuzzproto.VerbAckMsg, func(message wire.Message) error {
		s.handleAck(c, message)
		return nil
	})
	router.Handle(fuzzproto.VerbTemplateRequest, func(message wire.Message) error {
		return s.handleTemplateRequest(c, message)
	})
}

// classify settles a connection's role the first time a message names
// one. Agents usually do not say, so a bare client_ready is an agent.
func (c *conn) classify(message wire.Message) string {
	if c.kind != "" {
		return c.kind
	}
	kind := message.String(fuzzproto.FieldClientType)
	if kind == "" {
		kind = fuzzproto.ClientFuzz
	}
	c.kind = kind
	c.peer.Logger().Debug("classified peer", "kind", kind)
	return kind
}

func (s *Server) handleStartup(c *conn, message wire.Message) error {
	kind := message.String(fuzzproto.FieldClientType)
	if kind == "" {
		kind = c.classify(message)
	} else {
		c.kind = kind
	}
	if kind != fuzzproto.ClientProduction {
		s.ack(c, message, nil)
		return nil
	}

	template, _, err := verifiedBytes(message, fuzzproto.FieldTemplate)
	if err != nil {
		// No ack: the producer resends its startup until it gets one.
		return fmt.Errorf("producer startup: %w", err)
	}
	hash := message.String(fuzzproto.FieldTemplateHash)
	if hash == "" {
		hash = templatehash.Sum(template).String()
	} else if !templatehash.Matches(template, hash) {
		return fmt.Errorf("producer startup: template does not match template_hash %s", hash)
	}

	c.stationID = message.String(fuzzproto.FieldStationID)
	c.startups++
	if _, seen := s.producers[c.stationID]; !seen {
		s.producers[c.stationID] = false
	}
	if _, known := s.templates[hash]; !known {
		s.templates[hash] = template
		s.feed.Submit(wire.New(fuzzproto.VerbNewTemplate).
			WithString(fuzzproto.FieldTemplateHash, hash).
			WithString(fuzzproto.FieldEncoding, fuzzproto.EncodingBase64).
			WithBytes(fuzzproto.FieldTemplate, template).
			WithString(fuzzproto.FieldStationID, c.stationID).
			WithString(fuzzproto.FieldQueue, message.String(fuzzproto.FieldQueue)))
	}
	c.peer.Logger().Info("producer started",
		"station_id", c.stationID, "template_hash", hash, "startups", c.startups)

	s.ack(c, message, nil)
	c.readySent = false
	s.offerReady(c)
	return nil
}

func (s *Server) handleReady(c *conn, message wire.Message) error {
	s.ack(c, message, nil)
	switch c.classify(message) {
	case fuzzproto.ClientProduction:
		s.producerHeartbeat(c)
	case fuzzproto.ClientAnalysis:
		s.analysisReady(c)
	default:
		s.agentReady(c, message)
	}
	return nil
}

// producerHeartbeat answers an idle producer. A server_ready goes out
// only when none is outstanding and no case is waiting for room;
// answering every heartbeat would multiply the cases in flight.
func (s *Server) producerHeartbeat(c *conn) {
	if c.startups == 0 {
		s.sendOnce(c, wire.New(fuzzproto.VerbReset))
		return
	}
	s.offerReady(c)
}

// offerReady sends server_ready unless one is already outstanding or
// the producer's last case is still being enqueued.
func (s *Server) offerReady(c *conn) {
	if c.readySent || c.enqueuing > 0 || c.finished {
		return
	}
	c.readySent = true
	s.sendOnce(c, wire.New(fuzzproto.VerbServerReady))
}

func (s *Server) handleTestCase(c *conn, message wire.Message) error {
	if c.kind != fuzzproto.ClientProduction || c.startups == 0 {
		c.peer.Logger().Info("test case from a producer with no startup, asking for a reset")
		s.sendOnce(c, wire.New(fuzzproto.VerbReset))
		return nil
	}

	item, err := parseTestCase(message)
	c.readySent = false
	if err != nil {
		// Resending would not fix a bad checksum or undecodable data.
		// Take the ack so the producer moves on.
		s.ack(c, message, nil)
		s.offerReady(c)
		producerCaseID, _ := message.Int(fuzzproto.FieldID)
		return fmt.Errorf("dropping test case %d: %w", producerCaseID, err)
	}

	if item.ProducerCaseID == c.lastCaseID && item.ProducerCaseID != 0 {
		// A resend of the case we already have. Ack it again unless
		// the original is still waiting for room.
		if c.enqueuing == 0 {
			s.ack(c, message, nil)
			s.offerReady(c)
		}
		return nil
	}
	c.lastCaseID = item.ProducerCaseID

	future, err := workpool.Submit(s.pool, func(ctx context.Context) (WorkItem, error) {
		return s.cases.SubmitWait(ctx, func() WorkItem {
			item.ID = s.tracker.CheckOut()
			return item
		})
	})
	if err != nil {
		// No ack; the producer's resend will try again.
		c.lastCaseID = 0
		return fmt.Errorf("enqueuing test case %d: %w", item.ProducerCaseID, err)
	}
	c.enqueuing++
	s.enqueuing++

	future.Then(s.loop, func(queued WorkItem, err error) {
		c.enqueuing--
		s.enqueuing--
		if err != nil {
			c.lastCaseID = 0
			c.peer.Logger().Info("test case not enqueued", "producer_case_id", item.ProducerCaseID, "error", err)
			return
		}
		c.peer.Logger().Debug("test case enqueued",
			"id", queued.ID, "producer_case_id", queued.ProducerCaseID, "backlog", s.cases.Backlog())
		if c.channelOpen() {
			s.ack(c, message, nil)
			s.offerReady(c)
		}
		s.checkDrained()
	})
	return nil
}

func (s *Server) agentReady(c *conn, message wire.Message) {
	if result := message.String(fuzzproto.FieldResult); result != "" {
		s.recordResult(c, message, result)
	} else if data := message.String(fuzzproto.FieldData); data != "" {
		// Older agents put the report in data.
		if _, _, err := results.ParseResult(data); err == nil {
			s.recordResult(c, message, data)
		}
	}

	s.announceAgent(c)
	s.checkDrained()
}

func (s *Server) announceAgent(c *conn) {
	item, ok := s.cases.AnnounceReady(c.peer.Key(), func(item WorkItem) {
		s.loop.Post(func() { s.deliverCase(c, item) })
	})
	if ok {
		s.deliverCase(c, item)
	}
}

func (s *Server) recordResult(c *conn, message wire.Message, result string) {
	id, status, err := results.ParseResult(result)
	if err != nil {
		c.peer.Logger().Warn("unreadable result", "result", result, "error", err)
		return
	}
	if err := s.tracker.Record(id, status); err != nil {
		var stateErr *results.StateError
		if errors.As(err, &stateErr) {
			delete(c.running, id)
			c.peer.Logger().Warn("result rejected", "error", err)
			return
		}
		c.peer.Logger().Error("recording result", "id", id, "error", err)
		return
	}

	item, known := s.outstanding[id]
	delete(s.outstanding, id)
	delete(c.running, id)
	// A copy requeued by a timeout or disconnect is now stale.
	if stale := s.cases.Remove(func(queued WorkItem) bool { return queued.ID == id }); stale > 0 {
		c.peer.Logger().Debug("dropped requeued copies of a finished case", "id", id, "copies", stale)
	}
	if status == results.StatusCrash {
		c.peer.Logger().Info("crash reported", "id", id, "station_id", item.StationID)
	}

	forward := wire.New(fuzzproto.VerbTestResult).
		WithInt(fuzzproto.FieldID, int64(id)).
		WithString(fuzzproto.FieldStatus, string(status)).
		WithString(fuzzproto.FieldResult, results.FormatResult(id, status))
	if known {
		forward = forward.
			WithString(fuzzproto.FieldStationID, item.StationID).
			WithString(fuzzproto.FieldQueue, item.Queue).
			WithString(fuzzproto.FieldTemplateHash, item.TemplateHash)
		if status == results.StatusCrash {
			forward = forward.
				WithInt(fuzzproto.FieldCRC32, int64(item.CRC32)).
				WithString(fuzzproto.FieldEncoding, fuzzproto.EncodingBase64).
				WithBytes(fuzzproto.FieldData, item.Data)
		}
	}
	for _, key := range message.Keys() {
		if fuzzproto.KnownFields(key) {
			continue
		}
		if value, ok := message.Get(key); ok {
			forward = forward.With(key, value)
		}
	}
	s.feed.Submit(forward)
}

// deliverCase sends item to agent c, or puts it back if c has gone.
// A case that already has a result is dropped, and c's demand is
// renewed so it still gets work.
func (s *Server) deliverCase(c *conn, item WorkItem) {
	if status, _ := s.tracker.Status(item.ID); status != results.StatusCheckedOut {
		c.peer.Logger().Debug("dropping delivery of a finished case", "id", item.ID, "status", status)
		if c.channelOpen() {
			s.announceAgent(c)
		}
		return
	}
	if !c.channelOpen() {
		s.cases.Submit(item)
		return
	}
	ackID, err := c.peer.Channel().SendTracked(item.Message(), reliable.Requeue(func(unacked wire.Message) {
		ackID, _ := unacked.AckID()
		delete(c.sent, ackID)
		if _, live := s.outstanding[item.ID]; !live {
			return
		}
		item.AckID = ackID
		s.cases.Submit(item)
	}))
	if errors.Is(err, reliable.ErrClosed) {
		s.cases.Submit(item)
		return
	}
	if err != nil {
		c.peer.Logger().Info("test case delivery failed, will requeue on timeout", "id", item.ID, "error", err)
	}
	item.AckID = ackID
	c.sent[ackID] = item
	s.outstanding[item.ID] = item
}

func (s *Server) analysisReady(c *conn) {
	s.analysisSeen = true
	key := c.peer.Key()
	message, ok := s.feed.AnnounceReady(key, func(message wire.Message) {
		s.loop.Post(func() { s.deliverFeed(c, message) })
	})
	if ok {
		s.deliverFeed(c, message)
	}
}

func (s *Server) deliverFeed(c *conn, message wire.Message) {
	if !c.channelOpen() {
		s.feed.Submit(message)
		return
	}
	_, err := c.peer.Channel().SendTracked(message, reliable.Requeue(func(unacked wire.Message) {
		s.feedInFlight--
		s.feed.Submit(unacked)
	}))
	if errors.Is(err, reliable.ErrClosed) {
		s.feed.Submit(message)
		return
	}
	s.feedInFlight++
	if err != nil {
		c.peer.Logger().Info("feed delivery failed, will requeue on timeout", "message", message.Label(), "error", err)
	}
}

func (s *Server) handleAck(c *conn, message wire.Message) {
	acked, ok := c.peer.Channel().HandleAck(message)
	if !ok {
		return
	}
	switch acked.Verb() {
	case fuzzproto.VerbNewTemplate, fuzzproto.VerbTestResult:
		s.feedInFlight--
		s.checkDrained()
		return
	case fuzzproto.VerbNewTestCase:
	default:
		return
	}
	ackID, _ := acked.AckID()
	item, tracked := c.sent[ackID]
	if !tracked {
		return
	}
	delete(c.sent, ackID)
	c.running[item.ID] = item
}

func (s *Server) handleTemplateRequest(c *conn, message wire.Message) error {
	hash := message.String(fuzzproto.FieldTemplateHash)
	template, ok := s.templates[hash]
	if !ok {
		s.ack(c, message, nil)
		return fmt.Errorf("template_request for unknown template %q", hash)
	}
	s.ack(c, message, map[string]wire.Value{
		fuzzproto.FieldTemplateHash: wire.String(hash),
		fuzzproto.FieldEncoding:     wire.String(fuzzproto.EncodingBase64),
		fuzzproto.FieldTemplate:     wire.Binary(template),
	})
	return nil
}

func (s *Server) handleBye(c *conn, message wire.Message) error {
	s.ack(c, message, nil)
	kind := c.classify(message)
	c.peer.Logger().Info("peer said bye", "kind", kind, "station_id", c.stationID)
	if kind == fuzzproto.ClientProduction {
		c.finished = true
		s.producers[c.stationID] = true
	} else {
		key := c.peer.Key()
		s.cases.Withdraw(key)
		s.feed.Withdraw(key)
	}
	s.checkDrained()
	return nil
}
