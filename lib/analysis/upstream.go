// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/fuzzfarm/lib/fuzzproto"
	"github.com/bureau-foundation/fuzzfarm/lib/results"
	"github.com/bureau-foundation/fuzzfarm/lib/templatehash"
	"github.com/bureau-foundation/fuzzfarm/lib/wire"
	"github.com/bureau-foundation/fuzzfarm/lib/workpool"
)

func (s *Server) routeUpstream() {
	router := s.upstream.Router()
	router.Handle(fuzzproto.VerbAckMsg, func(message wire.Message) error {
		s.upstream.Channel().HandleAck(message)
		s.idle()
		return nil
	})
	router.Handle(fuzzproto.VerbNewTemplate, s.handleNewTemplate)
	router.Handle(fuzzproto.VerbTestResult, s.handleTestResult)
	router.Handle(fuzzproto.VerbServerBye, func(wire.Message) error {
		s.logger.Info("fuzz server said bye, stopping")
		s.loop.Stop()
		return nil
	})
}

// beginStore claims message for the worker pool. It returns false for
// a redelivery of a message whose store is still running.
func (s *Server) beginStore(message wire.Message) bool {
	if ackID, ok := message.AckID(); ok {
		if s.storing[ackID] {
			return false
		}
		s.storing[ackID] = true
	}
	s.busy++
	return true
}

func (s *Server) endStore(message wire.Message) {
	if ackID, ok := message.AckID(); ok {
		delete(s.storing, ackID)
	}
	s.busy--
}

// dropFeedMessage acks a message that could never be stored, so the
// fuzz server stops redelivering it.
func (s *Server) dropFeedMessage(message wire.Message, err error) error {
	s.ackUpstream(message)
	s.idle()
	return fmt.Errorf("dropping %s: %w", message.Label(), err)
}

func (s *Server) handleNewTemplate(message wire.Message) error {
	hash := message.String(fuzzproto.FieldTemplateHash)
	template, err := message.Bytes(fuzzproto.FieldTemplate)
	if err != nil {
		return s.dropFeedMessage(message, err)
	}
	if hash == "" {
		hash = templatehash.Sum(template).String()
	} else if !templatehash.Matches(template, hash) {
		return s.dropFeedMessage(message, fmt.Errorf("template does not match template_hash %s", hash))
	}
	if !s.beginStore(message) {
		return nil
	}

	future, err := workpool.Submit(s.pool, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.config.Store.StoreTemplate(ctx, hash, template)
	})
	if err != nil {
		// No ack; the fuzz server requeues it.
		s.endStore(message)
		s.idle()
		return fmt.Errorf("storing template %s: %w", hash, err)
	}
	future.Then(s.loop, func(_ struct{}, err error) {
		s.endStore(message)
		if err != nil {
			s.logger.Error("storing template", "template_hash", hash, "error", err)
			s.idle()
			return
		}
		s.templates.put(hash, template)
		s.templatesStored.Add(1)
		s.logger.Info("stored template", "template_hash", hash, "size", len(template))
		s.ackUpstream(message)
		s.idle()
	})
	return nil
}

func (s *Server) handleTestResult(message wire.Message) error {
	result, err := resultFromMessage(message, s.config.Clock.Now())
	if err != nil {
		return s.dropFeedMessage(message, err)
	}
	if !s.beginStore(message) {
		return nil
	}

	future, err := workpool.Submit(s.pool, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.config.Store.StoreResult(ctx, result)
	})
	if err != nil {
		s.endStore(message)
		s.idle()
		return fmt.Errorf("storing result %d: %w", result.ID, err)
	}
	future.Then(s.loop, func(_ struct{}, err error) {
		s.endStore(message)
		if err != nil {
			s.logger.Error("storing result", "id", result.ID, "status", result.Status, "error", err)
			s.idle()
			return
		}
		s.resultsStored.Add(1)
		s.logger.Debug("stored result", "id", result.ID, "status", result.Status)
		s.ackUpstream(message)
		if result.Status == results.StatusCrash {
			s.crashesQueued.Add(1)
			s.logger.Info("queueing trace job", "id", result.ID, "station_id", result.StationID)
			s.traces.Submit(traceJob(message))
		}
		s.idle()
	})
	return nil
}
