// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/fuzzfarm/lib/fuzzproto"
	"github.com/bureau-foundation/fuzzfarm/lib/reliable"
	"github.com/bureau-foundation/fuzzfarm/lib/resultdb"
	"github.com/bureau-foundation/fuzzfarm/lib/wire"
	"github.com/bureau-foundation/fuzzfarm/lib/workpool"
)

func (s *Server) routeWorker(w *worker) {
	router := w.peer.Router()
	router.Handle(fuzzproto.VerbClientStartup, func(message wire.Message) error {
		s.ackWorker(w, message, nil)
		return nil
	})
	router.Handle(fuzzproto.VerbClientReady, func(message wire.Message) error {
		s.ackWorker(w, message, nil)
		s.workerReady(w)
		return nil
	})
	router.Handle(fuzzproto.VerbAckMsg, func(message wire.Message) error {
		w.peer.Channel().HandleAck(message)
		return nil
	})
	router.Handle(fuzzproto.VerbTemplateRequest, func(message wire.Message) error {
		return s.handleTemplateRequest(w, message)
	})
	router.Handle(fuzzproto.VerbClientBye, func(message wire.Message) error {
		s.traces.Withdraw(w.peer.Key())
		s.ackWorker(w, message, nil)
		w.peer.Logger().Info("trace worker said bye")
		return nil
	})
}

func (s *Server) workerReady(w *worker) {
	job, ok := s.traces.AnnounceReady(w.peer.Key(), func(job wire.Message) {
		s.loop.Post(func() { s.deliverJob(w, job) })
	})
	if ok {
		s.deliverJob(w, job)
	}
}

// deliverJob sends job to w, or puts it back if w has gone.
func (s *Server) deliverJob(w *worker, job wire.Message) {
	if !w.channelOpen() {
		s.traces.Submit(job)
		return
	}
	_, err := w.peer.Channel().SendTracked(job, reliable.Requeue(s.traces.Submit))
	if errors.Is(err, reliable.ErrClosed) {
		s.traces.Submit(job)
		return
	}
	if err != nil {
		w.peer.Logger().Info("trace job delivery failed, will requeue on timeout", "message", job.Label(), "error", err)
	}
}

func (s *Server) handleTemplateRequest(w *worker, message wire.Message) error {
	hash := message.String(fuzzproto.FieldTemplateHash)
	if template, ok := s.templates.get(hash); ok {
		s.answerTemplate(w, message, hash, template)
		return nil
	}

	future, err := workpool.Submit(s.pool, func(ctx context.Context) ([]byte, error) {
		return s.config.Store.GetTemplate(ctx, hash)
	})
	if err != nil {
		// No ack; the worker asks again.
		return fmt.Errorf("looking up template %s: %w", hash, err)
	}
	future.Then(s.loop, func(template []byte, err error) {
		if errors.Is(err, resultdb.ErrTemplateNotFound) {
			w.peer.Logger().Warn("template_request for unknown template", "template_hash", hash)
			if w.channelOpen() {
				s.ackWorker(w, message, nil)
			}
			return
		}
		if err != nil {
			w.peer.Logger().Error("looking up template", "template_hash", hash, "error", err)
			return
		}
		s.templates.put(hash, template)
		if w.channelOpen() {
			s.answerTemplate(w, message, hash, template)
		}
	})
	return nil
}

func (s *Server) answerTemplate(w *worker, message wire.Message, hash string, template []byte) {
	s.ackWorker(w, message, map[string]wire.Value{
		fuzzproto.FieldTemplateHash: wire.String(hash),
		fuzzproto.FieldEncoding:     wire.String(fuzzproto.EncodingBase64),
		fuzzproto.FieldTemplate:     wire.Binary(template),
	})
}
