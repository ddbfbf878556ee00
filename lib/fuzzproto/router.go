// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzproto

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bureau-foundation/fuzzfarm/lib/netstring"
	"github.com/bureau-foundation/fuzzfarm/lib/wire"
)

// HandlerFunc processes one inbound message. A returned error is
// logged by the connection and the message is dropped.
type HandlerFunc func(message wire.Message) error

// UnhandledVerbError reports a message whose verb has no handler.
type UnhandledVerbError struct {
	Verb string
}

func (e *UnhandledVerbError) Error() string {
	return fmt.Sprintf("unhandled verb %q", e.Verb)
}

// IsProtocolError reports whether err is a malformed frame, a payload
// that is not a message, or an unhandled verb. These never close the
// connection.
func IsProtocolError(err error) bool {
	var frameErr *netstring.FrameError
	var parseErr *wire.ParseError
	var verbErr *UnhandledVerbError
	return errors.As(err, &frameErr) || errors.As(err, &parseErr) || errors.As(err, &verbErr)
}

// Router maps verbs to handlers. Register every handler with Handle
// before the first Dispatch; the table is read without locking.
type Router struct {
	handlers map[string]HandlerFunc
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Handle registers handler for verb. Panics on a duplicate
// registration.
func (r *Router) Handle(verb string, handler HandlerFunc) {
	if _, exists := r.handlers[verb]; exists {
		panic(fmt.Sprintf("fuzzproto.Router: duplicate handler for verb %q", verb))
	}
	r.handlers[verb] = handler
}

// Dispatch calls the handler registered for the message's verb, or
// returns an *UnhandledVerbError.
func (r *Router) Dispatch(message wire.Message) error {
	handler, exists := r.handlers[message.Verb()]
	if !exists {
		return &UnhandledVerbError{Verb: message.Verb()}
	}
	return handler(message)
}

// Verbs returns the registered verbs in sorted order.
func (r *Router) Verbs() []string {
	verbs := make([]string, 0, len(r.handlers))
	for verb := range r.handlers {
		verbs = append(verbs, verb)
	}
	sort.Strings(verbs)
	return verbs
}
