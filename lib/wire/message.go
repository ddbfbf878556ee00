// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Reserved member names handled outside the field map.
const (
	KeyVerb  = "verb"
	KeyAckID = "ack_id"
)

// ParseError reports a payload that is not a valid message.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire: %s: %v", e.Reason, e.Err)
	}
	return "wire: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Message is one protocol message: a verb, an optional ack id, and an
// open set of fields.
type Message struct {
	verb     string
	ackID    uint64
	hasAckID bool
	fields   map[string]Value
}

// New returns a message with the given verb and no fields.
func New(verb string) Message {
	return Message{verb: verb}
}

// Verb returns the message verb.
func (m Message) Verb() string { return m.verb }

// AckID returns the ack id and whether one is present.
func (m Message) AckID() (uint64, bool) { return m.ackID, m.hasAckID }

// WithAckID returns a copy of m carrying id.
func (m Message) WithAckID(id uint64) Message {
	m.ackID = id
	m.hasAckID = true
	return m
}

// With returns a copy of m with key set to value. Setting "verb" or
// "ack_id" through With panics; use New and WithAckID.
func (m Message) With(key string, value Value) Message {
	if key == KeyVerb || key == KeyAckID {
		panic("wire: " + key + " is not a field")
	}
	fields := make(map[string]Value, len(m.fields)+1)
	for existing, v := range m.fields {
		fields[existing] = v
	}
	fields[key] = value
	m.fields = fields
	return m
}

// WithString is With(key, String(s)).
func (m Message) WithString(key, s string) Message { return m.With(key, String(s)) }

// WithInt is With(key, Int(n)).
func (m Message) WithInt(key string, n int64) Message { return m.With(key, Int(n)) }

// WithBytes is With(key, Binary(data)).
func (m Message) WithBytes(key string, data []byte) Message { return m.With(key, Binary(data)) }

// Without returns a copy of m with key removed.
func (m Message) Without(key string) Message {
	if _, ok := m.fields[key]; !ok {
		return m
	}
	fields := make(map[string]Value, len(m.fields))
	for existing, v := range m.fields {
		if existing != key {
			fields[existing] = v
		}
	}
	m.fields = fields
	return m
}

// Get returns the field stored under key.
func (m Message) Get(key string) (Value, bool) {
	value, ok := m.fields[key]
	return value, ok
}

// Has reports whether key is present.
func (m Message) Has(key string) bool {
	_, ok := m.fields[key]
	return ok
}

// String returns the string field under key, or "" when it is absent
// or not a string.
func (m Message) String(key string) string {
	s, _ := m.fields[key].AsString()
	return s
}

// Int returns the integer field under key.
func (m Message) Int(key string) (int64, bool) {
	value, ok := m.fields[key]
	if !ok {
		return 0, false
	}
	return value.AsInt()
}

// Bytes base64-decodes the field under key.
func (m Message) Bytes(key string) ([]byte, error) {
	value, ok := m.fields[key]
	if !ok {
		return nil, fmt.Errorf("wire: %s message has no %q field", m.verb, key)
	}
	data, err := value.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("wire: decoding %q: %w", key, err)
	}
	return data, nil
}

// Keys returns the field names in sorted order, excluding verb and
// ack_id.
func (m Message) Keys() []string {
	keys := make([]string, 0, len(m.fields))
	for key := range m.fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of fields, excluding verb and ack_id.
func (m Message) Len() int { return len(m.fields) }

// Equal reports whether m and other carry the same verb, ack id, and
// fields.
func (m Message) Equal(other Message) bool {
	left, leftErr := Marshal(m)
	right, rightErr := Marshal(other)
	return leftErr == nil && rightErr == nil && bytes.Equal(left, right)
}

// Label formats the verb and ack id for log lines, as "verb:ack_id" or
// just "verb".
func (m Message) Label() string {
	if !m.hasAckID {
		return m.verb
	}
	return m.verb + ":" + strconv.FormatUint(m.ackID, 10)
}

// Marshal encodes m as a JSON object. Keys are sorted, so equal
// messages encode identically.
func Marshal(m Message) ([]byte, error) {
	if m.verb == "" {
		return nil, fmt.Errorf("wire: message has no verb")
	}
	object := make(map[string]Value, len(m.fields)+2)
	for key, value := range m.fields {
		object[key] = value
	}
	object[KeyVerb] = String(m.verb)
	if m.hasAckID {
		object[KeyAckID] = Uint(m.ackID)
	}
	return json.Marshal(object)
}

// Unmarshal decodes a payload into a Message. Any payload that is not
// a JSON object with a string verb yields a *ParseError.
func Unmarshal(payload []byte) (Message, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(payload, &members); err != nil {
		return Message{}, &ParseError{Reason: "payload is not a JSON object", Err: err}
	}
	if members == nil {
		return Message{}, &ParseError{Reason: "payload is not a JSON object"}
	}

	rawVerb, ok := members[KeyVerb]
	if !ok {
		return Message{}, &ParseError{Reason: "missing verb"}
	}
	var verb string
	if err := json.Unmarshal(rawVerb, &verb); err != nil || verb == "" {
		return Message{}, &ParseError{Reason: "verb is not a non-empty string", Err: err}
	}
	message := Message{verb: verb}
	delete(members, KeyVerb)

	if rawAckID, ok := members[KeyAckID]; ok {
		id, err := strconv.ParseUint(string(bytes.TrimSpace(rawAckID)), 10, 64)
		if err != nil {
			return Message{}, &ParseError{Reason: "ack_id is not a non-negative integer", Err: err}
		}
		message.ackID = id
		message.hasAckID = true
		delete(members, KeyAckID)
	}

	if len(members) > 0 {
		message.fields = make(map[string]Value, len(members))
	}
	for key, raw := range members {
		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.UseNumber()
		var decoded any
		if err := decoder.Decode(&decoded); err != nil {
			return Message{}, &ParseError{Reason: fmt.Sprintf("field %q", key), Err: err}
		}
		value, err := fromDecoded(decoded)
		if err != nil {
			return Message{}, &ParseError{Reason: fmt.Sprintf("field %q", key), Err: err}
		}
		message.fields[key] = value
	}
	return message, nil
}
