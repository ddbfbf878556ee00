// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the JSON type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Value is one field of a message. Numbers keep their textual form so
// that fields a peer does not interpret are re-encoded byte for byte.
type Value struct {
	kind   Kind
	text   string // KindString and KindNumber
	truth  bool
	list   []Value
	fields map[string]Value
}

// Null returns the JSON null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Int returns an integer number value.
func Int(n int64) Value { return Value{kind: KindNumber, text: strconv.FormatInt(n, 10)} }

// Uint returns an unsigned integer number value.
func Uint(n uint64) Value { return Value{kind: KindNumber, text: strconv.FormatUint(n, 10)} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, truth: b} }

// Binary returns data as a base64 string value. Messages carrying
// binary fields also set "encoding" to "base64".
func Binary(data []byte) Value {
	return String(base64.StdEncoding.EncodeToString(data))
}

// List returns a list value.
func List(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value(nil), items...)}
}

// Map returns a nested object value. The map is copied.
func Map(fields map[string]Value) Value {
	copied := make(map[string]Value, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return Value{kind: KindMap, fields: copied}
}

// Kind returns the value's JSON type.
func (v Value) Kind() Kind { return v.kind }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) {
	return v.text, v.kind == KindString
}

// AsInt returns v as an int64 when it is an integral number.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	n, err := strconv.ParseInt(v.text, 10, 64)
	return n, err == nil
}

// AsUint returns v as a uint64 when it is a non-negative integral
// number.
func (v Value) AsUint() (uint64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	n, err := strconv.ParseUint(v.text, 10, 64)
	return n, err == nil
}

// AsFloat returns v as a float64 when it is a number.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.text, 64)
	return f, err == nil
}

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) {
	return v.truth, v.kind == KindBool
}

// AsBytes base64-decodes a string value. Whitespace is ignored, since
// some producers wrap encoded output at 60 columns.
func (v Value) AsBytes() ([]byte, error) {
	if v.kind != KindString {
		return nil, fmt.Errorf("wire: %s value is not base64 text", v.kind)
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, v.text)
	return base64.StdEncoding.DecodeString(cleaned)
}

// AsList returns the items of a list value.
func (v Value) AsList() ([]Value, bool) {
	return v.list, v.kind == KindList
}

// AsMap returns the members of an object value. The returned map must
// not be modified.
func (v Value) AsMap() (map[string]Value, bool) {
	return v.fields, v.kind == KindMap
}

// Equal reports whether v and other encode to the same JSON.
func (v Value) Equal(other Value) bool {
	left, leftErr := json.Marshal(v)
	right, rightErr := json.Marshal(other)
	return leftErr == nil && rightErr == nil && bytes.Equal(left, right)
}

// Interface returns v as plain Go values: nil, bool, int64 (or
// uint64, or float64 when the number is not integral), string,
// []any, or map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.truth
	case KindNumber:
		if n, err := strconv.ParseInt(v.text, 10, 64); err == nil {
			return n
		}
		if n, err := strconv.ParseUint(v.text, 10, 64); err == nil {
			return n
		}
		f, _ := strconv.ParseFloat(v.text, 64)
		return f
	case KindString:
		return v.text
	case KindList:
		items := make([]any, len(v.list))
		for i, item := range v.list {
			items[i] = item.Interface()
		}
		return items
	case KindMap:
		fields := make(map[string]any, len(v.fields))
		for key, field := range v.fields {
			fields[key] = field.Interface()
		}
		return fields
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.truth)
	case KindNumber:
		return []byte(v.text), nil
	case KindString:
		return json.Marshal(v.text)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		if v.fields == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.fields)
	default:
		return nil, fmt.Errorf("wire: cannot encode %s", v.kind)
	}
}

// fromDecoded converts the output of a UseNumber json.Decoder.
func fromDecoded(decoded any) (Value, error) {
	switch typed := decoded.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(typed), nil
	case json.Number:
		return Value{kind: KindNumber, text: typed.String()}, nil
	case string:
		return String(typed), nil
	case []any:
		items := make([]Value, len(typed))
		for i, item := range typed {
			converted, err := fromDecoded(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = converted
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]any:
		fields := make(map[string]Value, len(typed))
		for key, item := range typed {
			converted, err := fromDecoded(item)
			if err != nil {
				return Value{}, err
			}
			fields[key] = converted
		}
		return Value{kind: KindMap, fields: fields}, nil
	default:
		return Value{}, fmt.Errorf("wire: unexpected decoded type %T", decoded)
	}
}
