// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type sampleSnapshot struct {
	Crash  int       `json:"crash"`
	Issued uint64    `json:"issued"`
	Rate   float64   `json:"rate,omitempty"`
	Taken  time.Time `json:"taken"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleSnapshot{
		Crash:  3,
		Issued: 1200,
		Rate:   2.5,
		Taken:  time.Date(2026, 3, 4, 5, 6, 7, 890, time.UTC),
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded sampleSnapshot
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Crash != original.Crash || decoded.Issued != original.Issued ||
		decoded.Rate != original.Rate || !decoded.Taken.Equal(original.Taken) {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{"zeta": 1, "alpha": "a", "mid": []any{1, 2}}
	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 20 {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("Marshal output differs between calls")
		}
	}
}

func TestJSONTagNamesAndOmitempty(t *testing.T) {
	data, err := Marshal(sampleSnapshot{Crash: 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	diagnostic, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(diagnostic, `"crash": 1`) {
		t.Errorf("diagnostic %s lacks the json-tagged field name", diagnostic)
	}
	if strings.Contains(diagnostic, `"rate"`) {
		t.Errorf("diagnostic %s includes an omitempty zero field", diagnostic)
	}
}

func TestUnmarshalIntoAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"exception": "0xc0000005"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	fields, ok := decoded.(map[string]any)
	if !ok || fields["exception"] != "0xc0000005" {
		t.Errorf("decoded = %#v", decoded)
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var decoded sampleSnapshot
	if err := Unmarshal([]byte{0xff, 0xfe}, &decoded); err == nil {
		t.Error("Unmarshal accepted invalid CBOR")
	}
}
