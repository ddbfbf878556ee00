// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package production

// Generator yields test cases. Next returns false once exhausted.
// Generators are used from one goroutine.
type Generator interface {
	Next() ([]byte, bool)
}

// Slice yields a fixed list of test cases in order.
type Slice struct {
	cases [][]byte
	next  int
}

// NewSlice returns a generator over cases.
func NewSlice(cases ...[]byte) *Slice {
	return &Slice{cases: cases}
}

// Next returns the next case.
func (s *Slice) Next() ([]byte, bool) {
	if s.next >= len(s.cases) {
		return nil, false
	}
	testCase := s.cases[s.next]
	s.next++
	return testCase, true
}

// DefaultInterestingBytes are boundary values that commonly trip
// length and sign handling in parsers.
var DefaultInterestingBytes = []byte{0x00, 0x01, 0x7f, 0x80, 0xfe, 0xff}

// ByteSweep overwrites one byte at a time within a window of the
// template with each of a set of values. It yields length*len(values)
// cases, each differing from the template in exactly one position.
type ByteSweep struct {
	template []byte
	offset   int
	end      int
	values   []byte

	position int
	value    int
}

// NewByteSweep sweeps template[offset:offset+length]. The window is
// clipped to the template; nil values means DefaultInterestingBytes.
func NewByteSweep(template []byte, offset, length int, values []byte) *ByteSweep {
	if values == nil {
		values = DefaultInterestingBytes
	}
	offset = max(0, min(offset, len(template)))
	end := len(template)
	if length >= 0 && offset+length < end {
		end = offset + length
	}
	return &ByteSweep{template: template, offset: offset, end: end, values: values, position: offset}
}

// Next returns the template with the next position/value substituted.
func (s *ByteSweep) Next() ([]byte, bool) {
	if len(s.values) == 0 || s.position >= s.end {
		return nil, false
	}
	testCase := make([]byte, len(s.template))
	copy(testCase, s.template)
	testCase[s.position] = s.values[s.value]

	s.value++
	if s.value == len(s.values) {
		s.value = 0
		s.position++
	}
	return testCase, true
}

// Remaining returns how many cases are left.
func (s *ByteSweep) Remaining() int {
	if s.position >= s.end {
		return 0
	}
	return (s.end-s.position)*len(s.values) - s.value
}
