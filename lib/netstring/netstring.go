// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netstring

import (
	"bytes"
	"fmt"
	"strconv"
)

// DefaultMaxFrameSize bounds a single payload. Test cases are whole
// documents, so the limit is generous.
const DefaultMaxFrameSize = 64 << 20

// maxLengthDigits is the longest length prefix accepted. Ten digits
// covers any size below DefaultMaxFrameSize with room to spare and
// keeps a garbage prefix from being buffered indefinitely.
const maxLengthDigits = 10

// FrameError reports a stream that does not follow the framing rules.
// The decoder discards its buffer when it returns one.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string {
	return "netstring: " + e.Reason
}

// Encode returns payload framed as a netstring.
func Encode(payload []byte) []byte {
	prefix := strconv.Itoa(len(payload))
	frame := make([]byte, 0, len(prefix)+len(payload)+2)
	frame = append(frame, prefix...)
	frame = append(frame, ':')
	frame = append(frame, payload...)
	return append(frame, ',')
}

// Decoder splits a byte stream into frames. It is not safe for
// concurrent use; each connection owns one.
type Decoder struct {
	buffer       []byte
	maxFrameSize int
}

// NewDecoder returns a Decoder that rejects payloads larger than
// maxFrameSize. A non-positive value selects DefaultMaxFrameSize.
func NewDecoder(maxFrameSize int) *Decoder {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Decoder{maxFrameSize: maxFrameSize}
}

// Feed appends chunk to the pending bytes and returns every complete
// payload now available, in stream order. The returned slices do not
// alias the decoder's buffer.
//
// On a framing violation Feed returns the payloads decoded before the
// violation together with a *FrameError, and drops everything else
// buffered. The stream can continue with the next chunk.
func (d *Decoder) Feed(chunk []byte) ([][]byte, error) {
	d.buffer = append(d.buffer, chunk...)

	var frames [][]byte
	for {
		payload, consumed, err := d.next()
		if err != nil {
			d.buffer = nil
			return frames, err
		}
		if consumed == 0 {
			break
		}
		frames = append(frames, payload)
		d.buffer = d.buffer[consumed:]
	}
	if len(d.buffer) == 0 {
		d.buffer = nil
	}
	return frames, nil
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buffer)
}

// Reset discards any partial frame, used when the underlying
// connection is replaced.
func (d *Decoder) Reset() {
	d.buffer = nil
}

// next parses one frame from the front of the buffer. consumed is zero
// when more bytes are needed.
func (d *Decoder) next() (payload []byte, consumed int, err error) {
	colon := bytes.IndexByte(d.buffer, ':')
	if colon < 0 {
		if len(d.buffer) > maxLengthDigits {
			return nil, 0, &FrameError{Reason: "length prefix too long"}
		}
		if !allDigits(d.buffer) {
			return nil, 0, &FrameError{Reason: fmt.Sprintf("invalid length prefix %q", d.buffer)}
		}
		return nil, 0, nil
	}
	if colon == 0 || colon > maxLengthDigits || !allDigits(d.buffer[:colon]) {
		return nil, 0, &FrameError{Reason: fmt.Sprintf("invalid length prefix %q", d.buffer[:colon])}
	}

	length, err := strconv.Atoi(string(d.buffer[:colon]))
	if err != nil {
		return nil, 0, &FrameError{Reason: fmt.Sprintf("invalid length prefix: %v", err)}
	}
	if length > d.maxFrameSize {
		return nil, 0, &FrameError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit of %d", length, d.maxFrameSize)}
	}

	end := colon + 1 + length
	if len(d.buffer) <= end {
		return nil, 0, nil
	}
	if d.buffer[end] != ',' {
		return nil, 0, &FrameError{Reason: fmt.Sprintf("missing terminator after %d-byte payload", length)}
	}

	payload = make([]byte, length)
	copy(payload, d.buffer[colon+1:end])
	return payload, end + 1, nil
}

func allDigits(data []byte) bool {
	for _, b := range data {
		if b < '0' || b > '9' {
			return false
		}
	}
	return true
}
