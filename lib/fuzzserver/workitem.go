// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzserver

import (
	"fmt"
	"hash/crc32"

	"github.com/bureau-foundation/fuzzfarm/lib/fuzzproto"
	"github.com/bureau-foundation/fuzzfarm/lib/wire"
)

// WorkItem is one test case in the test-case exchange.
type WorkItem struct {
	// ID is the tracker's result id, assigned when the case enters the
	// backlog.
	ID uint64

	// ProducerCaseID is the id the producer gave the case.
	ProducerCaseID int64
	StationID      string
	Queue          string
	TemplateHash   string
	Data           []byte
	CRC32          uint32

	// AckID is kept across requeues once the case has been sent.
	AckID uint64
}

// Message is the new_test_case delivered to an execution agent.
func (w WorkItem) Message() wire.Message {
	message := wire.New(fuzzproto.VerbNewTestCase).
		WithInt(fuzzproto.FieldID, int64(w.ID)).
		WithString(fuzzproto.FieldStationID, w.StationID).
		WithString(fuzzproto.FieldQueue, w.Queue).
		WithString(fuzzproto.FieldTemplateHash, w.TemplateHash).
		WithInt(fuzzproto.FieldCRC32, int64(w.CRC32)).
		WithString(fuzzproto.FieldEncoding, fuzzproto.EncodingBase64).
		WithBytes(fuzzproto.FieldData, w.Data)
	if w.AckID != 0 {
		message = message.WithAckID(w.AckID)
	}
	return message
}

// ChecksumError reports a payload whose crc32 field does not match
// its data.
type ChecksumError struct {
	Field   string
	Claimed uint32
	Actual  uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s crc32 mismatch: message says %08x, data is %08x", e.Field, e.Claimed, e.Actual)
}

// verifiedBytes decodes field and checks it against the message's
// crc32 when one is present.
func verifiedBytes(message wire.Message, field string) ([]byte, uint32, error) {
	data, err := message.Bytes(field)
	if err != nil {
		return nil, 0, err
	}
	actual := crc32.ChecksumIEEE(data)
	if claimed, ok := message.Int(fuzzproto.FieldCRC32); ok && uint32(claimed) != actual {
		return nil, 0, &ChecksumError{Field: field, Claimed: uint32(claimed), Actual: actual}
	}
	return data, actual, nil
}

// parseTestCase builds a WorkItem (without an id) from a producer's
// new_test_case.
func parseTestCase(message wire.Message) (WorkItem, error) {
	data, checksum, err := verifiedBytes(message, fuzzproto.FieldData)
	if err != nil {
		return WorkItem{}, err
	}
	producerCaseID, _ := message.Int(fuzzproto.FieldID)
	return WorkItem{
		ProducerCaseID: producerCaseID,
		StationID:      message.String(fuzzproto.FieldStationID),
		Queue:          message.String(fuzzproto.FieldQueue),
		TemplateHash:   message.String(fuzzproto.FieldTemplateHash),
		Data:           data,
		CRC32:          checksum,
	}, nil
}
