// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"fmt"
	"hash/crc32"
	"time"

	"github.com/bureau-foundation/fuzzfarm/lib/fuzzproto"
	"github.com/bureau-foundation/fuzzfarm/lib/resultdb"
	"github.com/bureau-foundation/fuzzfarm/lib/results"
	"github.com/bureau-foundation/fuzzfarm/lib/wire"
)

// resultFromMessage reads a test_result. The id and status come from
// their own fields, or from the "id:status" result field when those
// are missing.
func resultFromMessage(message wire.Message, received time.Time) (resultdb.Result, error) {
	id, hasID := message.Int(fuzzproto.FieldID)
	status, statusErr := results.ParseStatus(message.String(fuzzproto.FieldStatus))
	if !hasID || statusErr != nil {
		parsedID, parsedStatus, err := results.ParseResult(message.String(fuzzproto.FieldResult))
		if err != nil {
			return resultdb.Result{}, fmt.Errorf("test_result has no usable id and status: %w", err)
		}
		id, status = int64(parsedID), parsedStatus
	}
	if id <= 0 {
		return resultdb.Result{}, fmt.Errorf("test_result id %d is not positive", id)
	}

	result := resultdb.Result{
		ID:           uint64(id),
		Status:       status,
		StationID:    message.String(fuzzproto.FieldStationID),
		Queue:        message.String(fuzzproto.FieldQueue),
		TemplateHash: message.String(fuzzproto.FieldTemplateHash),
		Received:     received,
	}
	claimed, hasCRC := message.Int(fuzzproto.FieldCRC32)
	if hasCRC {
		result.CRC32 = uint32(claimed)
	}
	if message.Has(fuzzproto.FieldData) {
		data, err := message.Bytes(fuzzproto.FieldData)
		if err != nil {
			return resultdb.Result{}, fmt.Errorf("test_result %d: %w", id, err)
		}
		if hasCRC {
			if actual := crc32.ChecksumIEEE(data); actual != result.CRC32 {
				return resultdb.Result{}, fmt.Errorf("test_result %d: data crc32 is %08x, message says %08x", id, actual, result.CRC32)
			}
		}
		result.Data = data
	}

	for _, key := range message.Keys() {
		if fuzzproto.KnownFields(key) {
			continue
		}
		value, _ := message.Get(key)
		if result.Extra == nil {
			result.Extra = make(map[string]any)
		}
		result.Extra[key] = value.Interface()
	}
	return result, nil
}

// traceJob copies every field of a crash test_result into a
// new_trace_job. The ack id is not carried over.
func traceJob(result wire.Message) wire.Message {
	job := wire.New(fuzzproto.VerbNewTraceJob)
	for _, key := range result.Keys() {
		value, _ := result.Get(key)
		job = job.With(key, value)
	}
	return job
}
