// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzproto

// Verbs.
const (
	VerbClientStartup   = "client_startup"
	VerbReset           = "reset"
	VerbServerReady     = "server_ready"
	VerbNewTestCase     = "new_test_case"
	VerbClientBye       = "client_bye"
	VerbServerBye       = "server_bye"
	VerbAckMsg          = "ack_msg"
	VerbClientReady     = "client_ready"
	VerbTemplateRequest = "template_request"

	// Fuzz server to analysis server.
	VerbNewTemplate = "new_template"
	VerbTestResult  = "test_result"

	// Analysis server to trace workers.
	VerbNewTraceJob = "new_trace_job"
)

// Field names with a fixed meaning. Anything else is passed through.
const (
	FieldClientType   = "client_type"
	FieldStationID    = "station_id"
	FieldID           = "id"
	FieldCRC32        = "crc32"
	FieldEncoding     = "encoding"
	FieldData         = "data"
	FieldQueue        = "queue"
	FieldTemplate     = "template"
	FieldTemplateHash = "template_hash"
	FieldResult       = "result"
	FieldStatus       = "status"
)

// EncodingBase64 is the only payload encoding in use.
const EncodingBase64 = "base64"

// Client types.
const (
	ClientProduction = "production"
	ClientFuzz       = "fuzz"
	ClientAnalysis   = "analysis"
	ClientTrace      = "trace"
)

// KnownFields reports whether key has a fixed protocol meaning (or is
// one of the reserved members). Unknown keys are forwarded untouched
// when a message is relayed.
func KnownFields(key string) bool {
	switch key {
	case "verb", "ack_id",
		FieldClientType, FieldStationID, FieldID, FieldCRC32, FieldEncoding,
		FieldData, FieldQueue, FieldTemplate, FieldTemplateHash,
		FieldResult, FieldStatus:
		return true
	}
	return false
}
