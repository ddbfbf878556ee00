// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package results

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is the state of a checked-out id.
type Status string

const (
	StatusCheckedOut Status = "CHECKED_OUT"
	StatusSuccess    Status = "SUCCESS"
	StatusFail       Status = "FAIL"
	StatusHang       Status = "HANG"
	StatusCrash      Status = "CRASH"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFail, StatusHang, StatusCrash:
		return true
	}
	return false
}

// ParseStatus accepts a terminal status in any letter case.
func ParseStatus(text string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(text)))
	if !status.Terminal() {
		return "", fmt.Errorf("results: %q is not a terminal status", text)
	}
	return status, nil
}

// ParseResult splits an agent's embedded "id:status" report.
func ParseResult(text string) (uint64, Status, error) {
	idText, statusText, found := strings.Cut(text, ":")
	if !found {
		return 0, "", fmt.Errorf("results: %q is not id:status", text)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(idText), 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("results: bad id in %q: %w", text, err)
	}
	status, err := ParseStatus(statusText)
	if err != nil {
		return 0, "", err
	}
	return id, status, nil
}

// FormatResult is the inverse of ParseResult.
func FormatResult(id uint64, status Status) string {
	return strconv.FormatUint(id, 10) + ":" + string(status)
}

// StateError reports a Record that does not follow a CheckOut.
type StateError struct {
	ID        uint64
	Current   Status // empty when the id was never checked out
	Attempted Status
}

func (e *StateError) Error() string {
	if e.Current == "" {
		return fmt.Sprintf("result %d (%s) for an id that was never checked out", e.ID, e.Attempted)
	}
	return fmt.Sprintf("result %d (%s) for an id already %s", e.ID, e.Attempted, e.Current)
}
