// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the slog logger every fuzzfarm binary uses.
package logging

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Format selects the handler.
type Format int

const (
	// FormatAuto is text on a terminal and JSON otherwise.
	FormatAuto Format = iota
	FormatText
	FormatJSON
)

// Options configures New.
type Options struct {
	// Output defaults to os.Stderr.
	Output io.Writer
	Format Format
	Debug  bool
}

// New returns a logger writing to options.Output. When stderr is a
// terminal, auto format is human-readable text; when piped, JSON lines.
func New(options Options) *slog.Logger {
	output := options.Output
	if output == nil {
		output = os.Stderr
	}
	level := slog.LevelInfo
	if options.Debug {
		level = slog.LevelDebug
	}
	handlerOptions := &slog.HandlerOptions{Level: level}

	format := options.Format
	if format == FormatAuto {
		format = FormatJSON
		if file, ok := output.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
			format = FormatText
		}
	}
	if format == FormatText {
		return slog.New(slog.NewTextHandler(output, handlerOptions))
	}
	return slog.New(slog.NewJSONHandler(output, handlerOptions))
}
