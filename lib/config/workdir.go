// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompt asks a yes/no question. Nil means no terminal is available.
type Prompt func(question string) (bool, error)

// EnsureWorkDir makes sure path is a directory. A missing directory is
// created when create is set, or when prompt confirms it. An existing
// non-directory is always an error.
func EnsureWorkDir(path string, create bool, prompt Prompt) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("work directory %s exists and is not a directory", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("checking work directory: %w", err)
	}

	if !create {
		if prompt == nil {
			return fmt.Errorf("work directory %s does not exist (pass --create-work-dir to create it)", path)
		}
		confirmed, err := prompt(fmt.Sprintf("Work directory %s doesn't exist. Create it? [y/n]: ", path))
		if err != nil {
			return fmt.Errorf("asking to create work directory: %w", err)
		}
		if !confirmed {
			return fmt.Errorf("work directory %s does not exist", path)
		}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}
	return nil
}

// TerminalPrompt returns a Prompt on stdin and stderr, or nil when
// stdin is not a terminal.
func TerminalPrompt() Prompt {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	return func(question string) (bool, error) {
		return ask(os.Stdin, os.Stderr, question)
	}
}

func ask(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprint(out, question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
