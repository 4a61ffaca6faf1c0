// Package runner executes short-lived probe commands and captures their output.
package runner

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidOutput is returned when a command writes bytes to stdout that are
// not valid UTF-8.
var ErrInvalidOutput = errors.New("command output is not valid UTF-8")

// Runner runs a program synchronously and returns its standard output.
type Runner interface {
	Output(name string, args ...string) (string, error)
}

// Exec runs commands on the host with os/exec.
type Exec struct{}

// New returns the default host runner.
func New() Runner {
	return Exec{}
}

// Output spawns name with args, waits for it to exit and returns stdout with
// trailing whitespace removed. A spawn failure, non-zero exit or non-UTF-8
// output is an error.
func (Exec) Output(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("running %s %q: %w: %s", name, args, err, msg)
		}
		return "", fmt.Errorf("running %s %q: %w", name, args, err)
	}

	return Decode(stdout.Bytes())
}

// Decode converts raw command output into text, trimming trailing whitespace.
func Decode(out []byte) (string, error) {
	if !utf8.Valid(out) {
		return "", ErrInvalidOutput
	}
	return strings.TrimRightFunc(string(out), unicode.IsSpace), nil
}

// MustOutput is like Output but panics on failure.
func MustOutput(r Runner, name string, args ...string) string {
	out, err := r.Output(name, args...)
	if err != nil {
		panic(err)
	}
	return out
}
