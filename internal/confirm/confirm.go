// Package confirm asks the operator before destructive cluster changes.
package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// Confirmer decides whether a destructive step may proceed. A decline is a
// normal outcome, not an error.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// Func adapts a function to Confirmer.
type Func func(ctx context.Context, prompt string) (bool, error)

// Confirm implements Confirmer.
func (f Func) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// Accept approves every prompt.
var Accept Confirmer = Func(func(context.Context, string) (bool, error) { return true, nil })

// Decline rejects every prompt. It is the default when nobody can answer.
var Decline Confirmer = Func(func(context.Context, string) (bool, error) { return false, nil })

// Interactive reads answers line by line.
type Interactive struct {
	mu     sync.Mutex
	reader *bufio.Reader
	writer io.Writer
}

// NewInteractive creates a confirmer that writes prompts to w and reads
// answers from r.
func NewInteractive(r io.Reader, w io.Writer) *Interactive {
	return &Interactive{reader: bufio.NewReader(r), writer: w}
}

// Confirm writes "prompt [y/N]: " and accepts y or yes in any case. EOF
// counts as no.
func (c *Interactive) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprintf(c.writer, "%s [y/N]: ", prompt); err != nil {
		return false, fmt.Errorf("failed to write prompt: %w", err)
	}

	line, err := c.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Default returns an Interactive confirmer on stdin/stderr when stdin is a
// terminal, and Decline otherwise.
func Default() Confirmer {
	fd := os.Stdin.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return NewInteractive(os.Stdin, os.Stderr)
	}
	return Decline
}
