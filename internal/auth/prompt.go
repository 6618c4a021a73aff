package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// ConsolePrompter reads answers from a terminal. Secret prompts disable echo.
// A canceled context (first SIGINT) or end of input aborts the prompt with
// ErrCancelled.
type ConsolePrompter struct {
	reader      *bufio.Reader
	out         io.Writer
	interactive bool

	// readSecret reads one line without echo. Tests replace it.
	readSecret func() (string, error)
	// restore puts the terminal back in its original mode after an
	// interrupted secret read.
	restore func()
}

// NewConsolePrompter returns a prompter reading from in and writing prompts
// to out. Prompts fail with ErrNotInteractive when in is not a terminal.
func NewConsolePrompter(in *os.File, out io.Writer) *ConsolePrompter {
	fd := in.Fd()
	p := &ConsolePrompter{
		reader:      bufio.NewReader(in),
		out:         out,
		interactive: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
	}

	p.readSecret = func() (string, error) {
		b, err := term.ReadPassword(int(fd))
		fmt.Fprintln(out)

		return string(b), err
	}

	p.restore = func() {}
	if state, err := term.GetState(int(fd)); err == nil {
		p.restore = func() { _ = term.Restore(int(fd), state) }
	}

	return p
}

// Prompt reads one visible line.
func (p *ConsolePrompter) Prompt(ctx context.Context, label string) (string, error) {
	return p.read(ctx, label, false)
}

// PromptSecret reads one line without echo.
func (p *ConsolePrompter) PromptSecret(ctx context.Context, label string) (string, error) {
	return p.read(ctx, label, true)
}

type readResult struct {
	line string
	err  error
}

func (p *ConsolePrompter) read(ctx context.Context, label string, secret bool) (string, error) {
	if !p.interactive {
		return "", ErrNotInteractive
	}

	if ctx.Err() != nil {
		return "", ErrCancelled
	}

	fmt.Fprint(p.out, label)

	// The read cannot be interrupted, so it runs in its own goroutine. On
	// cancellation it is abandoned; the process is about to exit.
	ch := make(chan readResult, 1)

	go func() {
		if secret {
			line, err := p.readSecret()
			ch <- readResult{line: line, err: err}

			return
		}

		line, err := p.reader.ReadString('\n')
		ch <- readResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		if secret {
			p.restore()
		}

		return "", ErrCancelled
	case r := <-ch:
		switch {
		case errors.Is(r.err, io.EOF) && r.line == "":
			return "", ErrCancelled
		case r.err != nil && !errors.Is(r.err, io.EOF):
			return "", fmt.Errorf("auth: reading input: %w", r.err)
		}

		return strings.TrimRight(r.line, "\r\n"), nil
	}
}
