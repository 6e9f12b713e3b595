package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// termPrompt asks for a display name on an interactive terminal. Without a
// terminal it answers with an empty name, which the session treats as a
// declined prompt.
type termPrompt struct {
	in  *os.File
	out io.Writer
}

func newTermPrompt(in *os.File, out io.Writer) *termPrompt {
	return &termPrompt{in: in, out: out}
}

func (p *termPrompt) PromptName(ctx context.Context) (string, error) {
	if !term.IsTerminal(int(p.in.Fd())) {
		return "", nil
	}
	fmt.Fprint(p.out, "A display name is required before creating tasks.\nDisplay name: ")

	type answer struct {
		line string
		err  error
	}
	done := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(p.in).ReadString('\n')
		done <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-done:
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return "", fmt.Errorf("failed to read display name: %w", a.err)
		}
		return strings.TrimSpace(a.line), nil
	}
}
