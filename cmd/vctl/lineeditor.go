package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

const (
	historyFileName = ".vctl_history"
	historySize     = 500
)

// LineEditor reads shell lines with readline on a terminal and with a plain
// scanner when stdin is piped.
type LineEditor struct {
	interactive bool
	rl          *readline.Instance
	scanner     *bufio.Scanner
	out         io.Writer
}

// NewLineEditor picks the input mode from stdin.
func NewLineEditor() *LineEditor {
	if !term.IsTerminal(int(os.Stdin.Fd())) { //nolint:gosec // fd fits in int
		return newScannerEditor(os.Stdin, os.Stdout)
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:            filepath.Join(homeDir(), historyFileName),
		HistoryLimit:           historySize,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: readline init failed (%v), using basic input\n", err)
		return newScannerEditor(os.Stdin, os.Stdout)
	}
	return &LineEditor{interactive: true, rl: rl}
}

func newScannerEditor(in io.Reader, out io.Writer) *LineEditor {
	return &LineEditor{scanner: bufio.NewScanner(in), out: out}
}

// GetLine returns the next line without its newline. End of input and
// Ctrl-C/Ctrl-D return io.EOF.
func (le *LineEditor) GetLine(prompt string) (string, error) {
	if le.interactive {
		le.rl.SetPrompt(prompt)
		line, err := le.rl.Readline()
		if err != nil {
			return "", io.EOF
		}
		if strings.TrimSpace(line) != "" {
			le.rl.SaveToHistory(line) //nolint:errcheck // history is best effort
		}
		return line, nil
	}

	if le.out != nil {
		fmt.Fprint(le.out, prompt)
	}
	if !le.scanner.Scan() {
		if err := le.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return le.scanner.Text(), nil
}

// IsInteractive reports whether readline is in use.
func (le *LineEditor) IsInteractive() bool {
	return le.interactive
}

// Close saves history. Safe to call more than once.
func (le *LineEditor) Close() {
	if le.rl != nil {
		le.rl.Close() //nolint:errcheck // nothing to do on failure
		le.rl = nil
	}
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
