package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
)

// ErrNoTask is returned when no source yields a non-empty task.
var ErrNoTask = errors.New("no task given: pass it as arguments, pipe it on stdin, or copy it to the clipboard")

// Origin names where a task was read from.
type Origin string

const (
	FromArgs      Origin = "arguments"
	FromStdin     Origin = "stdin"
	FromClipboard Origin = "clipboard"
)

// SourceProvider determines and retrieves the task text.
type SourceProvider struct {
	stdin     io.Reader
	piped     func() bool
	clipboard func() (string, error)
}

// New creates a SourceProvider reading the process stdin and the system
// clipboard.
func New() *SourceProvider {
	return &SourceProvider{
		stdin:     os.Stdin,
		piped:     StdinPiped,
		clipboard: clipboard.ReadAll,
	}
}

// NewWithReaders creates a SourceProvider over the given stdin and
// clipboard. A nil stdin is never read.
func NewWithReaders(stdin io.Reader, readClipboard func() (string, error)) *SourceProvider {
	return &SourceProvider{
		stdin:     stdin,
		piped:     func() bool { return stdin != nil },
		clipboard: readClipboard,
	}
}

// Task returns the task from args if any, else from stdin when it is piped,
// else from the clipboard.
func (sp *SourceProvider) Task(args []string) (string, Origin, error) {
	if task := strings.TrimSpace(strings.Join(args, " ")); task != "" {
		return task, FromArgs, nil
	}

	if sp.stdin != nil && sp.piped() {
		content, err := io.ReadAll(sp.stdin)
		if err != nil {
			return "", FromStdin, fmt.Errorf("failed to read from stdin: %w", err)
		}
		if task := strings.TrimSpace(string(content)); task != "" {
			return task, FromStdin, nil
		}
		return "", FromStdin, ErrNoTask
	}

	if sp.clipboard == nil {
		return "", FromClipboard, ErrNoTask
	}
	content, err := sp.clipboard()
	if err != nil {
		return "", FromClipboard, fmt.Errorf("failed to read from clipboard: %w", err)
	}
	if task := strings.TrimSpace(content); task != "" {
		return task, FromClipboard, nil
	}
	return "", FromClipboard, ErrNoTask
}

// CopyToClipboard writes text to the system clipboard.
func CopyToClipboard(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("failed to write to clipboard: %w", err)
	}
	return nil
}

// StdinPiped reports whether the process stdin is a pipe or file rather
// than a terminal.
func StdinPiped() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
