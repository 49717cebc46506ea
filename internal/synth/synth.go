package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sokinpui/revise/internal/logging"
	"github.com/sokinpui/revise/internal/oracle"
	"github.com/sokinpui/revise/internal/parser"
	"github.com/sokinpui/revise/model"
)

// ErrEmptyContent is returned when the oracle produced no file body.
var ErrEmptyContent = errors.New("oracle returned empty content")

// SynthesisError reports an operation whose content could not be produced.
type SynthesisError struct {
	File string
	Err  error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesize %s: %v", e.File, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Synthesizer produces the full new content for planned operations. It
// never touches the file system.
type Synthesizer struct {
	oracle oracle.ContentOracle
}

// New creates a Synthesizer.
func New(o oracle.ContentOracle) *Synthesizer {
	return &Synthesizer{oracle: o}
}

// Synthesize returns the new content for op. current is the file's content
// at call time, or nil when the file does not exist.
func (s *Synthesizer) Synthesize(ctx context.Context, op model.Operation, current *string, task string) (string, error) {
	if op.Action == model.ActionCreate {
		current = nil
	}

	out, err := s.oracle.SynthesizeContent(ctx, op, current, task)
	if err != nil {
		return "", &SynthesisError{File: op.File, Err: err}
	}

	body := parser.Unfence(out)
	if strings.TrimSpace(body) == "" {
		return "", &SynthesisError{File: op.File, Err: ErrEmptyContent}
	}
	logging.Debug("synthesized", "file", op.File, "action", op.Action, "bytes", len(body))
	return body, nil
}
