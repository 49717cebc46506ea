package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/sokinpui/revise/internal/logging"
	"github.com/sokinpui/revise/internal/metrics"
	"github.com/sokinpui/revise/internal/oracle"
	"github.com/sokinpui/revise/internal/parser"
	"github.com/sokinpui/revise/internal/project"
	"github.com/sokinpui/revise/model"
)

var errNoPayload = errors.New("no operation list found in reply")

// PlanParseError is returned when the oracle's reply cannot be turned into
// a plan. No partial plan is ever returned alongside it.
type PlanParseError struct {
	Raw string
	Err error
}

func (e *PlanParseError) Error() string {
	return fmt.Sprintf("could not parse plan: %v", e.Err)
}

func (e *PlanParseError) Unwrap() error { return e.Err }

// Generator asks the plan oracle for an ordered list of operations.
type Generator struct {
	oracle  oracle.PlanOracle
	metrics *metrics.Metrics
}

// New creates a Generator. m may be nil.
func New(o oracle.PlanOracle, m *metrics.Metrics) *Generator {
	return &Generator{oracle: o, metrics: m}
}

// Generate produces the plan for task. Oracle failures are returned as-is;
// malformed replies yield a *PlanParseError.
func (g *Generator) Generate(ctx context.Context, task string, pc project.Context) ([]model.Operation, error) {
	raw, err := g.oracle.ProducePlan(ctx, task, pc)
	if err != nil {
		g.metrics.Plan("oracle_error")
		return nil, fmt.Errorf("failed to produce plan: %w", err)
	}

	ops, err := Parse(raw)
	if err != nil {
		g.metrics.Plan("parse_error")
		logging.Warn("plan reply could not be parsed", "error", err, "bytes", len(raw))
		return nil, err
	}
	g.metrics.Plan("ok")
	logging.Info("plan generated", "operations", len(ops))
	return ops, nil
}

type rawOperation struct {
	File        string `json:"file"`
	Action      string `json:"action"`
	Explanation string `json:"explanation"`
}

type rawPlan struct {
	Operations []rawOperation `json:"operations"`
}

// Parse locates the operation list inside a free-form reply. Fenced code
// blocks are tried first, in order, then the outermost bracketed span of
// the whole reply. Repeated entries for one file keep the first.
func Parse(raw string) ([]model.Operation, error) {
	entries, err := locate(raw)
	if err != nil {
		return nil, &PlanParseError{Raw: raw, Err: err}
	}

	ops := make([]model.Operation, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		file := strings.TrimSpace(e.File)
		if file == "" {
			return nil, &PlanParseError{Raw: raw, Err: fmt.Errorf("operation %d has no file", i+1)}
		}
		action := model.Action(strings.ToLower(strings.TrimSpace(e.Action)))
		if !action.Valid() {
			return nil, &PlanParseError{Raw: raw, Err: fmt.Errorf("operation %d (%s) has unknown action %q", i+1, file, e.Action)}
		}

		key := path.Clean(filepath.ToSlash(file))
		if _, dup := seen[key]; dup {
			logging.Warn("dropping repeated plan entry", "file", file)
			continue
		}
		seen[key] = struct{}{}

		ops = append(ops, model.Operation{
			File:        file,
			Action:      action,
			Explanation: strings.TrimSpace(e.Explanation),
		})
	}
	return ops, nil
}

func locate(raw string) ([]rawOperation, error) {
	var lastErr error

	blocks, err := parser.ExtractCodeBlocks([]byte(raw))
	if err == nil {
		for _, b := range blocks {
			entries, err := decode(b.Content)
			if err == nil {
				return entries, nil
			}
			lastErr = err
		}
	}

	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start >= 0 && end > start {
		entries, err := decode(raw[start : end+1])
		if err == nil {
			return entries, nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errNoPayload
}

func decode(payload string) ([]rawOperation, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "{") {
		var p rawPlan
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, err
		}
		if p.Operations == nil {
			return nil, errNoPayload
		}
		return p.Operations, nil
	}

	var entries []rawOperation
	if err := json.Unmarshal([]byte(payload), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
