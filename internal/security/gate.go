package security

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

// StrictReason is the skip reason for content blocked in strict mode.
const StrictReason = "blocked by strict safety policy"

// PatchOffer asks whether a flagged file should be sent back for a patch.
type PatchOffer func(file string, v model.Verdict) bool

// Outcome is the result of reviewing one file's content.
type Outcome struct {
	Content string
	Verdict model.Verdict
	Patched bool
	// Blocked is set in strict mode when the final content is still flagged.
	Blocked bool
}

// Gate screens synthesized content before it can be applied.
type Gate struct {
	oracle oracle.ScanOracle
	strict bool
}

// New creates an advisory Gate. With strict set, content that stays
// flagged is blocked instead of queued.
func New(o oracle.ScanOracle, strict bool) *Gate {
	return &Gate{oracle: o, strict: strict}
}

// Strict reports whether the gate blocks flagged content.
func (g *Gate) Strict() bool {
	return g.strict
}

// Evaluate scans content. A scanner failure yields an Unknown verdict and
// never an error.
func (g *Gate) Evaluate(ctx context.Context, content string) model.Verdict {
	reply, err := g.oracle.Scan(ctx, content)
	if err != nil {
		logging.Warn("safety scan failed", "error", err)
		return model.Verdict{Unknown: true, Risk: "unknown risk: " + err.Error()}
	}
	return ParseVerdict(reply)
}

// ParseVerdict interprets a scanner reply. A reply is safe only when its
// first non-empty line is SAFE on its own; otherwise that line is the risk.
func ParseVerdict(reply string) model.Verdict {
	first := ""
	for _, line := range strings.Split(reply, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			first = line
			break
		}
	}
	if first == "" {
		return model.Verdict{Unknown: true, Risk: "unknown risk: empty scanner reply"}
	}
	if strings.EqualFold(strings.Trim(first, ".!*`\"' "), "SAFE") {
		return model.Verdict{Safe: true}
	}
	return model.Verdict{Risk: first}
}

// RequestPatch asks the scanner to rewrite flagged content.
func (g *Gate) RequestPatch(ctx context.Context, content string) (string, error) {
	out, err := g.oracle.Patch(ctx, content)
	if err != nil {
		return "", fmt.Errorf("patch request failed: %w", err)
	}
	out = parser.Unfence(out)
	if strings.TrimSpace(out) == "" {
		return "", errors.New("patch request returned empty content")
	}
	return out, nil
}

// Review scans content for file and, when it is flagged, offers a patch.
// An accepted patch replaces the content and is scanned again. A declined
// offer or a failed patch keeps the original content and verdict.
func (g *Gate) Review(ctx context.Context, file, content string, offer PatchOffer) Outcome {
	out := Outcome{Content: content, Verdict: g.Evaluate(ctx, content)}

	if out.Verdict.Flagged() && offer != nil {
		if offer(file, out.Verdict) {
			patched, err := g.RequestPatch(ctx, content)
			if err != nil {
				logging.Warn("keeping flagged content, patch failed", "file", file, "error", err)
			} else {
				out.Content = patched
				out.Patched = true
				out.Verdict = g.Evaluate(ctx, patched)
				logging.Info("patched flagged content", "file", file, "safe_now", out.Verdict.Safe)
			}
		} else {
			logging.Info("patch declined, keeping flagged content", "file", file, "risk", out.Verdict.Risk)
		}
	}

	if g.strict && out.Verdict.Flagged() {
		out.Blocked = true
	}
	return out
}
