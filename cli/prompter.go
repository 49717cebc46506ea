package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/sokinpui/revise/internal/diff"
	"github.com/sokinpui/revise/internal/source"
	"github.com/sokinpui/revise/internal/ui"
	"github.com/sokinpui/revise/model"
	"github.com/sokinpui/revise/revise"
)

// Prompter asks the user on a terminal. It implements revise.Prompter.
type Prompter struct {
	in          *bufio.Reader
	out         io.Writer
	yes         bool
	autoPatch   bool
	copyPreview bool

	// pause runs a prompt while a spinner may own the terminal.
	pause func(func())
}

// NewPrompter creates a Prompter reading answers from in and writing diffs
// to out.
func NewPrompter(in *bufio.Reader, out io.Writer, flags *Config, autoPatch bool) *Prompter {
	return &Prompter{
		in:          in,
		out:         out,
		yes:         flags.Yes,
		autoPatch:   autoPatch,
		copyPreview: flags.CopyPreview,
		pause:       func(fn func()) { fn() },
	}
}

// SetPause sets how prompts borrow the terminal from a running spinner.
func (p *Prompter) SetPause(pause func(func())) {
	if pause == nil {
		pause = func(fn func()) { fn() }
	}
	p.pause = pause
}

// OfferPatch asks whether flagged content should be sent back for a patch.
// With --yes and without --auto-patch, flagged content is kept unpatched.
func (p *Prompter) OfferPatch(file string, v model.Verdict) bool {
	if p.autoPatch {
		return true
	}
	if p.yes {
		return false
	}
	var answer bool
	p.pause(func() {
		ui.Warning("Safety scan flagged %s: %s", file, v.Risk)
		answer = ui.AskYesNo(p.in, "Request a patched version?", true)
	})
	return answer
}

// Confirm shows every change as a diff and asks whether to apply them.
func (p *Prompter) Confirm(prop *revise.Proposal) bool {
	preview, err := RenderProposal(prop)
	if err != nil {
		ui.Error("Could not render preview: %v", err)
		return false
	}
	ui.PrintDiff(p.out, preview)

	for _, c := range prop.Flagged() {
		ui.Warning("Safety warning for %s: %s", c.File, c.Verdict.Risk)
	}
	for _, c := range prop.Changes {
		if c.Verdict.Unknown {
			ui.Warning("Could not screen %s: %s", c.File, c.Verdict.Risk)
		}
	}
	ui.PrintSkipped(prop.Skipped)

	if p.copyPreview {
		if err := source.CopyToClipboard(preview); err != nil {
			ui.Warning("%v", err)
		} else {
			ui.Info("Preview copied to clipboard.")
		}
	}

	if p.yes {
		return true
	}
	return ui.AskYesNo(p.in, fmt.Sprintf("Apply %d change(s)?", len(prop.Changes)), false)
}

// RenderProposal joins the diffs of every change in prop.
func RenderProposal(prop *revise.Proposal) (string, error) {
	var b strings.Builder
	added, removed := 0, 0
	for _, c := range prop.Changes {
		d, err := revise.Preview(c)
		if err != nil {
			return "", fmt.Errorf("%s: %w", c.File, err)
		}
		a, r := diff.Stat(d)
		added += a
		removed += r
		b.WriteString(d)
		if d != "" && !strings.HasSuffix(d, "\n") {
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "%d file(s) changed, %d insertion(s)(+), %d deletion(s)(-)\n", len(prop.Changes), added, removed)
	return b.String(), nil
}
