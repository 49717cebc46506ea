package revise

import (
	"time"

	"github.com/sokinpui/revise/internal/diff"
	"github.com/sokinpui/revise/model"
)

// Proposal is a prepared batch awaiting confirmation. Its ID becomes the
// batch id of every history entry it produces.
type Proposal struct {
	ID        string
	Task      string
	Changes   []model.Change
	Skipped   []model.Skip
	CreatedAt time.Time
}

// Flagged returns the changes the scanner judged unsafe.
func (p *Proposal) Flagged() []model.Change {
	var out []model.Change
	for _, c := range p.Changes {
		if c.Verdict.Flagged() {
			out = append(out, c)
		}
	}
	return out
}

// Preview renders a unified diff for c against the content seen when it
// was synthesized.
func Preview(c model.Change) (string, error) {
	return diff.Unified(c.File, c.Previous, c.Content)
}
