package revise

import (
	"context"
	"fmt"

	"github.com/sokinpui/revise/internal/config"
	"github.com/sokinpui/revise/internal/oracle"
	"github.com/sokinpui/revise/model"
)

// Options for using revise as a library.
type Options struct {
	// Strict blocks content that stays flagged instead of applying it.
	Strict bool
	// Parallel synthesizes up to this many files at once.
	Parallel int
	// AutoPatch sends every flagged file back for a patch.
	AutoPatch bool
	// KeepBackups leaves backups on disk after the call returns.
	KeepBackups bool
}

// AutoPrompter confirms every proposal and answers patch offers with Patch.
type AutoPrompter struct {
	Patch bool
}

func (a AutoPrompter) Confirm(*Proposal) bool                { return true }
func (a AutoPrompter) OfferPatch(string, model.Verdict) bool { return a.Patch }

// Run applies task to the project at root in a throwaway session. The
// returned summary cannot be undone through revise once Run returns.
func Run(ctx context.Context, root, task string, o oracle.Oracle, opts Options) (model.Summary, error) {
	cfg := config.DefaultConfig()
	cfg.Safety.Strict = opts.Strict
	cfg.Pipeline.Parallel = opts.Parallel
	cfg.Safety.AutoPatch = opts.AutoPatch
	cfg.Backup.Keep = opts.KeepBackups

	s, err := New(cfg, root, Deps{Oracle: o})
	if err != nil {
		return model.Summary{}, fmt.Errorf("failed to initialize revise session: %w", err)
	}
	defer s.Close()

	return s.Request(ctx, task, AutoPrompter{Patch: opts.AutoPatch})
}
