package revise

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sokinpui/revise/internal/applier"
	"github.com/sokinpui/revise/internal/config"
	"github.com/sokinpui/revise/internal/fs"
	"github.com/sokinpui/revise/internal/logging"
	"github.com/sokinpui/revise/internal/metrics"
	"github.com/sokinpui/revise/internal/nvim"
	"github.com/sokinpui/revise/internal/oracle"
	"github.com/sokinpui/revise/internal/pathsafe"
	"github.com/sokinpui/revise/internal/planner"
	"github.com/sokinpui/revise/internal/project"
	"github.com/sokinpui/revise/internal/security"
	"github.com/sokinpui/revise/internal/state"
	"github.com/sokinpui/revise/internal/synth"
	"github.com/sokinpui/revise/model"
)

// Progress stages reported to the ProgressUpdate callback.
const (
	StagePlanning     = "planning"
	StageSynthesizing = "synthesizing"
	StageApplying     = "applying"
	StageUndoing      = "undoing"
)

// Messages reported when a request ends without writing anything.
const (
	NoChangesMessage = "No changes to apply."
	DiscardedMessage = "Changes discarded. Nothing was written."
)

// Pending proposals are dropped once they are older than PendingTTL, and the
// oldest is dropped when more than MaxPending are held.
const (
	MaxPending = 32
	PendingTTL = time.Hour
)

// ErrUnknownProposal is returned for a proposal id that is not pending.
var ErrUnknownProposal = errors.New("unknown or already settled proposal")

// ProgressUpdate is a callback function to report progress. file is empty
// for stages that are not per file.
type ProgressUpdate func(stage string, current, total int, file string)

// Prompter is the confirmation boundary supplied by the host.
type Prompter interface {
	// Confirm decides whether a proposal is applied.
	Confirm(p *Proposal) bool
	// OfferPatch decides whether flagged content is sent back for a patch.
	OfferPatch(file string, v model.Verdict) bool
}

// DetailedError enhances a standard error with a stack trace.
type DetailedError struct {
	Err   error
	Stack []byte
}

func (e *DetailedError) Error() string {
	return e.Err.Error()
}

func (e *DetailedError) Unwrap() error { return e.Err }

func recoverPanic(err *error) {
	if r := recover(); r != nil {
		*err = &DetailedError{
			Err:   fmt.Errorf("internal panic: %v", r),
			Stack: debug.Stack(),
		}
	}
}

// Deps are the collaborators of a Session. Only Oracle is required.
type Deps struct {
	Oracle     oracle.Oracle
	Lookup     project.Lookup
	FileSystem fs.FileSystem
	Metrics    *metrics.Metrics
	Notifier   *nvim.Notifier
	Clock      func() time.Time
}

// Session owns one history log and runs requests against one project root.
type Session struct {
	cfg       *config.Config
	root      string
	validator *pathsafe.Validator
	lookup    project.Lookup
	planner   *planner.Generator
	synth     *synth.Synthesizer
	gate      *security.Gate
	applier   *applier.Applier
	undoer    *state.Undoer
	log       *state.Log
	backups   *fs.BackupStore
	fsys      fs.FileSystem
	metrics   *metrics.Metrics
	notifier  *nvim.Notifier
	now       func() time.Time

	progressCallback ProgressUpdate

	mu      sync.Mutex
	pending map[string]*Proposal

	// opMu keeps applies and undos from interleaving.
	opMu sync.Mutex
}

// New creates a Session for the project at root.
func New(cfg *config.Config, root string, deps Deps) (*Session, error) {
	if deps.Oracle == nil {
		return nil, errors.New("no oracle configured")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("could not resolve project root: %w", err)
	}
	if info, err := os.Stat(absRoot); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", absRoot)
	}

	validator, err := pathsafe.New(absRoot, cfg.Safety.DenyDirs, cfg.Safety.DenyGlobs)
	if err != nil {
		return nil, err
	}

	fsys := deps.FileSystem
	if fsys == nil {
		fsys = fs.OS{}
	}
	lookup := deps.Lookup
	if lookup == nil {
		lookup = project.NewScanner(absRoot, project.Options{
			DenyDirs:      cfg.Safety.DenyDirs,
			IgnoreGlobs:   cfg.Pipeline.IgnoreGlobs,
			MaxFiles:      cfg.Pipeline.MaxFiles,
			MaxCandidates: cfg.Pipeline.MaxCandidates,
		})
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	backupDir := cfg.Backup.Dir
	if backupDir == "" {
		backupDir = fs.DefaultBackupDir(absRoot)
	}
	backups := fs.NewBackupStore(backupDir, fsys)
	log := state.NewLog()

	return &Session{
		cfg:       cfg,
		root:      absRoot,
		validator: validator,
		lookup:    lookup,
		planner:   planner.New(deps.Oracle, deps.Metrics),
		synth:     synth.New(deps.Oracle),
		gate:      security.New(deps.Oracle, cfg.Safety.Strict),
		applier:   applier.New(validator, backups, log, applier.WithFileSystem(fsys), applier.WithClock(now)),
		undoer:    state.NewUndoer(absRoot, fsys, backups),
		log:       log,
		backups:   backups,
		fsys:      fsys,
		metrics:   deps.Metrics,
		notifier:  deps.Notifier,
		now:       now,
		pending:   make(map[string]*Proposal),
	}, nil
}

// Root returns the absolute project root.
func (s *Session) Root() string {
	return s.root
}

// SetProgressCallback sets a function to be called for progress updates.
func (s *Session) SetProgressCallback(cb ProgressUpdate) {
	s.progressCallback = cb
}

func (s *Session) progress(stage string, current, total int, file string) {
	if s.progressCallback != nil {
		s.progressCallback(stage, current, total, file)
	}
}

// NewBatchID returns a fresh batch identifier of the form
// b-<yyyymmdd-hhmmss>-<8 hex chars>.
func NewBatchID(now time.Time) string {
	return fmt.Sprintf("b-%s-%s", now.UTC().Format("20060102-150405"), uuid.New().String()[:8])
}

// Propose plans task and prepares every change without touching the
// project. offer may be nil, in which case flagged content is never
// patched. The proposal stays pending until Apply or Discard.
func (s *Session) Propose(ctx context.Context, task string, offer security.PatchOffer) (p *Proposal, err error) {
	defer recoverPanic(&err)

	s.progress(StagePlanning, 0, 0, "")
	pc, lookupErr := s.lookup.Context(task)
	if lookupErr != nil {
		logging.Warn("project lookup failed, planning without context", "error", lookupErr)
	}

	ops, err := s.planner.Generate(ctx, task, pc)
	if err != nil {
		return nil, err
	}
	logging.Info("plan received", "task", task, "operations", len(ops))

	p = &Proposal{
		ID:        NewBatchID(s.now()),
		Task:      task,
		CreatedAt: s.now(),
	}

	results := s.prepareAll(ctx, task, ops, offer)
	for _, r := range results {
		if r.skip != nil {
			p.Skipped = append(p.Skipped, *r.skip)
			continue
		}
		p.Changes = append(p.Changes, *r.change)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.prunePendingLocked()
	if len(s.pending) >= MaxPending {
		s.dropOldestLocked()
	}
	s.pending[p.ID] = p
	s.mu.Unlock()
	return p, nil
}

type prepared struct {
	change *model.Change
	skip   *model.Skip
}

func (s *Session) prepareAll(ctx context.Context, task string, ops []model.Operation, offer security.PatchOffer) []prepared {
	results := make([]prepared, len(ops))
	total := len(ops)

	parallel := s.cfg.Pipeline.Parallel
	if parallel <= 1 {
		for i, op := range ops {
			s.progress(StageSynthesizing, i+1, total, op.File)
			results[i] = s.prepare(ctx, task, op, offer)
		}
		return results
	}

	// Patch offers reach the host one at a time.
	var offerMu sync.Mutex
	serialOffer := offer
	if offer != nil {
		serialOffer = func(file string, v model.Verdict) bool {
			offerMu.Lock()
			defer offerMu.Unlock()
			return offer(file, v)
		}
	}

	var progressMu sync.Mutex
	done := 0
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, op := range ops {
		g.Go(func() (err error) {
			defer func() {
				if err != nil {
					results[i] = s.skip(op, "panic", "internal error", err)
					err = nil
				}
			}()
			defer recoverPanic(&err)
			results[i] = s.prepare(ctx, task, op, serialOffer)
			progressMu.Lock()
			done++
			s.progress(StageSynthesizing, done, total, op.File)
			progressMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Session) skip(op model.Operation, label, reason string, err error) prepared {
	s.metrics.Skipped(label)
	logging.Warn("skipping operation", "file", op.File, "reason", reason, "error", err)
	return prepared{skip: &model.Skip{File: op.File, Reason: reason, Err: err}}
}

// prepare runs one operation through validation, synthesis and the gate.
func (s *Session) prepare(ctx context.Context, task string, op model.Operation, offer security.PatchOffer) prepared {
	abs, err := s.validator.Check(op.File)
	if err != nil {
		var unsafe *pathsafe.UnsafePathError
		reason := err.Error()
		if errors.As(err, &unsafe) {
			reason = "unsafe path: " + unsafe.Reason
		}
		return s.skip(op, "unsafe_path", reason, err)
	}
	op.File = s.validator.Rel(abs)

	var current *string
	data, readErr := s.fsys.ReadFile(abs)
	switch {
	case readErr == nil:
		text := string(data)
		current = &text
		if op.Action == model.ActionCreate {
			logging.Warn("planned create targets an existing file, treating as modify", "file", op.File)
			op.Action = model.ActionModify
		}
	case os.IsNotExist(readErr):
		if op.Action == model.ActionModify {
			logging.Warn("planned modify targets a missing file, treating as create", "file", op.File)
			op.Action = model.ActionCreate
		}
	default:
		return s.skip(op, "read", "could not read current content", readErr)
	}

	if err := ctx.Err(); err != nil {
		return s.skip(op, "canceled", "canceled", err)
	}

	content, err := s.synth.Synthesize(ctx, op, current, task)
	if err != nil {
		return s.skip(op, "synthesis", "synthesis failed", err)
	}

	out := s.gate.Review(ctx, op.File, content, offer)
	if out.Blocked {
		return s.skip(op, "strict", security.StrictReason, errors.New(out.Verdict.Risk))
	}
	if out.Verdict.Flagged() {
		logging.Warn("content flagged as unsafe", "file", op.File, "risk", out.Verdict.Risk, "patched", out.Patched)
	}

	return prepared{change: &model.Change{
		Operation: op,
		Content:   out.Content,
		Verdict:   out.Verdict,
		Patched:   out.Patched,
		Previous:  current,
	}}
}

// Pending returns the pending proposal with id.
func (s *Session) Pending(id string) (*Proposal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prunePendingLocked()
	p, ok := s.pending[id]
	return p, ok
}

func (s *Session) take(id string) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prunePendingLocked()
	p, ok := s.pending[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProposal, id)
	}
	delete(s.pending, id)
	return p, nil
}

func (s *Session) prunePendingLocked() {
	cutoff := s.now().Add(-PendingTTL)
	for id, p := range s.pending {
		if p.CreatedAt.Before(cutoff) {
			logging.Info("pending proposal expired", "batch", id)
			delete(s.pending, id)
		}
	}
}

func (s *Session) dropOldestLocked() {
	var oldest *Proposal
	for _, p := range s.pending {
		if oldest == nil || p.CreatedAt.Before(oldest.CreatedAt) {
			oldest = p
		}
	}
	if oldest != nil {
		logging.Info("pending proposal evicted", "batch", oldest.ID)
		delete(s.pending, oldest.ID)
	}
}

// Discard drops a pending proposal. Nothing on disk changes.
func (s *Session) Discard(id string) error {
	p, err := s.take(id)
	if err != nil {
		return err
	}
	logging.Info("proposal discarded", "batch", p.ID, "changes", len(p.Changes))
	return nil
}

// Apply writes a pending proposal as one batch.
func (s *Session) Apply(id string) (summary model.Summary, err error) {
	defer recoverPanic(&err)

	p, err := s.take(id)
	if err != nil {
		return model.Summary{}, err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	total := len(p.Changes)
	s.progress(StageApplying, 0, total, "")
	entries, errs := s.applier.Apply(p.ID, p.Changes, func(current int) {
		s.progress(StageApplying, current, total, p.Changes[current-1].File)
	})

	summary = model.Summary{Skipped: p.Skipped}
	var touched []string
	for _, e := range entries {
		s.metrics.Applied(string(e.Action))
		touched = append(touched, e.File)
		if e.Action == model.ActionCreate {
			summary.Created = append(summary.Created, e.File)
		} else {
			summary.Modified = append(summary.Modified, e.File)
		}
		if e.Risk != "" {
			summary.Flagged = append(summary.Flagged, e.File)
		}
	}
	for _, e := range errs {
		s.metrics.ApplyError()
		var applyErr *applier.ApplyError
		if errors.As(e, &applyErr) {
			summary.Failed = append(summary.Failed, applyErr.File)
		} else {
			summary.Failed = append(summary.Failed, e.Error())
		}
	}
	summary.Message = fmt.Sprintf("Applied %d of %d change(s) as batch %s.", len(entries), total, p.ID)
	logging.Info("batch applied", "batch", p.ID, "applied", len(entries), "failed", len(errs))

	s.reloadEditor(touched)
	return summary, nil
}

// Request runs the whole pipeline for task: propose, confirm through
// prompter, then apply. A declined proposal leaves the project untouched.
func (s *Session) Request(ctx context.Context, task string, prompter Prompter) (summary model.Summary, err error) {
	defer recoverPanic(&err)

	p, err := s.Propose(ctx, task, prompter.OfferPatch)
	if err != nil {
		return model.Summary{}, err
	}
	if len(p.Changes) == 0 {
		_ = s.Discard(p.ID)
		return model.Summary{Skipped: p.Skipped, Message: NoChangesMessage}, nil
	}
	if !prompter.Confirm(p) {
		_ = s.Discard(p.ID)
		return model.Summary{Skipped: p.Skipped, Message: DiscardedMessage}, nil
	}
	return s.Apply(p.ID)
}

// Undo reverts the most recent batch. It returns state.ErrNothingToUndo
// when the history is empty.
func (s *Session) Undo() (summary model.Summary, result state.UndoResult, err error) {
	defer recoverPanic(&err)

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.progress(StageUndoing, 0, 0, "")
	result, err = s.undoer.UndoLastBatch(s.log)
	if err != nil {
		return model.Summary{Message: "Nothing to undo."}, result, err
	}

	var touched []string
	for _, e := range result.Reverted {
		touched = append(touched, e.File)
		if e.Action == model.ActionCreate {
			summary.Deleted = append(summary.Deleted, e.File)
		} else {
			summary.Restored = append(summary.Restored, e.File)
		}
	}
	for _, e := range result.Failed {
		var undoErr *state.UndoError
		if errors.As(e, &undoErr) {
			summary.Failed = append(summary.Failed, undoErr.File)
		} else {
			summary.Failed = append(summary.Failed, e.Error())
		}
	}
	s.metrics.Undo("reverted", len(result.Reverted))
	s.metrics.Undo("failed", len(result.Failed))

	summary.Message = fmt.Sprintf("Undid batch %s.", result.BatchID)
	if len(result.Drifted) > 0 {
		summary.Message += fmt.Sprintf(" %d file(s) had changed since they were applied.", len(result.Drifted))
	}

	s.reloadEditor(touched)
	return summary, result, nil
}

// History returns the applied entries in apply order.
func (s *Session) History() []model.HistoryEntry {
	return s.log.Entries()
}

// Batches returns the history grouped by batch, oldest first.
func (s *Session) Batches() [][]model.HistoryEntry {
	return s.log.Batches()
}

// Close ends the session. Backups are deleted unless backup.keep is set.
func (s *Session) Close() error {
	if s.cfg.Backup.Keep {
		return nil
	}
	if err := s.backups.Cleanup(); err != nil {
		return fmt.Errorf("failed to clean up backups: %w", err)
	}
	return nil
}

func (s *Session) reloadEditor(files []string) {
	if !s.notifier.Enabled() || len(files) == 0 {
		return
	}
	if _, failed, err := s.notifier.Reload(files); err != nil {
		logging.Warn("could not notify nvim", "error", err)
	} else if len(failed) > 0 {
		logging.Debug("nvim did not reload some files", "files", failed)
	}
}
