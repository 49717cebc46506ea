package applier

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sokinpui/revise/internal/fs"
	"github.com/sokinpui/revise/internal/logging"
	"github.com/sokinpui/revise/internal/pathsafe"
	"github.com/sokinpui/revise/internal/state"
	"github.com/sokinpui/revise/model"
)

// ApplyError reports a file that could not be backed up or written.
type ApplyError struct {
	File string
	Op   string // "validate", "backup", "mkdir" or "write"
	Err  error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s: %s: %v", e.File, e.Op, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Applier writes approved changes to disk and records them in the log.
type Applier struct {
	validator *pathsafe.Validator
	fsys      fs.FileSystem
	backups   *fs.BackupStore
	log       *state.Log
	now       func() time.Time
}

// Option customises an Applier.
type Option func(*Applier)

// WithFileSystem replaces the file system used for reads and writes.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(a *Applier) { a.fsys = fsys }
}

// WithClock replaces the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Applier) { a.now = now }
}

// New creates an Applier that appends to log.
func New(validator *pathsafe.Validator, backups *fs.BackupStore, log *state.Log, opts ...Option) *Applier {
	a := &Applier{
		validator: validator,
		fsys:      fs.OS{},
		backups:   backups,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply writes changes in order under one batch id. Each successful write
// appends one history entry; a failed file is reported and the remaining
// files are still attempted. There is no rollback.
func (a *Applier) Apply(batchID string, changes []model.Change, progressCb func(int)) ([]model.HistoryEntry, []error) {
	var entries []model.HistoryEntry
	var errs []error

	for i, change := range changes {
		entry, err := a.applyOne(batchID, change)
		if err != nil {
			logging.Error("apply failed", "file", change.File, "batch", batchID, "error", err)
			errs = append(errs, err)
		} else {
			a.log.Append(entry)
			entries = append(entries, entry)
			logging.Debug("applied", "file", entry.File, "action", entry.Action, "batch", batchID, "backup", entry.BackupRef)
		}
		if progressCb != nil {
			progressCb(i + 1)
		}
	}
	return entries, errs
}

func (a *Applier) applyOne(batchID string, change model.Change) (model.HistoryEntry, error) {
	target, err := a.validator.Check(change.File)
	if err != nil {
		return model.HistoryEntry{}, &ApplyError{File: change.File, Op: "validate", Err: err}
	}
	rel := a.validator.Rel(target)

	entry := model.HistoryEntry{
		File:      rel,
		Action:    change.Action,
		Timestamp: a.now(),
		BatchID:   batchID,
	}
	if change.Verdict.Flagged() {
		entry.Risk = change.Verdict.Risk
	}

	// An existing file is never overwritten without a backup, whatever the
	// plan called it.
	if _, statErr := a.fsys.Stat(target); statErr == nil {
		prior, err := a.fsys.ReadFile(target)
		if err != nil {
			return model.HistoryEntry{}, &ApplyError{File: rel, Op: "backup", Err: err}
		}
		ref, ts, err := a.backups.Save(rel, entry.Timestamp, prior)
		if err != nil {
			return model.HistoryEntry{}, &ApplyError{File: rel, Op: "backup", Err: err}
		}
		if change.Action == model.ActionCreate {
			logging.Warn("planned create targets an existing file, recording as modify", "file", rel)
		}
		entry.Action = model.ActionModify
		entry.BackupRef = ref
		entry.Timestamp = ts
	} else if !os.IsNotExist(statErr) {
		return model.HistoryEntry{}, &ApplyError{File: rel, Op: "backup", Err: statErr}
	} else {
		entry.Action = model.ActionCreate
	}

	if created := fs.TopMissingDir(a.fsys, filepath.Dir(target), a.validator.Root()); created != "" {
		entry.CreatedDir = a.validator.Rel(created)
	}
	if err := a.fsys.MkdirAll(filepath.Dir(target), 0755); err != nil {
		a.discardBackup(entry.BackupRef)
		return model.HistoryEntry{}, &ApplyError{File: rel, Op: "mkdir", Err: err}
	}
	data := []byte(change.Content)
	if err := a.fsys.WriteFile(target, data, 0644); err != nil {
		a.discardBackup(entry.BackupRef)
		return model.HistoryEntry{}, &ApplyError{File: rel, Op: "write", Err: err}
	}
	entry.ContentHash = fs.SHA256(data)
	return entry, nil
}

func (a *Applier) discardBackup(ref string) {
	if ref == "" {
		return
	}
	if err := a.backups.Remove(ref); err != nil {
		logging.Warn("could not remove unused backup", "backup", ref, "error", err)
	}
}
