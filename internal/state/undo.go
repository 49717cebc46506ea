package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sokinpui/revise/internal/fs"
	"github.com/sokinpui/revise/internal/logging"
	"github.com/sokinpui/revise/model"
)

// ErrNothingToUndo is returned when the log holds no entries.
var ErrNothingToUndo = errors.New("nothing to undo")

// UndoError reports a file that could not be reverted.
type UndoError struct {
	File string
	Err  error
}

func (e *UndoError) Error() string {
	return fmt.Sprintf("undo %s: %v", e.File, e.Err)
}

func (e *UndoError) Unwrap() error { return e.Err }

// UndoResult describes one undo of a batch.
type UndoResult struct {
	BatchID  string
	Reverted []model.HistoryEntry // in processing order
	Failed   []error
	Drifted  []string // files changed on disk since they were applied
}

// Undoer reverts applied batches.
type Undoer struct {
	root    string
	fsys    fs.FileSystem
	backups *fs.BackupStore
}

// NewUndoer creates an Undoer for files under root.
func NewUndoer(root string, fsys fs.FileSystem, backups *fs.BackupStore) *Undoer {
	if fsys == nil {
		fsys = fs.OS{}
	}
	return &Undoer{root: root, fsys: fsys, backups: backups}
}

// UndoLastBatch removes the most recent batch from log and reverts its
// entries in reverse apply order. Failures are collected per file and the
// remaining entries are still attempted.
func (u *Undoer) UndoLastBatch(log *Log) (UndoResult, error) {
	entries := log.TakeLastBatch()
	if len(entries) == 0 {
		return UndoResult{}, ErrNothingToUndo
	}

	result := UndoResult{BatchID: entries[0].BatchID}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if u.drifted(e) {
			result.Drifted = append(result.Drifted, e.File)
			logging.Warn("file changed since it was applied, restoring anyway", "file", e.File, "batch", e.BatchID)
		}
		if err := u.revert(e); err != nil {
			logging.Error("undo failed", "file", e.File, "action", e.Action, "error", err)
			result.Failed = append(result.Failed, &UndoError{File: e.File, Err: err})
			continue
		}
		logging.Debug("reverted", "file", e.File, "action", e.Action, "batch", e.BatchID)
		result.Reverted = append(result.Reverted, e)
	}
	return result, nil
}

func (u *Undoer) revert(e model.HistoryEntry) error {
	target := u.abs(e.File)

	switch e.Action {
	case model.ActionCreate:
		if err := u.fsys.Remove(target); err != nil && !os.IsNotExist(err) {
			return err
		}
		// Only directories the apply created are pruned.
		if e.CreatedDir != "" {
			fs.PruneEmptyParents(u.fsys, filepath.Dir(target), filepath.Dir(u.abs(e.CreatedDir)))
		}
		return nil

	case model.ActionModify:
		if e.BackupRef == "" {
			return errors.New("no backup recorded")
		}
		data, err := u.backups.Read(e.BackupRef)
		if err != nil {
			return err
		}
		if err := u.fsys.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := u.fsys.WriteFile(target, data, 0644); err != nil {
			return err
		}
		if err := u.backups.Remove(e.BackupRef); err != nil {
			logging.Warn("could not remove backup after restore", "backup", e.BackupRef, "error", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown action %q", e.Action)
	}
}

func (u *Undoer) drifted(e model.HistoryEntry) bool {
	if e.ContentHash == "" {
		return false
	}
	data, err := u.fsys.ReadFile(u.abs(e.File))
	if err != nil {
		return !os.IsNotExist(err) || e.Action == model.ActionModify
	}
	return fs.SHA256(data) != e.ContentHash
}

func (u *Undoer) abs(file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(u.root, filepath.FromSlash(file))
}
