package applier

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sokinpui/revise/internal/fs"
	"github.com/sokinpui/revise/internal/pathsafe"
	"github.com/sokinpui/revise/internal/state"
	"github.com/sokinpui/revise/model"
)

// faultFS fails writes to any path whose base name is listed.
type faultFS struct {
	fs.OS
	failWrites map[string]bool
}

func (f faultFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	if f.failWrites[filepath.Base(name)] {
		return errors.New("disk full")
	}
	return f.OS.WriteFile(name, data, perm)
}

func newApplier(t *testing.T, opts ...Option) (*Applier, string, *state.Log, *fs.BackupStore) {
	t.Helper()
	root := t.TempDir()
	v, err := pathsafe.New(root, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	log := state.NewLog()
	backups := fs.NewBackupStore(fs.DefaultBackupDir(root), nil)
	return New(v, backups, log, opts...), root, log, backups
}

func change(file string, action model.Action, content string) model.Change {
	return model.Change{
		Operation: model.Operation{File: file, Action: action},
		Content:   content,
		Verdict:   model.Verdict{Safe: true},
	}
}

func TestApplyCreate(t *testing.T) {
	a, root, log, _ := newApplier(t)

	entries, errs := a.Apply("b1", []model.Change{change("utils/trim.txt", model.ActionCreate, "trim me\n")}, nil)
	if len(errs) != 0 {
		t.Fatalf("Apply returned errors: %v", errs)
	}
	if len(entries) != 1 || log.Len() != 1 {
		t.Fatalf("Expected 1 entry, got %d (log %d)", len(entries), log.Len())
	}

	e := entries[0]
	if e.File != "utils/trim.txt" || e.Action != model.ActionCreate || e.BackupRef != "" || e.BatchID != "b1" {
		t.Errorf("Unexpected entry: %+v", e)
	}
	if e.ContentHash != fs.SHA256([]byte("trim me\n")) {
		t.Errorf("ContentHash does not match written content")
	}
	got, err := os.ReadFile(filepath.Join(root, "utils", "trim.txt"))
	if err != nil {
		t.Fatalf("Failed to read created file: %v", err)
	}
	if string(got) != "trim me\n" {
		t.Errorf("File content = %q", got)
	}
}

func TestApplyModifyTakesBackupFirst(t *testing.T) {
	a, root, _, backups := newApplier(t)
	path := filepath.Join(root, "main.go")
	if err := os.WriteFile(path, []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}

	entries, errs := a.Apply("b1", []model.Change{change("main.go", model.ActionModify, "package main\n\nfunc main() {}\n")}, nil)
	if len(errs) != 0 {
		t.Fatalf("Apply returned errors: %v", errs)
	}
	ref := entries[0].BackupRef
	if ref == "" {
		t.Fatal("Modify entry has no backup")
	}
	if !strings.HasPrefix(filepath.Base(ref), "main.go.") || !strings.HasSuffix(ref, ".bak") {
		t.Errorf("Unexpected backup name %s", filepath.Base(ref))
	}
	prior, err := backups.Read(ref)
	if err != nil {
		t.Fatal(err)
	}
	if string(prior) != "package main\n" {
		t.Errorf("Backup holds %q, want the prior content", prior)
	}
}

func TestApplyCreateOverExistingFileIsRecordedAsModify(t *testing.T) {
	a, root, _, _ := newApplier(t)
	if err := os.WriteFile(filepath.Join(root, "notes.md"), []byte("keep"), 0644); err != nil {
		t.Fatal(err)
	}

	entries, errs := a.Apply("b1", []model.Change{change("notes.md", model.ActionCreate, "new")}, nil)
	if len(errs) != 0 {
		t.Fatalf("Apply returned errors: %v", errs)
	}
	if entries[0].Action != model.ActionModify || entries[0].BackupRef == "" {
		t.Errorf("Entry should be a modify with a backup, got %+v", entries[0])
	}
}

func TestApplyContinuesPastFailures(t *testing.T) {
	a, root, log, backups := newApplier(t, WithFileSystem(faultFS{failWrites: map[string]bool{"b.txt": true}}))
	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("B0"), 0644); err != nil {
		t.Fatal(err)
	}

	changes := []model.Change{
		change("a.txt", model.ActionCreate, "A"),
		change("b.txt", model.ActionModify, "B1"),
		change("c.txt", model.ActionCreate, "C"),
	}
	var progress []int
	entries, errs := a.Apply("b1", changes, func(n int) { progress = append(progress, n) })

	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %d: %v", len(errs), errs)
	}
	var applyErr *ApplyError
	if !errors.As(errs[0], &applyErr) || applyErr.File != "b.txt" || applyErr.Op != "write" {
		t.Fatalf("Unexpected error: %v", errs[0])
	}
	if len(entries) != 2 || log.Len() != 2 {
		t.Fatalf("Expected 2 entries, got %d (log %d)", len(entries), log.Len())
	}
	if entries[0].File != "a.txt" || entries[1].File != "c.txt" {
		t.Errorf("Unexpected entry order: %s, %s", entries[0].File, entries[1].File)
	}
	if len(progress) != 3 || progress[2] != 3 {
		t.Errorf("Progress callback saw %v", progress)
	}

	got, _ := os.ReadFile(filepath.Join(root, "b.txt"))
	if string(got) != "B0" {
		t.Errorf("b.txt = %q, want it untouched", got)
	}
	left, err := os.ReadDir(backups.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("Backup for the failed write should be removed, found %d", len(left))
	}
}

func TestApplyRevalidatesPaths(t *testing.T) {
	a, root, log, _ := newApplier(t)

	for _, file := range []string{"../escape.txt", ".git/config", ".revise/backups/x.bak"} {
		entries, errs := a.Apply("b1", []model.Change{change(file, model.ActionCreate, "x")}, nil)
		if len(entries) != 0 || len(errs) != 1 {
			t.Fatalf("%s: expected a single validation error", file)
		}
		var unsafe *pathsafe.UnsafePathError
		if !errors.As(errs[0], &unsafe) {
			t.Errorf("%s: error %v does not wrap UnsafePathError", file, errs[0])
		}
	}
	if log.Len() != 0 {
		t.Errorf("Rejected paths must not reach the log")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "escape.txt")); !os.IsNotExist(err) {
		t.Errorf("File outside the root was written")
	}
}

func TestApplyRejectsSymlinkOutOfRoot(t *testing.T) {
	a, root, log, _ := newApplier(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	entries, errs := a.Apply("b1", []model.Change{change("link/evil.sh", model.ActionCreate, "rm -rf ~\n")}, nil)
	if len(entries) != 0 || len(errs) != 1 {
		t.Fatalf("expected a single validation error, got entries=%v errs=%v", entries, errs)
	}
	var applyErr *ApplyError
	if !errors.As(errs[0], &applyErr) || applyErr.Op != "validate" {
		t.Errorf("error %v is not a validate ApplyError", errs[0])
	}
	if _, err := os.Stat(filepath.Join(outside, "evil.sh")); !os.IsNotExist(err) {
		t.Error("file written through the symlink")
	}
	if log.Len() != 0 {
		t.Error("rejected path reached the log")
	}
}

func TestApplyThenUndoRoundTrip(t *testing.T) {
	a, root, log, backups := newApplier(t)
	if err := os.WriteFile(filepath.Join(root, "keep.txt"), []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	_, errs := a.Apply("b1", []model.Change{
		change("keep.txt", model.ActionModify, "v2"),
		change("deep/dir/new.txt", model.ActionCreate, "fresh"),
	}, nil)
	if len(errs) != 0 {
		t.Fatalf("Apply returned errors: %v", errs)
	}

	undoer := state.NewUndoer(root, nil, backups)
	result, err := undoer.UndoLastBatch(log)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Failed) != 0 || len(result.Drifted) != 0 {
		t.Fatalf("Unexpected undo result: %+v", result)
	}
	got, _ := os.ReadFile(filepath.Join(root, "keep.txt"))
	if string(got) != "v1" {
		t.Errorf("keep.txt = %q, want v1", got)
	}
	if _, err := os.Stat(filepath.Join(root, "deep")); !os.IsNotExist(err) {
		t.Errorf("Created directories should be pruned on undo")
	}
}
