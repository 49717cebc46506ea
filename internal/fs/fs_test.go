package fs

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBackupName(t *testing.T) {
	ts := time.Unix(0, 1700000000123456789)
	got := BackupName("src/app/main.go", ts)
	want := "src_app_main.go.1700000000123456789.bak"
	if got != want {
		t.Errorf("BackupName() = %q, want %q", got, want)
	}
}

func TestBackupStoreRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups")
	store := NewBackupStore(dir, nil)
	ts := time.Unix(0, 42)
	data := []byte("line one\r\nline two\x00\n")

	ref, _, err := store.Save("a/b.txt", ts, data)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Read(ref)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("backup content = %q, want %q", got, data)
	}

	t.Run("colliding timestamp gets a new name", func(t *testing.T) {
		ref2, ts2, err := store.Save("a/b.txt", ts, []byte("other"))
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if ref2 == ref {
			t.Fatal("expected a distinct backup reference")
		}
		if !ts2.After(ts) {
			t.Errorf("expected bumped timestamp, got %v", ts2)
		}
	})

	if err := store.Remove(ref); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(ref); !os.IsNotExist(err) {
		t.Errorf("backup still exists after Remove")
	}
	if err := store.Remove(ref); err != nil {
		t.Errorf("removing a missing backup should not fail: %v", err)
	}

	if err := store.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("backup directory should be removed once empty")
	}
}

func TestPruneEmptyParents(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(deep, 0755); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(root, "a", "keep.txt")
	if err := os.WriteFile(keep, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	PruneEmptyParents(OS{}, deep, root)

	if _, err := os.Stat(filepath.Join(root, "a", "b")); !os.IsNotExist(err) {
		t.Errorf("expected a/b to be pruned")
	}
	if _, err := os.Stat(filepath.Join(root, "a")); err != nil {
		t.Errorf("a should survive because it is not empty: %v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root must never be removed: %v", err)
	}
}

func TestTopMissingDir(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "a"), 0755); err != nil {
		t.Fatal(err)
	}

	if got := TopMissingDir(OS{}, filepath.Join(root, "a", "b", "c"), root); got != filepath.Join(root, "a", "b") {
		t.Errorf("TopMissingDir(a/b/c) = %q, want a/b", got)
	}
	if got := TopMissingDir(OS{}, filepath.Join(root, "a"), root); got != "" {
		t.Errorf("TopMissingDir(existing) = %q, want empty", got)
	}
	if got := TopMissingDir(OS{}, filepath.Join(root, "x"), root); got != filepath.Join(root, "x") {
		t.Errorf("TopMissingDir(x) = %q, want x", got)
	}
}
