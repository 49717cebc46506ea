package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// ToolDir is the tool-private directory under the project root.
	ToolDir    = ".revise"
	BackupsDir = "backups"
	backupExt  = ".bak"
)

// BackupStore keeps byte-exact copies of files about to be overwritten.
type BackupStore struct {
	dir  string
	fsys FileSystem
}

// NewBackupStore creates a store that keeps its files in dir.
func NewBackupStore(dir string, fsys FileSystem) *BackupStore {
	if fsys == nil {
		fsys = OS{}
	}
	return &BackupStore{dir: dir, fsys: fsys}
}

// DefaultBackupDir returns <root>/.revise/backups.
func DefaultBackupDir(root string) string {
	return filepath.Join(root, ToolDir, BackupsDir)
}

// Dir returns the directory backups are written to.
func (s *BackupStore) Dir() string {
	return s.dir
}

// BackupName flattens a relative path and appends the timestamp, so that
// backups of different files and of repeated runs never collide.
func BackupName(relPath string, ts time.Time) string {
	flat := strings.NewReplacer("/", "_", `\`, "_").Replace(filepath.ToSlash(relPath))
	return flat + "." + strconv.FormatInt(ts.UnixNano(), 10) + backupExt
}

// Save copies data into a new backup for relPath. It returns the backup
// reference and the timestamp actually used, which is bumped past any
// existing backup with the same name.
func (s *BackupStore) Save(relPath string, ts time.Time, data []byte) (string, time.Time, error) {
	if err := s.fsys.MkdirAll(s.dir, 0755); err != nil {
		return "", ts, fmt.Errorf("could not create backup directory: %w", err)
	}

	name := BackupName(relPath, ts)
	for Exists(s.fsys, filepath.Join(s.dir, name)) {
		ts = ts.Add(time.Nanosecond)
		name = BackupName(relPath, ts)
	}

	ref := filepath.Join(s.dir, name)
	if err := s.fsys.WriteFile(ref, data, 0644); err != nil {
		return "", ts, fmt.Errorf("could not write backup %s: %w", name, err)
	}
	return ref, ts, nil
}

// Read returns the content stored under ref.
func (s *BackupStore) Read(ref string) ([]byte, error) {
	data, err := s.fsys.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("could not read backup %s: %w", filepath.Base(ref), err)
	}
	return data, nil
}

// Remove deletes the backup stored under ref.
func (s *BackupStore) Remove(ref string) error {
	if err := s.fsys.Remove(ref); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Cleanup removes every backup in the store and the store directory itself
// if it ends up empty.
func (s *BackupStore) Cleanup() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var firstErr error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), backupExt) {
			continue
		}
		if err := s.fsys.Remove(filepath.Join(s.dir, e.Name())); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if empty, _ := IsEmptyDir(s.dir); empty {
		_ = s.fsys.Remove(s.dir)
	}
	return firstErr
}
