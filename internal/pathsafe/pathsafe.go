package pathsafe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sokinpui/revise/internal/fs"
)

// DefaultDenylist holds directory names that are never written to. New
// always adds them to the configured names.
var DefaultDenylist = []string{"node_modules", ".git", fs.ToolDir}

// WithDefaults returns names with every DefaultDenylist entry added, keeping
// the order of names and dropping duplicates.
func WithDefaults(names []string) []string {
	out := make([]string, 0, len(names)+len(DefaultDenylist))
	seen := make(map[string]bool, cap(out))
	for _, n := range append(append([]string{}, names...), DefaultDenylist...) {
		n = strings.Trim(strings.TrimSpace(n), `/\`)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// UnsafePathError is returned when a candidate path fails validation.
type UnsafePathError struct {
	Path   string
	Reason string
}

func (e *UnsafePathError) Error() string {
	return fmt.Sprintf("unsafe path %q: %s", e.Path, e.Reason)
}

// Validator decides whether a candidate path may be written.
type Validator struct {
	root      string
	realRoot  string
	denyDirs  map[string]struct{}
	denyGlobs []string
}

// New creates a Validator rooted at root. Deny directory names, always
// including DefaultDenylist, are matched against every path segment; deny
// globs are doublestar patterns matched against the slash-separated path
// relative to root.
func New(root string, denyDirs, denyGlobs []string) (*Validator, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("could not resolve project root: %w", err)
	}

	names := WithDefaults(denyDirs)
	dirs := make(map[string]struct{}, len(names))
	for _, d := range names {
		dirs[d] = struct{}{}
	}
	for _, g := range denyGlobs {
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("invalid deny glob %q", g)
		}
	}

	abs = filepath.Clean(abs)
	realRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		realRoot = abs
	}

	return &Validator{
		root:      abs,
		realRoot:  realRoot,
		denyDirs:  dirs,
		denyGlobs: denyGlobs,
	}, nil
}

// Root returns the absolute project root.
func (v *Validator) Root() string {
	return v.root
}

// IsSafe reports whether candidate resolves inside the root and outside
// every protected zone.
func (v *Validator) IsSafe(candidate string) bool {
	_, err := v.Check(candidate)
	return err == nil
}

// Check resolves candidate and returns its absolute path, or an
// *UnsafePathError describing why it was rejected.
func (v *Validator) Check(candidate string) (string, error) {
	if strings.TrimSpace(candidate) == "" {
		return "", &UnsafePathError{Path: candidate, Reason: "empty path"}
	}
	if strings.ContainsRune(candidate, 0) {
		return "", &UnsafePathError{Path: candidate, Reason: "path contains NUL byte"}
	}

	abs := candidate
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(v.root, candidate)
	}
	abs = filepath.Clean(abs)

	if err := v.checkRel(candidate, v.root, abs); err != nil {
		return "", err
	}

	// Symlinks inside the root must not lead out of it or into a
	// protected zone.
	resolved, err := v.resolve(abs)
	if err != nil {
		return "", &UnsafePathError{Path: candidate, Reason: fmt.Sprintf("cannot resolve symlinks: %v", err)}
	}
	if resolved != abs {
		if err := v.checkRel(candidate, v.realRoot, resolved); err != nil {
			return "", err
		}
	}

	return abs, nil
}

func (v *Validator) checkRel(candidate, root, abs string) error {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return &UnsafePathError{Path: candidate, Reason: "cannot be made relative to project root"}
	}
	if rel == "." {
		return &UnsafePathError{Path: candidate, Reason: "resolves to the project root itself"}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return &UnsafePathError{Path: candidate, Reason: "escapes the project root"}
	}

	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		if _, denied := v.denyDirs[seg]; denied {
			return &UnsafePathError{Path: candidate, Reason: fmt.Sprintf("inside protected directory %q", seg)}
		}
	}

	slashRel := filepath.ToSlash(rel)
	for _, g := range v.denyGlobs {
		if ok, _ := doublestar.Match(g, slashRel); ok {
			return &UnsafePathError{Path: candidate, Reason: fmt.Sprintf("matches protected pattern %q", g)}
		}
	}
	return nil
}

// resolve evaluates symlinks in the deepest existing ancestor of abs, which
// lies under the root, and returns abs as seen through them. When nothing
// below the root exists yet, abs is placed under the resolved root.
func (v *Validator) resolve(abs string) (string, error) {
	existing := abs
	for existing != v.root {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		existing = filepath.Dir(existing)
	}
	if existing == v.root {
		return filepath.Join(v.realRoot, mustRel(v.root, abs)), nil
	}

	target, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(target, mustRel(existing, abs)), nil
}

func mustRel(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return rel
}

// Rel returns the slash-separated path of abs relative to the root.
func (v *Validator) Rel(abs string) string {
	rel, err := filepath.Rel(v.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}
