package project

import (
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sokinpui/revise/internal/logging"
)

// Context is the minimal project description handed to the plan oracle.
type Context struct {
	Type       string   `json:"type,omitempty"`
	Files      []string `json:"files,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// Lookup provides project context for a task. Implementations are read-only.
type Lookup interface {
	Context(task string) (Context, error)
}

// Options configures a Scanner.
type Options struct {
	DenyDirs      []string
	IgnoreGlobs   []string
	MaxFiles      int
	MaxCandidates int
}

// Scanner implements Lookup by walking the project directory.
type Scanner struct {
	root          string
	denyDirs      map[string]struct{}
	ignoreGlobs   []string
	maxFiles      int
	maxCandidates int
}

// NewScanner creates a Scanner for root.
func NewScanner(root string, opts Options) *Scanner {
	deny := make(map[string]struct{}, len(opts.DenyDirs))
	for _, d := range opts.DenyDirs {
		deny[d] = struct{}{}
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = 500
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 10
	}
	return &Scanner{
		root:          root,
		denyDirs:      deny,
		ignoreGlobs:   opts.IgnoreGlobs,
		maxFiles:      opts.MaxFiles,
		maxCandidates: opts.MaxCandidates,
	}
}

// Context lists the project files and ranks them against task.
func (s *Scanner) Context(task string) (Context, error) {
	files, err := s.listFiles()
	if err != nil {
		return Context{}, err
	}
	return Context{
		Type:       DetectType(s.root),
		Files:      files,
		Candidates: Rank(task, files, s.maxCandidates),
	}, nil
}

var errFileCap = errors.New("file cap reached")

func (s *Scanner) listFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err
			}
			logging.Debug("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if path == s.root {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if _, denied := s.denyDirs[d.Name()]; denied {
				return filepath.SkipDir
			}
			if s.ignored(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || s.ignored(rel) {
			return nil
		}
		files = append(files, rel)
		if len(files) >= s.maxFiles {
			return errFileCap
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFileCap) {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (s *Scanner) ignored(rel string) bool {
	for _, g := range s.ignoreGlobs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

var markers = []struct {
	file  string
	label string
}{
	{"go.mod", "Go project"},
	{"package.json", "Node.js project"},
	{"pyproject.toml", "Python project"},
	{"setup.py", "Python project"},
	{"Cargo.toml", "Rust project"},
	{"pom.xml", "Java project"},
	{"build.gradle", "Java project"},
	{"Gemfile", "Ruby project"},
}

// DetectType returns a project type label from marker files in root, or
// an empty string.
func DetectType(root string) string {
	for _, m := range markers {
		if info, err := os.Stat(filepath.Join(root, m.file)); err == nil && !info.IsDir() {
			return m.label
		}
	}
	return ""
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "to": {}, "of": {},
	"in": {}, "on": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"it": {}, "is": {}, "be": {}, "add": {}, "make": {}, "new": {},
	"file": {}, "create": {}, "update": {}, "change": {}, "please": {},
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Rank orders files by how many task words appear among their path words.
// A file whose base name appears verbatim in the task ranks first. Files
// with no overlap are left out.
func Rank(task string, files []string, limit int) []string {
	taskTokens := make(map[string]struct{})
	for _, tok := range tokenize(task) {
		taskTokens[tok] = struct{}{}
	}
	lowerTask := strings.ToLower(task)

	type scored struct {
		path  string
		score int
	}
	var ranked []scored
	for _, f := range files {
		score := 0
		seen := make(map[string]struct{})
		for _, tok := range tokenize(f) {
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			if _, ok := taskTokens[tok]; ok {
				score++
			}
		}
		if strings.Contains(lowerTask, strings.ToLower(filepath.Base(f))) {
			score += 3
		}
		if score > 0 {
			ranked = append(ranked, scored{f, score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].path < ranked[j].path
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.path
	}
	return out
}
