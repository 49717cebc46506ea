package diff

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const devNull = "/dev/null"

// Unified renders a unified diff of path from old to new. A nil old means
// the file is being created.
func Unified(path string, old *string, new string) (string, error) {
	d := difflib.UnifiedDiff{
		B:        splitLines(new),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	}
	if old == nil {
		d.FromFile = devNull
	} else {
		d.A = splitLines(*old)
	}
	return difflib.GetUnifiedDiffString(d)
}

// splitLines splits s after each newline. A final line without a newline
// gets one so it does not run into the next diff line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n"
	}
	return lines
}

// Stat counts added and removed lines in a unified diff.
func Stat(unified string) (added, removed int) {
	for _, line := range strings.Split(unified, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}
