package diff

import (
	"strings"
	"testing"
)

func TestUnifiedModify(t *testing.T) {
	old := "a\nb\nc\n"
	out, err := Unified("x.txt", &old, "a\nB\nc\nd\n")
	if err != nil {
		t.Fatalf("Unified failed: %v", err)
	}
	for _, want := range []string{"--- a/x.txt", "+++ b/x.txt", "-b\n", "+B\n", "+d\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("diff missing %q:\n%s", want, out)
		}
	}
	if added, removed := Stat(out); added != 2 || removed != 1 {
		t.Errorf("Stat = +%d -%d, want +2 -1", added, removed)
	}
}

func TestUnifiedCreate(t *testing.T) {
	out, err := Unified("utils/trim.txt", nil, "one\ntwo\n")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "--- /dev/null") || !strings.Contains(out, "+++ b/utils/trim.txt") {
		t.Errorf("unexpected headers:\n%s", out)
	}
	if added, removed := Stat(out); added != 2 || removed != 0 {
		t.Errorf("Stat = +%d -%d, want +2 -0", added, removed)
	}
	if strings.Contains(out, "\n+\n") {
		t.Errorf("diff has a blank added line:\n%s", out)
	}
}

func TestUnifiedMissingFinalNewline(t *testing.T) {
	old := "a\nb"
	out, err := Unified("x.txt", &old, "a\nc")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "-b\n+c\n") {
		t.Errorf("unexpected diff:\n%s", out)
	}
	if added, removed := Stat(out); added != 1 || removed != 1 {
		t.Errorf("Stat = +%d -%d, want +1 -1", added, removed)
	}
}

func TestUnifiedNoChange(t *testing.T) {
	same := "same\n"
	out, err := Unified("x", &same, same)
	if err != nil {
		t.Fatal(err)
	}
	if out != "" {
		t.Errorf("expected empty diff, got:\n%s", out)
	}
}
