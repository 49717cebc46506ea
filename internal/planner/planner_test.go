package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/sokinpui/revise/internal/project"
	"github.com/sokinpui/revise/model"
)

type stubPlanOracle struct {
	reply string
	err   error
	task  string
}

func (s *stubPlanOracle) ProducePlan(ctx context.Context, task string, pc project.Context) (string, error) {
	s.task = task
	return s.reply, s.err
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		files []string
	}{
		{
			name:  "fenced array with prose",
			raw:   "Plan follows.\n\n```json\n[{\"file\":\"utils/trim.txt\",\"action\":\"create\",\"explanation\":\"list trim helpers\"}]\n```\nDone.",
			files: []string{"utils/trim.txt"},
		},
		{
			name:  "bare array inside prose",
			raw:   "Sure! [{\"file\":\"a.go\",\"action\":\"modify\"},{\"file\":\"b.go\",\"action\":\"create\"}] hope this helps",
			files: []string{"a.go", "b.go"},
		},
		{
			name:  "object with operations",
			raw:   "```\n{\"operations\":[{\"file\":\"a.go\",\"action\":\"Modify\"}]}\n```",
			files: []string{"a.go"},
		},
		{
			name:  "non json fence is skipped",
			raw:   "```go\nfunc x() {}\n```\n\n```json\n[{\"file\":\"x.go\",\"action\":\"create\"}]\n```",
			files: []string{"x.go"},
		},
		{
			name:  "duplicates collapse to first",
			raw:   "[{\"file\":\"a.go\",\"action\":\"modify\",\"explanation\":\"one\"},{\"file\":\"./a.go\",\"action\":\"create\"}]",
			files: []string{"a.go"},
		},
		{
			name:  "empty plan",
			raw:   "```json\n[]\n```",
			files: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if len(ops) != len(tt.files) {
				t.Fatalf("got %d operations, want %d", len(ops), len(tt.files))
			}
			for i, f := range tt.files {
				if ops[i].File != f {
					t.Errorf("ops[%d].File = %q, want %q", i, ops[i].File, f)
				}
				if !ops[i].Action.Valid() {
					t.Errorf("ops[%d].Action = %q", i, ops[i].Action)
				}
			}
		})
	}

	t.Run("explanation and action are kept", func(t *testing.T) {
		ops, err := Parse("[{\"file\":\"a.go\",\"action\":\"MODIFY\",\"explanation\":\" add flag \"}]")
		if err != nil {
			t.Fatal(err)
		}
		if ops[0].Action != model.ActionModify || ops[0].Explanation != "add flag" {
			t.Errorf("unexpected operation: %+v", ops[0])
		}
	})
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no payload", "I cannot help with that."},
		{"broken json", "[{\"file\": \"a.go\", \"action\": ]"},
		{"unknown action", "[{\"file\":\"a.go\",\"action\":\"delete\"}]"},
		{"empty file", "[{\"file\":\"  \",\"action\":\"create\"}]"},
		{"object without operations", "```json\n{\"files\": {}}\n```"},
		{"empty reply", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := Parse(tt.raw)
			var parseErr *PlanParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("err = %v, want PlanParseError", err)
			}
			if parseErr.Raw != tt.raw {
				t.Errorf("Raw not preserved")
			}
			if ops != nil {
				t.Errorf("partial plan returned: %+v", ops)
			}
		})
	}
}

func TestGenerate(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		stub := &stubPlanOracle{reply: "[{\"file\":\"a.go\",\"action\":\"create\"}]"}
		ops, err := New(stub, nil).Generate(context.Background(), "make a", project.Context{})
		if err != nil {
			t.Fatal(err)
		}
		if len(ops) != 1 || stub.task != "make a" {
			t.Errorf("unexpected result %+v (task %q)", ops, stub.task)
		}
	})

	t.Run("oracle failure is not a parse error", func(t *testing.T) {
		cause := errors.New("offline")
		_, err := New(&stubPlanOracle{err: cause}, nil).Generate(context.Background(), "t", project.Context{})
		var parseErr *PlanParseError
		if errors.As(err, &parseErr) || !errors.Is(err, cause) {
			t.Errorf("err = %v", err)
		}
	})
}
