package oracle

import (
	"fmt"
	"strings"

	"github.com/sokinpui/revise/internal/project"
	"github.com/sokinpui/revise/model"
)

const planSystemPrompt = `You plan file edits for a software project.
Reply with a JSON array inside a single fenced code block. Each element is an
object with the keys "file" (path relative to the project root), "action"
("create" or "modify") and "explanation" (one sentence describing the edit).
List every file that must change, each file once. Do not include file content.`

const synthSystemPrompt = `You write the complete content of one file.
Reply with the full file body and nothing else: no commentary, no summary.
If you use a fenced code block, use exactly one.`

const scanSystemPrompt = `You review file content for obviously unsafe code:
destructive shell commands, credential exfiltration, remote code download and
execution, disabled security checks, or hard-coded secrets.
Reply with the single word SAFE, or with one line describing the risk.`

const patchSystemPrompt = `You fix unsafe code.
Rewrite the content so the unsafe behaviour is removed while the rest stays
unchanged. Reply with the full corrected content and nothing else.`

// maxListedFiles bounds the file listing sent with a plan request.
const maxListedFiles = 200

func planPrompt(task string, pc project.Context) string {
	var b strings.Builder
	if pc.Type != "" {
		fmt.Fprintf(&b, "Project type: %s\n\n", pc.Type)
	}
	if len(pc.Candidates) > 0 {
		b.WriteString("Most relevant files:\n")
		for _, f := range pc.Candidates {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}
	if len(pc.Files) > 0 {
		b.WriteString("Project files:\n")
		for i, f := range pc.Files {
			if i == maxListedFiles {
				fmt.Fprintf(&b, "... and %d more\n", len(pc.Files)-maxListedFiles)
				break
			}
			fmt.Fprintf(&b, "%s\n", f)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Task:\n%s\n", task)
	return b.String()
}

func synthPrompt(op model.Operation, current *string, task string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", op.File)
	fmt.Fprintf(&b, "Change: %s\n", op.Explanation)
	fmt.Fprintf(&b, "Overall task: %s\n\n", task)
	if current == nil {
		b.WriteString("The file does not exist yet. Write its complete content.\n")
	} else {
		b.WriteString("Current content:\n")
		b.WriteString(*current)
		if !strings.HasSuffix(*current, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("\nWrite the complete new content of the file.\n")
	}
	return b.String()
}
