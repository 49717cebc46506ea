package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/sokinpui/revise/model"
)

var (
	HeaderColor  = color.New(color.FgBlue, color.Bold)
	InfoColor    = color.New(color.FgCyan)
	SuccessColor = color.New(color.FgGreen)
	WarningColor = color.New(color.FgYellow)
	ErrorColor   = color.New(color.FgRed)
	PromptColor  = color.New(color.FgMagenta)
	AddedColor   = color.New(color.FgGreen)
	RemovedColor = color.New(color.FgRed)
	HunkColor    = color.New(color.FgCyan)
)

func Header(format string, a ...interface{}) {
	HeaderColor.Fprintf(os.Stderr, format+"\n", a...)
}

func Info(format string, a ...interface{}) {
	InfoColor.Fprintf(os.Stderr, format+"\n", a...)
}

func Success(format string, a ...interface{}) {
	SuccessColor.Fprintf(os.Stderr, format+"\n", a...)
}

func Warning(format string, a ...interface{}) {
	WarningColor.Fprintf(os.Stderr, format+"\n", a...)
}

func Error(format string, a ...interface{}) {
	ErrorColor.Fprintf(os.Stderr, format+"\n", a...)
}

func Prompt(format string, a ...interface{}) string {
	return PromptColor.Sprintf(format, a...)
}

// AskYesNo prints question and reads one answer line from r. An empty
// answer or a read error returns def.
func AskYesNo(r *bufio.Reader, question string, def bool) bool {
	return askYesNo(os.Stderr, r, question, def)
}

func askYesNo(w io.Writer, r *bufio.Reader, question string, def bool) bool {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	fmt.Fprintf(w, "%s %s ", PromptColor.Sprint(question), hint)

	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(w)
		return def
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return def
	}
}

// PrintDiff writes a unified diff to w with added and removed lines colored.
func PrintDiff(w io.Writer, unified string) {
	for _, line := range strings.SplitAfter(unified, "\n") {
		switch {
		case line == "":
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			HeaderColor.Fprint(w, line)
		case strings.HasPrefix(line, "@@"):
			HunkColor.Fprint(w, line)
		case strings.HasPrefix(line, "+"):
			AddedColor.Fprint(w, line)
		case strings.HasPrefix(line, "-"):
			RemovedColor.Fprint(w, line)
		default:
			fmt.Fprint(w, line)
		}
	}
}

// --- Summaries ---

func printList(print func(string, ...interface{}), title string, files []string) {
	if len(files) == 0 {
		return
	}
	print("%s %d file(s):", title, len(files))
	for _, f := range files {
		fmt.Fprintf(os.Stderr, "  - %s\n", f)
	}
}

func PrintSkipped(skipped []model.Skip) {
	if len(skipped) == 0 {
		return
	}
	Warning("Skipped %d operation(s):", len(skipped))
	for _, s := range skipped {
		if s.Err != nil {
			fmt.Fprintf(os.Stderr, "  - %s: %s (%v)\n", s.File, s.Reason, s.Err)
		} else {
			fmt.Fprintf(os.Stderr, "  - %s: %s\n", s.File, s.Reason)
		}
	}
}

func PrintUpdateSummary(summary model.Summary) {
	Header("\n--- Update Summary ---")
	if summary.Message != "" {
		Info("%s", summary.Message)
	}
	if summary.Empty() {
		Info("No files were updated.")
		return
	}
	printList(Success, "Created", summary.Created)
	printList(Success, "Modified", summary.Modified)
	printList(Warning, "Applied despite a safety warning for", summary.Flagged)
	printList(Error, "Failed to write", summary.Failed)
	PrintSkipped(summary.Skipped)
}

func PrintRevertSummary(summary model.Summary, drifted []string) {
	Header("\n--- Revert Summary ---")
	if summary.Message != "" {
		Info("%s", summary.Message)
	}
	printList(Success, "Deleted", summary.Deleted)
	printList(Success, "Restored", summary.Restored)
	printList(Warning, "Changed since apply, restored anyway", drifted)
	printList(Error, "Failed to revert", summary.Failed)
}

func PrintHistory(batches [][]model.HistoryEntry) {
	Header("\n--- History ---")
	if len(batches) == 0 {
		Info("Nothing has been applied in this session.")
		return
	}
	for i := len(batches) - 1; i >= 0; i-- {
		batch := batches[i]
		first := batch[0]
		Info("%s  %s  %d file(s)", first.BatchID, first.Timestamp.Format("15:04:05"), len(batch))
		for _, e := range batch {
			line := fmt.Sprintf("%-6s %s", e.Action, e.File)
			if e.Risk != "" {
				line += WarningColor.Sprintf("  [risk: %s]", e.Risk)
			}
			fmt.Fprintf(os.Stderr, "  %s\n", line)
		}
	}
}

// --- Progress Bar ---

type ProgressBar struct {
	total   int
	prefix  string
	current int
}

func NewProgressBar(total int, prefix string) *ProgressBar {
	return &ProgressBar{total: total, prefix: prefix}
}

func (p *ProgressBar) Start() {
	p.draw()
}

func (p *ProgressBar) Set(current int) {
	p.current = current
	p.draw()
}

func (p *ProgressBar) Finish() {
	fmt.Fprintln(os.Stderr)
}

func (p *ProgressBar) draw() {
	if p.total == 0 {
		return
	}
	const barLength = 40
	percent := float64(p.current) / float64(p.total)
	if percent > 1 {
		percent = 1
	}
	filledLength := int(percent * barLength)
	bar := strings.Repeat("█", filledLength) + strings.Repeat("-", barLength-filledLength)

	countStr := fmt.Sprintf("[%d/%d]", p.current, p.total)
	fmt.Fprintf(os.Stderr, "\r%s |%s| %s %.1f%%", p.prefix, bar, countStr, percent*100)
}
