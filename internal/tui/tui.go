package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/sokinpui/revise/internal/ui"
	"github.com/sokinpui/revise/model"
)

// --- Styles ---
var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))
	pathStyle    = lipgloss.NewStyle()
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

// --- Messages ---
type labelMsg string

type doneMsg[T any] struct {
	value T
	err   error
}

// Progress reports pipeline progress to a running spinner, or to a plain
// progress bar when no spinner is running.
type Progress struct {
	mu      sync.Mutex
	program *tea.Program
	stage   string
	bar     *ui.ProgressBar
}

// SetProgram attaches the program progress is sent to.
func (p *Progress) SetProgram(program *tea.Program) {
	p.program = program
}

// Report matches revise.ProgressUpdate.
func (p *Progress) Report(stage string, current, total int, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.program != nil {
		p.program.Send(labelMsg(progressLabel(stage, current, total, file)))
		return
	}

	if total == 0 {
		return
	}
	if stage != p.stage || p.bar == nil {
		if p.bar != nil {
			p.bar.Finish()
		}
		p.stage = stage
		p.bar = ui.NewProgressBar(total, stage)
		p.bar.Start()
	}
	p.bar.Set(current)
}

// Done finishes any plain progress bar.
func (p *Progress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
		p.stage = ""
	}
}

// Pause hands the terminal to fn, for prompts shown while work runs.
func (p *Progress) Pause(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.program == nil {
		if p.bar != nil {
			fmt.Fprintln(os.Stderr)
		}
		fn()
		return
	}
	if err := p.program.ReleaseTerminal(); err != nil {
		fn()
		return
	}
	fn()
	_ = p.program.RestoreTerminal()
}

func progressLabel(stage string, current, total int, file string) string {
	var b strings.Builder
	b.WriteString(stage)
	if total > 0 {
		fmt.Fprintf(&b, " %d/%d", current, total)
	}
	if file != "" {
		b.WriteString(" ")
		b.WriteString(file)
	}
	b.WriteString("...")
	return b.String()
}

// --- Model ---
type Model[T any] struct {
	spinner spinner.Model
	label   string
	work    func() (T, error)
	cancel  context.CancelFunc
	done    bool
	result  T
	err     error
}

func newModel[T any](label string, work func() (T, error), cancel context.CancelFunc) Model[T] {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model[T]{
		spinner: s,
		label:   label,
		work:    work,
		cancel:  cancel,
	}
}

func (m Model[T]) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.runWork)
}

func (m Model[T]) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			// Work stops at its next context check; wait for it.
			m.label = "canceling..."
			m.cancel()
		}
		return m, nil

	case labelMsg:
		m.label = string(msg)
		return m, nil

	case doneMsg[T]:
		m.done = true
		m.result = msg.value
		m.err = msg.err
		return m, tea.Quit

	default:
		var cmd tea.Cmd
		if !m.done {
			m.spinner, cmd = m.spinner.Update(msg)
		}
		return m, cmd
	}
}

func (m Model[T]) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("%s %s", m.spinner.View(), m.label)
}

func (m Model[T]) runWork() tea.Msg {
	value, err := m.work()
	return doneMsg[T]{value: value, err: err}
}

// Run shows a spinner on stderr while work runs. Work receives a context
// that is canceled when the user presses ctrl+c or q, and a Progress to
// report through.
func Run[T any](ctx context.Context, label string, work func(ctx context.Context, p *Progress) (T, error)) (T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	progress := &Progress{}
	m := newModel(label, func() (T, error) { return work(ctx, progress) }, cancel)
	program := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInputTTY())
	progress.SetProgram(program)

	final, err := program.Run()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("error running spinner: %w", err)
	}
	fm := final.(Model[T])
	return fm.result, fm.err
}

// Interactive reports whether stderr is a terminal a spinner can draw on.
func Interactive() bool {
	return isatty.IsTerminal(os.Stderr.Fd())
}

// RunPlain runs work without a spinner.
func RunPlain[T any](ctx context.Context, work func(ctx context.Context, p *Progress) (T, error)) (T, error) {
	progress := &Progress{}
	defer progress.Done()
	return work(ctx, progress)
}

// FormatSummary renders a summary for the terminal.
func FormatSummary(summary model.Summary) string {
	var b strings.Builder

	if summary.Message != "" {
		b.WriteString(headerStyle.Render(summary.Message))
		b.WriteString("\n\n")
	}

	section := func(style lipgloss.Style, title string, files []string) {
		if len(files) == 0 {
			return
		}
		b.WriteString(style.Render(title))
		b.WriteString("\n")
		for _, f := range files {
			b.WriteString(fmt.Sprintf("  %s\n", pathStyle.Render(f)))
		}
	}
	section(successStyle, "Created:", summary.Created)
	section(successStyle, "Modified:", summary.Modified)
	section(successStyle, "Deleted:", summary.Deleted)
	section(successStyle, "Restored:", summary.Restored)
	section(warningStyle, "Applied with safety warnings:", summary.Flagged)
	section(errorStyle, "Failed:", summary.Failed)

	if len(summary.Skipped) > 0 {
		b.WriteString(warningStyle.Render("Skipped:"))
		b.WriteString("\n")
		for _, s := range summary.Skipped {
			b.WriteString(fmt.Sprintf("  %s %s\n", pathStyle.Render(s.File), faintStyle.Render("("+s.Reason+")")))
		}
	}

	if summary.Empty() && summary.Message == "" {
		b.WriteString(faintStyle.Render("Nothing to do."))
		b.WriteString("\n")
	}
	return b.String()
}
