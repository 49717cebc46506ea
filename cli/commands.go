package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sokinpui/revise/internal/server"
	"github.com/sokinpui/revise/internal/source"
	"github.com/sokinpui/revise/internal/state"
	"github.com/sokinpui/revise/internal/tui"
	"github.com/sokinpui/revise/internal/ui"
	"github.com/sokinpui/revise/model"
	"github.com/sokinpui/revise/revise"
)

const shutdownTimeout = 10 * time.Second

// NewRootCommand builds the revise command tree.
func NewRootCommand() *cobra.Command {
	flags := &Config{}

	root := &cobra.Command{
		Use:   "revise [task...]",
		Short: "Plan, preview, and apply model-written changes to a project",
		Long: `revise asks a model to plan a change to your project, writes the content
for every affected file, screens it for unsafe code, and shows the result
as a diff. Nothing is written until you confirm.

The task is read from the arguments, else from stdin when it is piped,
else from the clipboard.

Example: revise "add a health check endpoint"`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, flags, args)
		},
	}
	flags.BindFlags(root.PersistentFlags())

	root.AddCommand(newSessionCommand(flags))
	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newCompletionCommand())
	return root
}

func runOnce(cmd *cobra.Command, flags *Config, args []string) error {
	task, origin, err := source.New().Task(args)
	if err != nil {
		return err
	}
	logTaskOrigin(origin)

	ctx := cmd.Context()
	app, err := NewApp(ctx, flags, cmd.Flags())
	if err != nil {
		return err
	}
	defer closeApp(app)

	in, closeIn, err := answerReader(flags.Yes)
	if err != nil {
		return err
	}
	defer closeIn()

	prompter := NewPrompter(in, os.Stdout, flags, app.Config.Safety.AutoPatch)
	summary, err := request(ctx, app.Session, task, prompter, flags.NoAnimation)
	if err != nil {
		return err
	}
	printSummary(summary, flags.NoAnimation)
	return nil
}

// request runs one task: propose under a spinner, confirm on the terminal,
// then apply.
func request(ctx context.Context, s *revise.Session, task string, prompter *Prompter, noAnimation bool) (model.Summary, error) {
	prop, err := withProgress(ctx, s, "planning...", noAnimation, func(ctx context.Context, p *tui.Progress) (*revise.Proposal, error) {
		prompter.SetPause(p.Pause)
		defer prompter.SetPause(nil)
		return s.Propose(ctx, task, prompter.OfferPatch)
	})
	if err != nil {
		return model.Summary{}, err
	}

	if len(prop.Changes) == 0 {
		_ = s.Discard(prop.ID)
		return model.Summary{Skipped: prop.Skipped, Message: revise.NoChangesMessage}, nil
	}
	if !prompter.Confirm(prop) {
		_ = s.Discard(prop.ID)
		return model.Summary{Skipped: prop.Skipped, Message: revise.DiscardedMessage}, nil
	}

	return withProgress(ctx, s, "applying...", noAnimation, func(context.Context, *tui.Progress) (model.Summary, error) {
		return s.Apply(prop.ID)
	})
}

func withProgress[T any](ctx context.Context, s *revise.Session, label string, noAnimation bool, work func(context.Context, *tui.Progress) (T, error)) (T, error) {
	wrapped := func(ctx context.Context, p *tui.Progress) (T, error) {
		s.SetProgressCallback(p.Report)
		defer s.SetProgressCallback(nil)
		return work(ctx, p)
	}
	if noAnimation || !tui.Interactive() {
		return tui.RunPlain(ctx, wrapped)
	}
	return tui.Run(ctx, label, wrapped)
}

func printSummary(summary model.Summary, noAnimation bool) {
	if noAnimation {
		ui.PrintUpdateSummary(summary)
		return
	}
	fmt.Fprint(os.Stderr, "\n"+tui.FormatSummary(summary))
}

// --- session ---

func newSessionCommand(flags *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Run tasks interactively and undo them batch by batch",
		Long: `session keeps one history for as long as it runs. Each line is a task.

Commands:
  :undo      revert the most recent batch
  :history   list applied batches
  :quit      leave the session`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := NewApp(ctx, flags, cmd.Flags())
			if err != nil {
				return err
			}
			defer closeApp(app)

			in, closeIn, err := answerReader(false)
			if err != nil {
				return err
			}
			defer closeIn()

			prompter := NewPrompter(in, os.Stdout, flags, app.Config.Safety.AutoPatch)
			return runSession(ctx, app.Session, in, prompter, flags.NoAnimation)
		},
	}
}

func runSession(ctx context.Context, s *revise.Session, in *bufio.Reader, prompter *Prompter, noAnimation bool) error {
	ui.Header("revise session in %s", s.Root())
	ui.Info("Type a task, or :undo, :history, :quit.")

	for {
		fmt.Fprint(os.Stderr, ui.Prompt("> "))
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(os.Stderr)
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		switch cmd := strings.TrimSpace(line); cmd {
		case "":
		case ":quit", ":q", ":exit":
			return nil
		case ":history":
			ui.PrintHistory(s.Batches())
		case ":undo":
			undo(s)
		default:
			summary, err := request(ctx, s, cmd, prompter, noAnimation)
			if err != nil {
				ReportError(err)
				continue
			}
			printSummary(summary, noAnimation)
		}
	}
}

func undo(s *revise.Session) {
	summary, result, err := s.Undo()
	if errors.Is(err, state.ErrNothingToUndo) {
		ui.Info("Nothing to undo.")
		return
	}
	if err != nil {
		ReportError(err)
		return
	}
	ui.PrintRevertSummary(summary, result.Drifted)
}

// --- serve ---

func newServeCommand(flags *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the propose, apply, and undo operations over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := NewApp(ctx, flags, cmd.Flags())
			if err != nil {
				return err
			}
			defer closeApp(app)

			srv := &http.Server{
				Addr:              app.Config.Server.Addr,
				Handler:           server.New(app.Session, app.Registry, app.Config.Safety.AutoPatch).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				ui.Info("Listening on http://%s for %s", srv.Addr, app.Session.Root())
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().StringVar(&flags.Addr, "addr", "", "Listen address (default from server.addr).")
	return cmd
}

// --- completion ---

func newCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for revise.

Usage:
  revise completion bash > /etc/bash_completion.d/revise
  revise completion zsh > "${fpath[1]}/_revise"
  revise completion fish > ~/.config/fish/completions/revise.fish`,
		ValidArgs:             []string{"bash", "zsh", "fish"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(os.Stdout, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			}
			return nil
		},
	}
}

// --- helpers ---

// answerReader returns where prompt answers are read from: stdin when it
// is a terminal, else /dev/tty. With yes set, a missing terminal is fine.
func answerReader(yes bool) (*bufio.Reader, func(), error) {
	if !source.StdinPiped() {
		return bufio.NewReader(os.Stdin), func() {}, nil
	}
	tty, err := os.Open("/dev/tty")
	if err != nil {
		if yes {
			return bufio.NewReader(strings.NewReader("")), func() {}, nil
		}
		return nil, nil, fmt.Errorf("cannot ask for confirmation without a terminal (use --yes): %w", err)
	}
	return bufio.NewReader(tty), func() { _ = tty.Close() }, nil
}

func logTaskOrigin(origin source.Origin) {
	if origin != source.FromArgs {
		ui.Header("--- Reading task from %s ---", origin)
	}
}

func closeApp(app *App) {
	if err := app.Close(); err != nil {
		ui.Warning("%v", err)
	}
}

// ReportError prints err, with a stack trace for internal failures.
func ReportError(err error) {
	ui.Error("Error: %v", err)
	var detailed *revise.DetailedError
	if errors.As(err, &detailed) {
		fmt.Fprintf(os.Stderr, "\n--- Stack Trace ---\n%s\n", detailed.Stack)
	}
}
