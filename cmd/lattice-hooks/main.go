// cmd/lattice-hooks/main.go
//
// Entry point for the hook binary. The host runs it once per lifecycle
// event with the event document on stdin and reads the decision from
// stdout. The remaining subcommands are for people: init, status, context
// and state maintenance.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/lattice-hooks/internal/config"
	"github.com/kingrea/lattice-hooks/internal/dispatch"
	"github.com/kingrea/lattice-hooks/internal/hook"
	"github.com/kingrea/lattice-hooks/internal/logging"
)

// component selects which part of the dispatcher answers an event.
type component string

const (
	componentAny      component = ""
	componentRoute    component = "route"
	componentPrepare  component = "prepare"
	componentComplete component = "complete"
	componentGate     component = "gate"
)

// exitError carries a process exit code through cobra.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	var exit exitError
	switch {
	case err == nil:
		return hook.ExitOK
	case errors.As(err, &exit):
		return exit.code
	default:
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
}

func newRootCmd() *cobra.Command {
	var project string
	root := &cobra.Command{
		Use:   "lattice-hooks",
		Short: "Subagent workflow hooks",
		Long: `lattice-hooks answers host lifecycle events for a project.

With no subcommand it reads one event from stdin, dispatches on
hook_event_name and writes the decision to stdout:

  UserPromptSubmit  suggest workers for the prompt
  PreToolUse        prepare a context snapshot for a Task launch
  SubagentStop      process the worker result and advance workflows
  Stop              check whether the session may end

Exit status is 0 for approve and warn, 2 for block and 1 when stdin is
not a JSON object.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          hookRunner(&project, componentAny),
	}
	root.PersistentFlags().StringVar(&project, "project", "", "project directory (default: event cwd, $CLAUDE_PROJECT_DIR, working directory)")

	root.AddCommand(
		hookCmd("handle", "Dispatch one event on hook_event_name", &project, componentAny),
		hookCmd("route", "Suggest workers for the prompt", &project, componentRoute),
		hookCmd("prepare", "Prepare a context snapshot for a worker launch", &project, componentPrepare),
		hookCmd("complete", "Process a worker result and advance workflows", &project, componentComplete),
		hookCmd("gate", "Check whether the session may stop", &project, componentGate),
		newInitCmd(&project),
		newStatusCmd(&project),
		newContextCmd(&project),
		newStateCmd(&project),
	)
	return root
}

func hookCmd(use, short string, project *string, which component) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE:  hookRunner(project, which),
	}
}

func hookRunner(project *string, which component) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		code := runHook(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), *project, which)
		if code != hook.ExitOK {
			return exitError{code: code}
		}
		return nil
	}
}

// runHook handles one event. Only malformed stdin fails; every other
// problem degrades to a warn response.
func runHook(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, project string, which component) (code int) {
	in, err := hook.Decode(stdin)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return hook.ExitMalformed
	}

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "lattice-hooks: recovered: %v\n", r)
			code = emit(stdout, stderr, hook.Warn(fmt.Sprintf("Hook error: %v", r)))
		}
	}()

	dir := project
	if dir == "" {
		dir = in.Cwd
	}
	dir = config.ResolveProjectDir(dir)

	var opts []dispatch.Option
	cfg, err := config.Load(dir)
	if err != nil {
		cfg = config.Default(dir)
		opts = append(opts, dispatch.WithNote(fmt.Sprintf("settings ignored: %v", err)))
	}
	logger, closeLog := logging.NewOrNop(cfg)
	defer closeLog()
	logger = logger.With(zap.String("event", in.Event), zap.String("session", in.SessionID))

	d, err := dispatch.New(ctx, cfg, append(opts, dispatch.WithLogger(logger))...)
	if err != nil {
		logger.Error("build dispatcher", zap.Error(err))
		return emit(stdout, stderr, hook.Warn(fmt.Sprintf("Hook unavailable: %v", err)))
	}
	defer d.Close()

	var resp hook.Response
	switch which {
	case componentRoute:
		resp = d.Route(in)
	case componentPrepare:
		resp = d.Prepare(ctx, in)
	case componentComplete:
		resp = d.Complete(ctx, in)
	case componentGate:
		resp = d.Gate(ctx, in)
	default:
		resp = d.Handle(ctx, in)
	}
	logger.Debug("responding", zap.String("decision", string(resp.Decision)))
	return emit(stdout, stderr, resp)
}

func emit(stdout, stderr io.Writer, resp hook.Response) int {
	if err := resp.Encode(stdout); err != nil {
		fmt.Fprintln(stderr, err)
	}
	return resp.ExitCode()
}
