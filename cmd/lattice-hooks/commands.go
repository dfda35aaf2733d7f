package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/kingrea/lattice-hooks/internal/config"
	"github.com/kingrea/lattice-hooks/internal/dispatch"
	"github.com/kingrea/lattice-hooks/internal/logging"
	"github.com/kingrea/lattice-hooks/internal/preparer"
	"github.com/kingrea/lattice-hooks/internal/tui"
)

const statusLogLines = 15

// openProject loads settings for a maintenance command. Unlike the hook
// path, broken settings are reported as an error.
func openProject(ctx context.Context, project string) (*dispatch.Dispatcher, func(), error) {
	cfg, err := config.Load(config.ResolveProjectDir(project))
	if err != nil {
		return nil, nil, err
	}
	logger, closeLog := logging.NewOrNop(cfg)
	d, err := dispatch.New(ctx, cfg, dispatch.WithLogger(logger))
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return d, func() {
		_ = d.Close()
		closeLog()
	}, nil
}

func newInitCmd(project *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the .claude layout and a default settings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Init(config.ResolveProjectDir(*project))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", cfg.HooksProjectDir)
			fmt.Fprintf(cmd.OutOrStdout(), "Settings: %s\n", cfg.SettingsPath())
			return nil
		},
	}
}

func newStatusCmd(project *string) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workflow chains, pending and completed workers and the logbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, closeAll, err := openProject(cmd.Context(), *project)
			if err != nil {
				return err
			}
			defer closeAll()

			load := func(ctx context.Context) tui.Board {
				return tui.LoadBoard(ctx, d.Engine(), d.Logbook(), statusLogLines)
			}
			if !watch {
				fmt.Fprint(cmd.OutOrStdout(), tui.Render(load(cmd.Context())))
				return nil
			}

			var opts []tui.ModelOption
			cfg := d.Config()
			watcher, err := tui.NewWatcher(cfg.HooksProjectDir, cfg.LogsDir())
			if err == nil {
				defer watcher.Close()
				opts = append(opts, tui.WithWatcher(watcher))
			}
			program := tea.NewProgram(tui.NewModel(load, opts...),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()))
			_, err = program.Run()
			return err
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep the view open and refresh on changes")
	return cmd
}

func newContextCmd(project *string) *cobra.Command {
	parent := &cobra.Command{
		Use:   "context",
		Short: "Inspect prepared context snapshots",
	}
	var raw bool
	var width int
	show := &cobra.Command{
		Use:   "show <worker>",
		Short: "Render the snapshot prepared for a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolveProjectDir(*project))
			if err != nil {
				return err
			}
			path := preparer.New(cfg.ContextDir()).SnapshotPath(args[0])
			snap, err := preparer.ReadSnapshot(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if raw {
				data, err := snap.Encode()
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}
			renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
			if err != nil {
				return err
			}
			rendered, err := renderer.Render(snapshotMarkdown(snap, path))
			if err != nil {
				return err
			}
			fmt.Fprint(out, rendered)
			return nil
		},
	}
	show.Flags().BoolVar(&raw, "raw", false, "print the stored file unchanged")
	show.Flags().IntVar(&width, "width", 100, "word wrap width")
	parent.AddCommand(show)
	return parent
}

// snapshotMarkdown lays the snapshot header out as a Markdown preamble.
func snapshotMarkdown(snap preparer.Snapshot, path string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Context for %s\n\n", snap.Worker)
	fmt.Fprintf(&b, "- **Task:** %s\n", snap.Task)
	fmt.Fprintf(&b, "- **Generated:** %s\n", snap.Generated.Format(time.RFC3339))
	if len(snap.TaskTypes) > 0 {
		fmt.Fprintf(&b, "- **Task types:** %s\n", strings.Join(snap.TaskTypes, ", "))
	}
	if len(snap.Probes) > 0 {
		fmt.Fprintf(&b, "- **Probes:** %s\n", strings.Join(snap.Probes, ", "))
	}
	if snap.Truncated {
		b.WriteString("- **Truncated:** yes\n")
	}
	fmt.Fprintf(&b, "- **File:** `%s`\n\n", filepath.ToSlash(path))
	b.WriteString("```text\n")
	b.WriteString(strings.TrimRight(snap.Body, "\n"))
	b.WriteString("\n```\n")
	return b.String()
}

func newStateCmd(project *string) *cobra.Command {
	parent := &cobra.Command{
		Use:   "state",
		Short: "Maintain the stored workflow state",
	}
	compact := &cobra.Command{
		Use:   "compact",
		Short: "Forget completed workers outside active chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, closeAll, err := openProject(cmd.Context(), *project)
			if err != nil {
				return err
			}
			defer closeAll()
			removed, err := d.Engine().Compact(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d completed worker(s)\n", removed)
			return nil
		},
	}
	var yes bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Replace the stored state with an empty one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("state reset discards all workflow progress; pass --yes to confirm")
			}
			d, closeAll, err := openProject(cmd.Context(), *project)
			if err != nil {
				return err
			}
			defer closeAll()
			if err := d.Engine().Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Workflow state reset")
			return nil
		},
	}
	reset.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	parent.AddCommand(compact, reset)
	return parent
}
